package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound frame types accepted from clients.
const (
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeStopTyping  = "stop_typing"
)

// Outbound frame types sent to clients.
const (
	TypeNewMessage     = "new_message"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypeUserOnline     = "user_online"
	TypeUserOffline    = "user_offline"
	TypeError          = "error"
)

var (
	// ErrMalformed marks frames that are not a JSON object or lack a type tag.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownType marks frames with an unrecognized type tag.
	ErrUnknownType = errors.New("unknown frame type")
)

// ValidationError marks a recognized frame missing a required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing required field: " + e.Field
}

// Frame is the closed union of inbound frames. Decoding happens exactly once
// at the connection boundary; everything past it switches on concrete types.
type Frame interface {
	frame()
}

// SendMessage asks to deliver content in a conversation.
type SendMessage struct {
	ConversationID string
	Content        string
}

// Typing signals that the sender started typing in a conversation.
type Typing struct {
	ConversationID string
}

// StopTyping signals that the sender stopped typing in a conversation.
type StopTyping struct {
	ConversationID string
}

func (SendMessage) frame() {}
func (Typing) frame()      {}
func (StopTyping) frame()  {}

type envelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Decode parses one client frame into the closed union.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeSendMessage:
		if env.ConversationID == "" {
			return nil, &ValidationError{Field: "conversation_id"}
		}
		if env.Content == "" {
			return nil, &ValidationError{Field: "content"}
		}
		return SendMessage{ConversationID: env.ConversationID, Content: env.Content}, nil
	case TypeTyping:
		// A missing conversation id is dropped downstream, silently, like
		// every other typing failure.
		return Typing{ConversationID: env.ConversationID}, nil
	case TypeStopTyping:
		return StopTyping{ConversationID: env.ConversationID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// MessageView is the full message representation carried by new_message
// frames and returned from the send pipeline.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewMessage announces an accepted message to both participants' groups.
type NewMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Message        MessageView `json:"message"`
}

// UserData is the minimal profile attached to presence events.
type UserData struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Username   string `json:"username"`
	IsVerified bool   `json:"is_verified"`
}

// UserOnline is broadcast to the presence group on connect.
type UserOnline struct {
	Type     string   `json:"type"`
	UserID   string   `json:"user_id"`
	UserData UserData `json:"user_data"`
}

// UserOffline is broadcast to the presence group on disconnect.
type UserOffline struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserTyping is forwarded to the other participant only.
type UserTyping struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
}

// UserStopTyping is forwarded to the other participant only.
type UserStopTyping struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ErrorFrame reports a non-fatal failure back on the offending connection.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
