package core

import "errors"

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned for an unknown message or payload id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrAccessDenied is returned when the caller is not a participant of the
	// conversation, or not the sender of the message being deleted.
	ErrAccessDenied = errors.New("access denied")
)
