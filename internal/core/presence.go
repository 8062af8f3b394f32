package core

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/bus"
	"github.com/mkravets/dialog-server/internal/proto"
	"github.com/mkravets/dialog-server/internal/store"
)

// Presence broadcasts ephemeral, non-persisted events: online/offline to the
// global presence group and typing indicators to the other participant.
//
// There is no durable registry of who is online. A connection that joins
// after an online event was broadcast only learns about that user through
// future events. That is a known limitation of the pure-broadcast model, not
// something this layer papers over.
type Presence struct {
	conversations store.ConversationStore
	bus           bus.Bus
	log           *zerolog.Logger
}

// NewPresence builds the presence and typing broadcaster.
func NewPresence(conversations store.ConversationStore, b bus.Bus, logger *zerolog.Logger) *Presence {
	return &Presence{conversations: conversations, bus: b, log: logger}
}

// Online announces the user to the presence group with a minimal profile.
func (p *Presence) Online(ctx context.Context, user *store.User) {
	p.publish(ctx, PresenceGroup, proto.UserOnline{
		Type:   proto.TypeUserOnline,
		UserID: user.ID,
		UserData: proto.UserData{
			ID:         user.ID,
			Email:      user.Email,
			FullName:   user.FullName,
			Username:   user.Username,
			IsVerified: user.IsVerified,
		},
	})
}

// Offline announces that the user disconnected.
func (p *Presence) Offline(ctx context.Context, userID string) {
	p.publish(ctx, PresenceGroup, proto.UserOffline{
		Type:   proto.TypeUserOffline,
		UserID: userID,
	})
}

// Typing forwards a typing indicator to the other participant's group only,
// never echoing to the sender. Every failure is silent: answering a typing
// frame with an error would leak whether the conversation exists and who is
// in it.
func (p *Presence) Typing(ctx context.Context, userID, userName, conversationID string) {
	other, ok := p.otherParticipant(ctx, userID, conversationID)
	if !ok {
		return
	}
	p.publish(ctx, UserGroup(other), proto.UserTyping{
		Type:           proto.TypeUserTyping,
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       userName,
	})
}

// StopTyping forwards the matching stop indicator, with the same silent
// failure contract as Typing.
func (p *Presence) StopTyping(ctx context.Context, userID, conversationID string) {
	other, ok := p.otherParticipant(ctx, userID, conversationID)
	if !ok {
		return
	}
	p.publish(ctx, UserGroup(other), proto.UserStopTyping{
		Type:           proto.TypeUserStopTyping,
		ConversationID: conversationID,
		UserID:         userID,
	})
}

func (p *Presence) otherParticipant(ctx context.Context, userID, conversationID string) (string, bool) {
	conv, err := p.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return "", false
	}
	return conv.OtherParticipant(userID)
}

func (p *Presence) publish(ctx context.Context, group string, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		p.log.Error().Err(err).Str("group", group).Msg("marshal presence frame")
		return
	}
	if err := p.bus.Publish(ctx, group, payload); err != nil {
		p.log.Warn().Err(err).Str("group", group).Msg("presence publish failed")
	}
}
