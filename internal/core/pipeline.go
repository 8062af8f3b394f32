package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/bus"
	"github.com/mkravets/dialog-server/internal/proto"
	"github.com/mkravets/dialog-server/internal/store"
)

// Pipeline orchestrates a message send across the payload store, the
// metadata store and the fanout bus. The two stores are deliberately not
// written atomically: a payload whose metadata write fails is an orphan left
// to expire via its TTL, never rolled back.
type Pipeline struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	payloads      store.PayloadStore
	bus           bus.Bus
	log           *zerolog.Logger
}

// NewPipeline wires the pipeline with explicit store interfaces so tests can
// inject in-memory fakes and fail individual steps.
func NewPipeline(conversations store.ConversationStore, messages store.MessageStore, payloads store.PayloadStore, b bus.Bus, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{
		conversations: conversations,
		messages:      messages,
		payloads:      payloads,
		bus:           b,
		log:           logger,
	}
}

// Send validates the request, persists the payload and its metadata, touches
// the conversation and fans the message out to both participants' groups,
// the sender's own included so all of the sender's devices echo it.
//
// Failures before the payload write abort with no side effects. A metadata
// write failure leaves the payload orphaned until TTL expiry. Publish
// failures never fail an already persisted send; the bus is not durable and
// offline recovery goes through the stores.
func (p *Pipeline) Send(ctx context.Context, senderID, conversationID, content string) (*proto.MessageView, error) {
	conv, err := p.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	receiverID, ok := conv.OtherParticipant(senderID)
	if !ok {
		return nil, ErrAccessDenied
	}

	// Past validation the send is accepted: a caller disconnect must not
	// abort writes already in flight, so the persist and publish phase runs
	// detached from the connection's lifetime.
	ctx = context.WithoutCancel(ctx)

	payload, err := p.payloads.Put(ctx, conversationID, senderID, receiverID, content)
	if err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	meta := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		PayloadRef:     payload.ID,
		CreatedAt:      payload.Timestamp,
	}
	if err := p.messages.CreateMessage(ctx, meta); err != nil {
		p.log.Warn().
			Str("payload_id", payload.ID).
			Str("conversation_id", conversationID).
			Err(err).
			Msg("metadata write failed, payload orphaned until ttl expiry")
		return nil, fmt.Errorf("store message metadata: %w", err)
	}

	if err := p.conversations.TouchConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	view := proto.MessageView{
		ID:             payload.ID,
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      payload.Timestamp,
	}
	frame, err := json.Marshal(proto.NewMessage{
		Type:           proto.TypeNewMessage,
		ConversationID: conversationID,
		Message:        view,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal new_message: %w", err)
	}

	for _, group := range []string{UserGroup(senderID), UserGroup(receiverID)} {
		if err := p.bus.Publish(ctx, group, frame); err != nil {
			p.log.Error().Err(err).Str("group", group).Str("payload_id", payload.ID).Msg("fanout publish failed")
		}
	}

	return &view, nil
}

// History returns a most-recent-first page of payloads for a conversation the
// caller participates in, and marks messages addressed to the caller as read.
func (p *Pipeline) History(ctx context.Context, userID, conversationID string, limit, offset int) ([]*store.Payload, error) {
	conv, err := p.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrAccessDenied
	}

	payloads, err := p.payloads.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}

	if _, err := p.messages.MarkConversationRead(ctx, conversationID, userID); err != nil {
		p.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read failed")
	}

	return payloads, nil
}

// Delete marks the metadata row deleted and removes the payload. Only the
// sender may delete a message. Deletion is not reversible; the metadata row
// itself is kept.
func (p *Pipeline) Delete(ctx context.Context, userID, payloadID string) error {
	meta, err := p.messages.GetMessageByPayloadRef(ctx, payloadID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("load message metadata: %w", err)
	}
	if meta.SenderID != userID {
		return ErrAccessDenied
	}

	if err := p.messages.MarkDeleted(ctx, payloadID); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if err := p.payloads.Delete(ctx, payloadID); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}
