package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mkravets/dialog-server/internal/store"
)

// DefaultTTL is how long payloads and conversation indexes live.
const DefaultTTL = 30 * 24 * time.Hour

// PayloadStore implements store.PayloadStore on Redis. Each payload lives
// under its own key with a TTL; a per-conversation sorted set scored by store
// time serves as the time-ordered index. The index may reference payloads
// that have since expired or been deleted; readers filter those out.
type PayloadStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewPayloadStore builds a payload store. ttl <= 0 falls back to DefaultTTL.
func NewPayloadStore(client *goredis.Client, ttl time.Duration) *PayloadStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PayloadStore{client: client, ttl: ttl}
}

func payloadKey(id string) string {
	return "message:" + id
}

func indexKey(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

// Put stores a fresh payload and appends it to the conversation index,
// refreshing the index TTL.
func (p *PayloadStore) Put(ctx context.Context, conversationID, senderID, receiverID, content string) (*store.Payload, error) {
	now := time.Now().UTC()
	payload := &store.Payload{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      now,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if err := p.client.Set(ctx, payloadKey(payload.ID), data, p.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	key := indexKey(conversationID)
	if err := p.client.ZAdd(ctx, key, goredis.Z{
		Score:  float64(now.UnixNano()) / float64(time.Second),
		Member: payload.ID,
	}).Err(); err != nil {
		return nil, fmt.Errorf("index payload: %w", err)
	}
	if err := p.client.Expire(ctx, key, p.ttl).Err(); err != nil {
		return nil, fmt.Errorf("refresh index ttl: %w", err)
	}

	return payload, nil
}

// Get retrieves a payload by id. Expired and never-existing ids are
// indistinguishable.
func (p *PayloadStore) Get(ctx context.Context, payloadID string) (*store.Payload, error) {
	data, err := p.client.Get(ctx, payloadKey(payloadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrPayloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload store.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// ListByConversation returns a most-recent-first page. Dangling index entries
// are skipped silently.
func (p *PayloadStore) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*store.Payload, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := p.client.ZRevRange(ctx, indexKey(conversationID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversation index: %w", err)
	}

	payloads := make([]*store.Payload, 0, len(ids))
	for _, id := range ids {
		payload, err := p.Get(ctx, id)
		if errors.Is(err, store.ErrPayloadNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Delete removes the payload and its index entry. Unknown ids are a no-op.
func (p *PayloadStore) Delete(ctx context.Context, payloadID string) error {
	payload, err := p.Get(ctx, payloadID)
	if errors.Is(err, store.ErrPayloadNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.client.Del(ctx, payloadKey(payloadID)).Err(); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	if err := p.client.ZRem(ctx, indexKey(payload.ConversationID), payloadID).Err(); err != nil {
		return fmt.Errorf("unindex payload: %w", err)
	}
	return nil
}
