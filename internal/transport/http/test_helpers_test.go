package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/auth"
	"github.com/mkravets/dialog-server/internal/bus"
	"github.com/mkravets/dialog-server/internal/config"
	"github.com/mkravets/dialog-server/internal/core"
	"github.com/mkravets/dialog-server/internal/store"
)

// memStore is an in-memory store.Store for handler tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	convs    map[string]*store.Conversation
	messages map[string]*store.Message
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*store.User),
		convs:    make(map[string]*store.Conversation),
		messages: make(map[string]*store.Message),
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListVerified(_ context.Context, excludeID, _ string) ([]*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.User
	for _, u := range m.users {
		if u.ID != excludeID && u.IsVerified {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) GetOrCreate(_ context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if userA == userB {
		return nil, false, store.ErrSelfConversation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b := store.CanonicalPair(userA, userB)
	for _, conv := range m.convs {
		if conv.UserA == a && conv.UserB == b {
			return conv, false, nil
		}
	}
	now := time.Now().UTC()
	conv := &store.Conversation{ID: uuid.NewString(), UserA: a, UserB: b, CreatedAt: now, UpdatedAt: now}
	m.convs[conv.ID] = conv
	return conv, true, nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (m *memStore) ListConversations(_ context.Context, userID string) ([]*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Conversation
	for _, conv := range m.convs {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) TouchConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.PayloadRef] = msg
	return nil
}

func (m *memStore) GetMessageByPayloadRef(_ context.Context, payloadRef string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[payloadRef]
	if !ok {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (m *memStore) MarkConversationRead(_ context.Context, conversationID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ReceiverID == receiverID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkDeleted(_ context.Context, payloadRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[payloadRef]
	if !ok {
		return store.ErrNotFound
	}
	msg.IsDeleted = true
	return nil
}

func (m *memStore) UnreadCount(_ context.Context, conversationID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ReceiverID == receiverID && !msg.IsRead && !msg.IsDeleted {
			n++
		}
	}
	return n, nil
}

// memPayloads is an in-memory store.PayloadStore for handler tests.
type memPayloads struct {
	mu        sync.Mutex
	byID      map[string]*store.Payload
	order     []string
	lastLimit int
}

func newMemPayloads() *memPayloads {
	return &memPayloads{byID: make(map[string]*store.Payload)}
}

func (m *memPayloads) Put(_ context.Context, conversationID, senderID, receiverID, content string) (*store.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &store.Payload{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
	m.byID[p.ID] = p
	m.order = append(m.order, p.ID)
	return p, nil
}

func (m *memPayloads) Get(_ context.Context, payloadID string) (*store.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[payloadID]
	if !ok {
		return nil, store.ErrPayloadNotFound
	}
	return p, nil
}

func (m *memPayloads) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]*store.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []*store.Payload
	for i := len(m.order) - 1; i >= 0; i-- {
		p, ok := m.byID[m.order[i]]
		if !ok || p.ConversationID != conversationID {
			continue
		}
		out = append(out, p)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPayloads) Delete(_ context.Context, payloadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, payloadID)
	return nil
}

type testEnv struct {
	ts       *httptest.Server
	store    *memStore
	payloads *memPayloads
	auth     *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := newMemStore()
	payloads := newMemPayloads()
	fanout := bus.NewMemory()
	logger := zerolog.Nop()

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "dialog-server",
		Audience: "dialog-client",
		TTL:      time.Hour,
	})
	pipeline := core.NewPipeline(st, st, payloads, fanout, &logger)
	presence := core.NewPresence(st, fanout, &logger)

	api := NewAPIHandlers(authService, st, payloads, pipeline, &logger)
	ws := NewWSHandler(fanout, pipeline, presence, authService, &logger)

	server := NewServer(config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, api, ws, authService, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, payloads: payloads, auth: authService}
}

// registerUser creates an account directly and returns it with a valid token.
func (e *testEnv) registerUser(t *testing.T, username string) (*store.User, string) {
	t.Helper()
	token, user, err := e.auth.Register(context.Background(), username+"@example.com", username, "Test "+username, "secret1")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user, token
}

func decodeBody(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode response %q: %v", data, err)
	}
}
