package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkravets/dialog-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createTestUser(t *testing.T, st *Store, username string) *store.User {
	t.Helper()
	u := &store.User{
		ID:           uuid.NewString(),
		Email:        username + "@example.com",
		Username:     username,
		FullName:     "Test " + username,
		PasswordHash: "x",
		IsVerified:   true,
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func TestGetUserByIDAndEmail(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")

	byID, err := st.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("got username %q", byID.Username)
	}

	byEmail, err := st.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != alice.ID {
		t.Fatalf("got id %q, want %q", byEmail.ID, alice.ID)
	}

	if _, err := st.GetUserByID(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListVerifiedExcludesCallerAndUnverified(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	createTestUser(t, st, "bob")
	unverified := &store.User{
		ID:       uuid.NewString(),
		Email:    "carol@example.com",
		Username: "carol",
	}
	if err := st.CreateUser(ctx, unverified); err != nil {
		t.Fatalf("create unverified: %v", err)
	}

	users, err := st.ListVerified(ctx, alice.ID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("unexpected users: %+v", users)
	}

	matched, err := st.ListVerified(ctx, alice.ID, "BOB")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("search matched %d users, want 1", len(matched))
	}

	none, err := st.ListVerified(ctx, alice.ID, "zrk")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("search matched %d users, want 0", len(none))
	}
}

func TestGetOrCreateIsOrderInsensitive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	first, created, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first get or create: %v", err)
	}
	if !created {
		t.Fatal("first contact should create the conversation")
	}

	second, created, err := st.GetOrCreate(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if created {
		t.Fatal("reversed pair should resolve the existing conversation")
	}
	if second.ID != first.ID {
		t.Fatalf("pair resolved to two conversations: %s and %s", first.ID, second.ID)
	}
}

func TestGetOrCreateLostRaceConvergesOnWinner(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	// A second handle on the same database stands in for another instance.
	other, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}

	a, b := store.CanonicalPair(alice.ID, bob.ID)
	winner := &store.Conversation{ID: uuid.NewString(), UserA: a, UserB: b}

	// Steal first contact between the lookup and the insert: right before
	// this handle creates its conversation row, the other instance lands
	// the winning row, forcing the duplicate-key retry path.
	stole := false
	err = db.Callback().Create().Before("gorm:create").Register("steal_first_contact", func(tx *gorm.DB) {
		if stole {
			return
		}
		if _, ok := tx.Statement.Dest.(*store.Conversation); !ok {
			return
		}
		stole = true
		if err := other.Create(winner).Error; err != nil {
			t.Errorf("winner insert: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	conv, created, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get or create after lost race: %v", err)
	}
	if !stole {
		t.Fatal("race was never induced")
	}
	if created {
		t.Fatal("loser reported created=true")
	}
	if conv.ID != winner.ID {
		t.Fatalf("loser got %s, want the winner's row %s", conv.ID, winner.ID)
	}

	var count int64
	if err := db.Model(&store.Conversation{}).Count(&count).Error; err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d conversation rows, want exactly 1", count)
	}
}

func TestGetOrCreateRejectsSelfConversation(t *testing.T) {
	st := newTestStore(t)
	alice := createTestUser(t, st, "alice")

	if _, _, err := st.GetOrCreate(context.Background(), alice.ID, alice.ID); !errors.Is(err, store.ErrSelfConversation) {
		t.Fatalf("got %v, want ErrSelfConversation", err)
	}
}

func TestTouchConversation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	conv, _, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if err := st.TouchConversation(ctx, conv.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	touched, err := st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if touched.UpdatedAt.Before(conv.UpdatedAt) {
		t.Fatal("updated_at went backwards")
	}

	if err := st.TouchConversation(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	carol := createTestUser(t, st, "carol")

	withBob, _, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	withCarol, _, err := st.GetOrCreate(ctx, alice.ID, carol.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if err := st.TouchConversation(ctx, withBob.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	convs, err := st.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != withBob.ID || convs[1].ID != withCarol.ID {
		t.Fatal("conversations not ordered by recency")
	}

	if other, err := st.ListConversations(ctx, carol.ID); err != nil || len(other) != 1 {
		t.Fatalf("carol: %v, %d conversations", err, len(other))
	}
}

func seedMessage(t *testing.T, st *Store, convID, senderID, receiverID string) *store.Message {
	t.Helper()
	m := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		PayloadRef:     uuid.NewString(),
	}
	if err := st.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m
}

func TestMarkConversationReadAndUnreadCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	conv, _, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	seedMessage(t, st, conv.ID, alice.ID, bob.ID)
	seedMessage(t, st, conv.ID, alice.ID, bob.ID)
	seedMessage(t, st, conv.ID, bob.ID, alice.ID)

	unread, err := st.UnreadCount(ctx, conv.ID, bob.ID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if unread != 2 {
		t.Fatalf("bob unread = %d, want 2", unread)
	}

	updated, err := st.MarkConversationRead(ctx, conv.ID, bob.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated != 2 {
		t.Fatalf("marked %d rows, want 2", updated)
	}

	if unread, _ = st.UnreadCount(ctx, conv.ID, bob.ID); unread != 0 {
		t.Fatalf("bob unread after mark = %d, want 0", unread)
	}
	if unread, _ = st.UnreadCount(ctx, conv.ID, alice.ID); unread != 1 {
		t.Fatalf("alice unread = %d, want 1", unread)
	}

	// Second pass finds nothing left to flip.
	if updated, err = st.MarkConversationRead(ctx, conv.ID, bob.ID); err != nil || updated != 0 {
		t.Fatalf("second mark: %v, %d rows", err, updated)
	}
}

func TestMarkDeleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	conv, _, err := st.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	m := seedMessage(t, st, conv.ID, alice.ID, bob.ID)

	if err := st.MarkDeleted(ctx, m.PayloadRef); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	got, err := st.GetMessageByPayloadRef(ctx, m.PayloadRef)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !got.IsDeleted {
		t.Fatal("message not marked deleted")
	}

	// Repeating is a no-op, unknown refs are distinct from deleted ones.
	if err := st.MarkDeleted(ctx, m.PayloadRef); err != nil {
		t.Fatalf("second mark deleted: %v", err)
	}
	if err := st.MarkDeleted(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if unread, _ := st.UnreadCount(ctx, conv.ID, bob.ID); unread != 0 {
		t.Fatalf("deleted message still counted unread: %d", unread)
	}
}
