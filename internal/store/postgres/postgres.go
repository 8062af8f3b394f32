package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mkravets/dialog-server/internal/store"
)

// Store implements store.Store on a relational database through GORM.
type Store struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection and runs migrations.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing GORM handle and runs migrations. Tests use it
// with an in-memory SQLite database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&store.User{}, &store.Conversation{}, &store.Message{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var u store.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListVerified lists verified users excluding excludeID, optionally filtered
// by a case-insensitive search over email, username and full name.
func (s *Store) ListVerified(ctx context.Context, excludeID, search string) ([]*store.User, error) {
	q := s.db.WithContext(ctx).
		Where("is_verified = ?", true).
		Where("id <> ?", excludeID)

	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.Where(
			"LOWER(email) LIKE ? OR LOWER(username) LIKE ? OR LOWER(full_name) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	var users []*store.User
	if err := q.Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetOrCreate resolves the canonical conversation for an unordered user pair.
// A lost first-contact race surfaces as a duplicate key error, after which the
// winner's row is re-read.
func (s *Store) GetOrCreate(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if userA == userB {
		return nil, false, store.ErrSelfConversation
	}
	a, b := store.CanonicalPair(userA, userB)

	for attempt := 0; attempt < 2; attempt++ {
		var conv store.Conversation
		err := s.db.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).First(&conv).Error
		if err == nil {
			return &conv, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("lookup conversation: %w", err)
		}

		conv = store.Conversation{ID: uuid.NewString(), UserA: a, UserB: b}
		err = s.db.WithContext(ctx).Create(&conv).Error
		if err == nil {
			return &conv, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("create conversation: %w", err)
		}
	}
	return nil, false, fmt.Errorf("conversation pair (%s, %s): retry exhausted", a, b)
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations lists a user's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	var convs []*store.Conversation
	err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// TouchConversation bumps updated_at to now.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Model(&store.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateMessage appends a metadata row.
func (s *Store) CreateMessage(ctx context.Context, m *store.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetMessageByPayloadRef retrieves the metadata row referencing a payload id.
func (s *Store) GetMessageByPayloadRef(ctx context.Context, payloadRef string) (*store.Message, error) {
	var m store.Message
	err := s.db.WithContext(ctx).Where("payload_ref = ?", payloadRef).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// MarkConversationRead flips is_read on every unread message addressed to
// receiverID in the conversation. The flag never resets back to false.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, receiverID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&store.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, receiverID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkDeleted flips is_deleted on the row referencing payloadRef. Marking an
// already deleted message again is a no-op.
func (s *Store) MarkDeleted(ctx context.Context, payloadRef string) error {
	res := s.db.WithContext(ctx).
		Model(&store.Message{}).
		Where("payload_ref = ? AND is_deleted = ?", payloadRef, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("mark deleted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&store.Message{}).Where("payload_ref = ?", payloadRef).Count(&count).Error; err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
		if count == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}

// UnreadCount counts live unread messages addressed to receiverID in the conversation.
func (s *Store) UnreadCount(ctx context.Context, conversationID, receiverID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&store.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ? AND is_deleted = ?",
			conversationID, receiverID, false, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
