package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mkravets/dialog-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match, or a
	// bearer token does not resolve to a user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registering an already-taken email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned when the email doesn't meet constraints.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when the password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service issues and resolves bearer credentials against the user store.
type Service struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates an authentication service.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwtConfig: jwtConfig}
}

// Register creates a verified user and returns a signed credential.
func (s *Service) Register(ctx context.Context, email, username, fullName, password string) (string, *store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", nil, ErrInvalidEmail
	}
	if len(password) < 6 {
		return "", nil, ErrInvalidPassword
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return "", nil, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", nil, err
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		IsVerified:   true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// Login validates credentials and returns a signed credential.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// Resolve validates a bearer credential and loads the user it names. The
// gateway uses it to bind a connection to an authenticated user before any
// frame is exchanged.
func (s *Service) Resolve(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
