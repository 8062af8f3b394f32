package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/auth"
	"github.com/mkravets/dialog-server/internal/core"
	"github.com/mkravets/dialog-server/internal/store"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

// APIHandlers provides the REST surface: account issuance plus the durable
// read/delete endpoints backing clients that are not connected live.
type APIHandlers struct {
	authService *auth.Service
	store       store.Store
	payloads    store.PayloadStore
	pipeline    *core.Pipeline
	log         *zerolog.Logger
}

// NewAPIHandlers creates the REST handler set.
func NewAPIHandlers(authService *auth.Service, st store.Store, payloads store.PayloadStore, pipeline *core.Pipeline, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		payloads:    payloads,
		pipeline:    pipeline,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=32"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversationView is a conversation as presented to its participant.
type ConversationView struct {
	ID          string         `json:"id"`
	OtherUser   *store.User    `json:"other_user"`
	LastMessage *store.Payload `json:"last_message"`
	UnreadCount int64          `json:"unread_count"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Register(c.Request.Context(), req.Email, req.Username, req.FullName, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		h.log.Error().Err(err).Str("email", req.Email).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("email", req.Email).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: user})
}

// ListUsers lists verified users excluding the caller.
// GET /api/users?search=
func (h *APIHandlers) ListUsers(c *gin.Context) {
	user := currentUser(c)

	users, err := h.store.ListVerified(c.Request.Context(), user.ID, c.Query("search"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// ListConversations lists the caller's conversations, most recently updated
// first, each with the other participant, the latest surviving payload and
// the unread count.
// GET /api/conversations
func (h *APIHandlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	convs, err := h.store.ListConversations(ctx, user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := h.conversationView(c, conv, user.ID)
		if err != nil {
			h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to build conversation view")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

// GetOrCreateConversation resolves the conversation with another user,
// creating it on first contact.
// GET|POST /api/conversations/:id (id = the other user's id)
func (h *APIHandlers) GetOrCreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	other, err := h.store.GetUserByID(ctx, c.Param("id"))
	if err != nil || !other.IsVerified {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}

	if c.Request.Method == http.MethodGet {
		// Lookup only: never create from a GET.
		convs, err := h.store.ListConversations(ctx, user.ID)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to list conversations")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		for _, conv := range convs {
			if conv.HasParticipant(other.ID) {
				view, err := h.conversationView(c, conv, user.ID)
				if err != nil {
					c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
					return
				}
				c.JSON(http.StatusOK, view)
				return
			}
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no conversation found"})
		return
	}

	conv, created, err := h.store.GetOrCreate(ctx, user.ID, other.ID)
	if err != nil {
		if errors.Is(err, store.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot create conversation with yourself"})
			return
		}
		h.log.Error().Err(err).Msg("failed to get or create conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	view, err := h.conversationView(c, conv, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, view)
}

// ListMessages returns a most-recent-first payload page for a conversation
// and marks messages addressed to the caller read.
// GET /api/conversations/:id/messages?limit=&offset=
func (h *APIHandlers) ListMessages(c *gin.Context) {
	user := currentUser(c)

	limit := queryInt(c, "limit", defaultMessagePageSize)
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}
	offset := queryInt(c, "offset", 0)

	payloads, err := h.pipeline.History(c.Request.Context(), user.ID, c.Param("id"), limit, offset)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
		case errors.Is(err, core.ErrAccessDenied):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		default:
			h.log.Error().Err(err).Msg("failed to list messages")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, payloads)
}

// DeleteMessage marks a message deleted and removes its payload. Sender only.
// DELETE /api/messages/:id
func (h *APIHandlers) DeleteMessage(c *gin.Context) {
	user := currentUser(c)

	if err := h.pipeline.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		switch {
		case errors.Is(err, core.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
		case errors.Is(err, core.ErrAccessDenied):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		default:
			h.log.Error().Err(err).Msg("failed to delete message")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

func (h *APIHandlers) conversationView(c *gin.Context, conv *store.Conversation, userID string) (ConversationView, error) {
	ctx := c.Request.Context()

	otherID, _ := conv.OtherParticipant(userID)
	other, err := h.store.GetUserByID(ctx, otherID)
	if err != nil {
		return ConversationView{}, err
	}

	var last *store.Payload
	recent, err := h.payloads.ListByConversation(ctx, conv.ID, 1, 0)
	if err != nil {
		// Degrade to a null last_message rather than failing the listing.
		h.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("failed to load last payload")
	} else if len(recent) > 0 {
		last = recent[0]
	}

	unread, err := h.store.UnreadCount(ctx, conv.ID, userID)
	if err != nil {
		return ConversationView{}, err
	}

	return ConversationView{
		ID:          conv.ID,
		OtherUser:   other,
		LastMessage: last,
		UnreadCount: unread,
		CreatedAt:   conv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   conv.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
