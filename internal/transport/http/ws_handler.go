package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/bus"
	"github.com/mkravets/dialog-server/internal/core"
	"github.com/mkravets/dialog-server/internal/proto"
	"github.com/mkravets/dialog-server/internal/store"
)

// CredentialResolver resolves an opaque bearer credential to the user it
// names. The gateway only depends on this interface; credential issuance
// lives elsewhere.
type CredentialResolver interface {
	Resolve(ctx context.Context, token string) (*store.User, error)
}

// WSHandler is the connection gateway: it binds an authenticated user to a
// long-lived websocket, joins the user and presence groups, and bridges
// inbound frames to the pipeline and the presence broadcaster.
type WSHandler struct {
	bus      bus.Bus
	pipeline *core.Pipeline
	presence *core.Presence
	creds    CredentialResolver
	log      *zerolog.Logger
}

// NewWSHandler builds the websocket gateway handler.
func NewWSHandler(b bus.Bus, pipeline *core.Pipeline, presence *core.Presence, creds CredentialResolver, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		bus:      b,
		pipeline: pipeline,
		presence: presence,
		creds:    creds,
		log:      logger,
	}
}

// Serve handles GET /ws/chat/:id. The credential must resolve to exactly the
// claimed user; otherwise the connection is rejected before the websocket
// handshake, with no frame ever sent on the untrusted channel.
func (h *WSHandler) Serve(c *gin.Context) {
	claimedID := c.Param("id")

	user, err := h.creds.Resolve(c.Request.Context(), c.Query("token"))
	if err != nil || user.ID != claimedID {
		c.AbortWithStatus(stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess := newSession(user, h.log)
	h.bus.Join(core.UserGroup(user.ID), sess)
	h.bus.Join(core.PresenceGroup, sess)
	h.presence.Online(ctx, user)
	defer h.disconnect(sess)

	sess.log.Info().Msg("connection established")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			sess.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// disconnect leaves all joined groups and announces the user offline. Safe to
// call more than once.
func (h *WSHandler) disconnect(sess *session) {
	sess.closeOnce.Do(func() {
		h.bus.Leave(core.UserGroup(sess.user.ID), sess)
		h.bus.Leave(core.PresenceGroup, sess)
		// The request context is gone by now; the offline event still has to go out.
		h.presence.Offline(context.Background(), sess.user.ID)
		sess.log.Info().Msg("connection closed")
	})
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		frame, err := proto.Decode(data)
		if err != nil {
			// Non-fatal: answer with an error frame and keep reading.
			sess.Deliver(errorFrame(decodeErrorMessage(err)))
			continue
		}

		h.dispatch(ctx, sess, frame)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		select {
		case payload := <-sess.queue:
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch routes one decoded frame. Frames are handled sequentially per
// connection, which is what gives a single sender its per-conversation
// append order.
func (h *WSHandler) dispatch(ctx context.Context, sess *session, frame proto.Frame) {
	switch f := frame.(type) {
	case proto.SendMessage:
		if _, err := h.pipeline.Send(ctx, sess.user.ID, f.ConversationID, f.Content); err != nil {
			sess.Deliver(errorFrame(sendErrorMessage(err)))
		}
	case proto.Typing:
		h.presence.Typing(ctx, sess.user.ID, sess.user.FullName, f.ConversationID)
	case proto.StopTyping:
		h.presence.StopTyping(ctx, sess.user.ID, f.ConversationID)
	}
}

func errorFrame(msg string) []byte {
	payload, _ := json.Marshal(proto.ErrorFrame{Type: proto.TypeError, Error: msg})
	return payload
}

func decodeErrorMessage(err error) string {
	var validation *proto.ValidationError
	switch {
	case errors.As(err, &validation):
		return "Missing conversation_id or content"
	case errors.Is(err, proto.ErrUnknownType):
		return "Unknown message type"
	default:
		return "Invalid JSON"
	}
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrConversationNotFound):
		return "Conversation not found"
	case errors.Is(err, core.ErrAccessDenied):
		return "Access denied"
	default:
		return "Failed to send message"
	}
}
