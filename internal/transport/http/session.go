package http

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/store"
)

// sendQueueSize bounds the per-connection outbound queue. The bus is not
// durable, so a consumer that cannot drain its queue loses events rather
// than stalling every other member of the group.
const sendQueueSize = 64

// session is one authenticated websocket connection. It is the bus
// subscriber side of the gateway: a single write loop drains queue, so
// events destined for this connection are observed in publish order.
type session struct {
	id    string
	user  *store.User
	queue chan []byte
	log   zerolog.Logger

	// closeOnce makes disconnect idempotent: groups are left and the
	// offline event is published exactly once.
	closeOnce sync.Once
}

func newSession(user *store.User, logger *zerolog.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:    id,
		user:  user,
		queue: make(chan []byte, sendQueueSize),
		log:   logger.With().Str("connection_id", id).Str("user_id", user.ID).Logger(),
	}
}

// Deliver implements bus.Subscriber. It never blocks.
func (s *session) Deliver(payload []byte) {
	select {
	case s.queue <- payload:
	default:
		s.log.Warn().Msg("send queue full, dropping event")
	}
}
