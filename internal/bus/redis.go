package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "fanout:"

// Redis is a Bus backed by Redis pub/sub, so groups span every gateway
// instance sharing the same Redis. Each instance keeps a local registry of
// its own subscribers and holds a Redis subscription for exactly the groups
// that have local members. Deliveries always flow through the pub/sub
// listener, including for publishes that originated locally, so every joined
// connection sees one delivery per publish.
type Redis struct {
	client *goredis.Client
	pubsub *goredis.PubSub
	log    *zerolog.Logger

	mu     sync.Mutex
	groups map[string]map[Subscriber]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis builds a Redis-backed bus and starts its listener.
func NewRedis(client *goredis.Client, logger *zerolog.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client: client,
		pubsub: client.Subscribe(ctx),
		log:    logger,
		groups: make(map[string]map[Subscriber]struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.listen()
	return r
}

// Join adds a subscriber, opening the Redis subscription on the group's first
// local member.
func (r *Redis) Join(group string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		r.groups[group] = members
		if err := r.pubsub.Subscribe(r.ctx, channelPrefix+group); err != nil {
			r.log.Error().Err(err).Str("group", group).Msg("subscribe group channel")
		}
	}
	members[sub] = struct{}{}
}

// Leave removes a subscriber, closing the Redis subscription when the last
// local member is gone.
func (r *Redis) Leave(group string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(r.groups, group)
		if err := r.pubsub.Unsubscribe(r.ctx, channelPrefix+group); err != nil {
			r.log.Warn().Err(err).Str("group", group).Msg("unsubscribe group channel")
		}
	}
}

// Publish broadcasts the payload to the group's channel. Local members
// receive it through the listener like everyone else.
func (r *Redis) Publish(ctx context.Context, group string, payload []byte) error {
	if err := r.client.Publish(ctx, channelPrefix+group, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", group, err)
	}
	return nil
}

// Close stops the listener and drops the Redis subscription.
func (r *Redis) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	<-r.done
	return err
}

func (r *Redis) listen() {
	defer close(r.done)

	for msg := range r.pubsub.Channel() {
		group := strings.TrimPrefix(msg.Channel, channelPrefix)
		payload := []byte(msg.Payload)

		r.mu.Lock()
		members := make([]Subscriber, 0, len(r.groups[group]))
		for sub := range r.groups[group] {
			members = append(members, sub)
		}
		r.mu.Unlock()

		for _, sub := range members {
			sub.Deliver(payload)
		}
	}
}
