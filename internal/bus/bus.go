package bus

import "context"

// Subscriber receives raw event payloads for one connection. Deliver must not
// block; implementations typically enqueue into a buffered per-connection
// queue and drop when the consumer cannot keep up.
type Subscriber interface {
	Deliver(payload []byte)
}

// Bus is named-group publish/subscribe. Groups are created implicitly on
// first join and vanish when their last member leaves. Publishing carries no
// durability: an event published while nobody is joined is simply lost.
type Bus interface {
	// Join adds a subscriber to a group.
	Join(group string, sub Subscriber)

	// Leave removes a subscriber from a group. Leaving a group the subscriber
	// never joined is a no-op.
	Leave(group string, sub Subscriber)

	// Publish delivers the payload to every subscriber currently joined to
	// the group, on every running instance.
	Publish(ctx context.Context, group string, payload []byte) error

	// Close shuts the bus down. Pending deliveries may be dropped.
	Close() error
}
