package bus

import (
	"context"
	"sync"
)

// Memory is a single-process Bus. It backs tests and single-node deployments;
// multi-instance deployments use Redis.
type Memory struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

// NewMemory constructs an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{groups: make(map[string]map[Subscriber]struct{})}
}

// Join adds a subscriber to a group, creating the group on first join.
func (m *Memory) Join(group string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		m.groups[group] = members
	}
	members[sub] = struct{}{}
}

// Leave removes a subscriber, dropping the group when it empties.
func (m *Memory) Leave(group string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.groups[group]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(m.groups, group)
	}
}

// Publish delivers the payload to every current member of the group.
func (m *Memory) Publish(_ context.Context, group string, payload []byte) error {
	m.mu.RLock()
	members := make([]Subscriber, 0, len(m.groups[group]))
	for sub := range m.groups[group] {
		members = append(members, sub)
	}
	m.mu.RUnlock()

	for _, sub := range members {
		sub.Deliver(payload)
	}
	return nil
}

// Close is a no-op for the in-process bus.
func (m *Memory) Close() error {
	return nil
}
