package realtime

import (
	"context"
	"sync"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
)

// MemoryBus is an in-process change feed and side channel. Delivery is
// synchronous and in publish order, which is exactly what candidate
// ordering tests need.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	callSubs map[domain.CallID]map[int]func(ports.RowEvent)
	recvSubs map[domain.UserID]map[int]func(ports.RowEvent)
	sigSubs  map[domain.CallID]map[int]func(domain.SignalEnvelope)
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		callSubs: make(map[domain.CallID]map[int]func(ports.RowEvent)),
		recvSubs: make(map[domain.UserID]map[int]func(ports.RowEvent)),
		sigSubs:  make(map[domain.CallID]map[int]func(domain.SignalEnvelope)),
	}
}

// PublishRow fans a row mutation out to per-call subscribers and, for
// inserts, to the receiver's inbound feed.
func (b *MemoryBus) PublishRow(_ context.Context, kind string, call *domain.Call) {
	b.mu.RLock()
	var handlers []func(ports.RowEvent)
	for _, h := range b.callSubs[call.ID] {
		handlers = append(handlers, h)
	}
	if kind == "insert" {
		for _, h := range b.recvSubs[call.ReceiverID] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	event := ports.RowEvent{Kind: kind, Call: call}
	for _, h := range handlers {
		h(event)
	}
}

func (b *MemoryBus) SubscribeCall(_ context.Context, callID domain.CallID, handler func(ports.RowEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.callSubs[callID] == nil {
		b.callSubs[callID] = make(map[int]func(ports.RowEvent))
	}
	id := b.nextID
	b.nextID++
	b.callSubs[callID][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.callSubs[callID], id)
	}, nil
}

func (b *MemoryBus) SubscribeReceiver(_ context.Context, receiver domain.UserID, handler func(ports.RowEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.recvSubs[receiver] == nil {
		b.recvSubs[receiver] = make(map[int]func(ports.RowEvent))
	}
	id := b.nextID
	b.nextID++
	b.recvSubs[receiver][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.recvSubs[receiver], id)
	}, nil
}

func (b *MemoryBus) Publish(_ context.Context, env domain.SignalEnvelope) error {
	b.mu.RLock()
	var handlers []func(domain.SignalEnvelope)
	for _, h := range b.sigSubs[env.CallID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, callID domain.CallID, handler func(domain.SignalEnvelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sigSubs[callID] == nil {
		b.sigSubs[callID] = make(map[int]func(domain.SignalEnvelope))
	}
	id := b.nextID
	b.nextID++
	b.sigSubs[callID][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.sigSubs[callID], id)
	}, nil
}

var (
	_ ports.RowPublisher = (*MemoryBus)(nil)
	_ ports.ChangeFeed   = (*MemoryBus)(nil)
	_ ports.SideChannel  = (*MemoryBus)(nil)
)
