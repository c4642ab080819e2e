package bus

import (
	"context"
	"sync"
)

// Loopback wires several in-process buses together, standing in for the
// cross-instance channel in tests and single-binary setups. Delivery is
// synchronous, which keeps tests deterministic.
type Loopback struct {
	mu        sync.Mutex
	endpoints []*loopbackEndpoint
}

func NewLoopback() *Loopback { return &Loopback{} }

// Endpoint returns a Transport joined to the loopback. Envelopes sent on one
// endpoint arrive at every other endpoint's dispatch.
func (l *Loopback) Endpoint() Transport {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep := &loopbackEndpoint{hub: l}
	l.endpoints = append(l.endpoints, ep)
	return ep
}

func (l *Loopback) fanOut(from *loopbackEndpoint, env Envelope) {
	l.mu.Lock()
	eps := make([]*loopbackEndpoint, len(l.endpoints))
	copy(eps, l.endpoints)
	l.mu.Unlock()
	for _, ep := range eps {
		if ep == from {
			continue
		}
		ep.mu.Lock()
		d := ep.dispatch
		ep.mu.Unlock()
		if d != nil {
			d(env)
		}
	}
}

type loopbackEndpoint struct {
	hub      *Loopback
	mu       sync.Mutex
	dispatch func(Envelope)
}

func (e *loopbackEndpoint) Send(ctx context.Context, env Envelope) {
	e.hub.fanOut(e, env)
}

func (e *loopbackEndpoint) Start(ctx context.Context, dispatch func(Envelope)) {
	e.mu.Lock()
	e.dispatch = dispatch
	e.mu.Unlock()
}

func (e *loopbackEndpoint) Close() {
	e.mu.Lock()
	e.dispatch = nil
	e.mu.Unlock()
}
