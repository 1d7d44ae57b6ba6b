package realtime

import (
	"context"
	"sync"

	"github.com/voxlink/voxlink/internal/observability"
)

// Factory builds a fresh upstream client. Registry calls it once per client
// id so each end user gets a dedicated session.
type Factory func() (*Client, error)

// Registry owns the upstream session for each connected client id. Sessions
// are created lazily on first use and torn down when the client leaves.
type Registry struct {
	factory Factory
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*Client
}

func NewRegistry(factory Factory, metrics *observability.Metrics) *Registry {
	return &Registry{
		factory:  factory,
		metrics:  metrics,
		sessions: make(map[string]*Client),
	}
}

// Acquire returns the session for clientID, connecting a new one if none
// exists. created reports whether this call built the session, letting the
// caller register event handlers exactly once. The dial happens outside the
// registry lock so one client's slow handshake never stalls Peek for the
// rest of the fleet.
func (r *Registry) Acquire(ctx context.Context, clientID string) (client *Client, created bool, err error) {
	r.mu.Lock()
	if c, ok := r.sessions[clientID]; ok && c.Connected() {
		r.mu.Unlock()
		return c, false, nil
	}
	// A stale entry means the transport dropped; replace it.
	_, stale := r.sessions[clientID]
	if stale {
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()
	if stale {
		r.metrics.ObserveUpstreamReconnect()
	}

	c, err := r.factory()
	if err != nil {
		return nil, false, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[clientID]; ok && existing.Connected() {
		// Lost a race to a concurrent Acquire for the same client; keep the
		// session that registered first.
		r.mu.Unlock()
		c.Disconnect()
		return existing, false, nil
	}
	r.sessions[clientID] = c
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetUpstreamSessions(n)
	return c, true, nil
}

// Peek returns the live session for clientID without creating one.
func (r *Registry) Peek(clientID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[clientID]
	if !ok || !c.Connected() {
		return nil, false
	}
	return c, true
}

// Release disconnects and forgets the session for clientID. No-op when the
// client never started one.
func (r *Registry) Release(clientID string) {
	r.mu.Lock()
	c, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.Disconnect()
	r.metrics.SetUpstreamSessions(n)
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
