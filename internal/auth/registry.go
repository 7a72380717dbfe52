package auth

import (
	"context"
	"sync"
	"time"

	"github.com/down/down-service/internal/domain"
)

// Registry holds live verification flows keyed by flow id. Flows that have
// neither finished nor been touched within the TTL are swept out; their
// Redis-held handles expire on their own.
type Registry struct {
	idp         IdentityAPI
	handles     HandleStore
	resolver    ProfileResolver
	callTimeout time.Duration
	ttl         time.Duration

	mu    sync.Mutex
	flows map[string]*registryEntry
}

type registryEntry struct {
	flow     *Flow
	lastSeen time.Time
}

// NewRegistry creates a flow registry. ttl bounds how long an idle flow is
// kept alive.
func NewRegistry(idp IdentityAPI, handles HandleStore, resolver ProfileResolver, callTimeout, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Registry{
		idp:         idp,
		handles:     handles,
		resolver:    resolver,
		callTimeout: callTimeout,
		ttl:         ttl,
		flows:       make(map[string]*registryEntry),
	}
}

// Create starts a new flow and registers it.
func (r *Registry) Create() *Flow {
	flow := NewFlow(r.idp, r.handles, r.resolver, r.callTimeout)
	r.mu.Lock()
	r.flows[flow.ID] = &registryEntry{flow: flow, lastSeen: time.Now()}
	r.mu.Unlock()
	return flow
}

// Get returns a registered flow, refreshing its idle timer.
func (r *Registry) Get(id string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.flows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	entry.lastSeen = time.Now()
	return entry.flow, nil
}

// Remove drops a flow, typically once it has authenticated.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.flows, id)
	r.mu.Unlock()
}

// Sweep runs until ctx is done, dropping idle and finished flows.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(time.Now())
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.flows {
		if now.Sub(entry.lastSeen) > r.ttl {
			delete(r.flows, id)
		}
	}
}
