package auth

import (
	"context"

	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/internal/store"
)

// Resolver is the profile resolver: it binds the user repository to the
// exchange and routing key the user.created event is published under, so
// flow and session code never deal in broker topology.
type Resolver struct {
	repo       store.UserRepository
	exchange   string
	routingKey string
}

// NewResolver creates a resolver publishing user.created under the given
// exchange and routing key.
func NewResolver(repo store.UserRepository, exchange, routingKey string) *Resolver {
	return &Resolver{repo: repo, exchange: exchange, routingKey: routingKey}
}

// Lookup finds the profile for a verified identity. domain.ErrNotFound means
// the user has never completed onboarding.
func (r *Resolver) Lookup(ctx context.Context, uid string) (*domain.UserProfile, error) {
	return r.repo.LookupProfile(ctx, uid)
}

// Create writes a new profile. domain.ErrUsernameTaken reports a collision;
// no writes are performed in that case.
func (r *Resolver) Create(ctx context.Context, uid, username, displayName string) (*domain.UserProfile, error) {
	return r.repo.CreateProfile(ctx, uid, username, displayName, r.exchange, r.routingKey)
}
