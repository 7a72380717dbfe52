package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/pkg/identityclient"
)

// AuthStateSource is the subscription surface of the identity client.
type AuthStateSource interface {
	SubscribeAuthState(cb identityclient.AuthStateCallback) identityclient.Unsubscribe
}

// SessionState is the snapshot the rest of the application reads: the
// hydrated profile of the signed-in user, or nil. Err is set when an
// identity exists but its profile could not be fetched; that is a store
// failure, not "signed out", and the two are kept apart deliberately.
type SessionState struct {
	User    *domain.UserProfile
	Loading bool
	Err     error
}

// Session observes identity-provider auth-state changes (sign-in, sign-out,
// token refresh) and keeps the current profile hydrated. It is constructed
// once in main and handed to whoever needs it; only its own goroutine
// writes the state. Close unsubscribes and stops the writer.
type Session struct {
	resolver    ProfileResolver
	callTimeout time.Duration

	mu    sync.RWMutex
	state SessionState

	changes     chan *domain.Identity
	unsubscribe identityclient.Unsubscribe
	stop        chan struct{}
	done        chan struct{}
}

// NewSession subscribes to the source and starts the single writer. The
// session starts in the loading state until the first notification lands.
func NewSession(source AuthStateSource, resolver ProfileResolver, callTimeout time.Duration) *Session {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	s := &Session{
		resolver:    resolver,
		callTimeout: callTimeout,
		state:       SessionState{Loading: true},
		changes:     make(chan *domain.Identity, 16),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.unsubscribe = source.SubscribeAuthState(func(identity *domain.Identity) {
		select {
		case s.changes <- identity:
		case <-s.stop:
		}
	})
	go s.run()
	return s
}

// Current returns a copy of the session state.
func (s *Session) Current() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close unsubscribes from the source and waits for the writer to exit.
// Intended for application shutdown only.
func (s *Session) Close() {
	s.unsubscribe()
	close(s.stop)
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case identity := <-s.changes:
			s.apply(identity)
		}
	}
}

func (s *Session) apply(identity *domain.Identity) {
	if identity == nil {
		s.set(SessionState{})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	profile, err := s.resolver.Lookup(ctx, identity.UID)
	switch {
	case err == nil:
		s.set(SessionState{User: profile})
	case errors.Is(err, domain.ErrNotFound):
		// Verified identity mid-onboarding: signed in to the provider but
		// no profile yet. Not an error.
		log.Printf("Warning: identity %s has no profile yet", identity.UID)
		s.set(SessionState{})
	default:
		log.Printf("Warning: failed to hydrate profile for identity %s: %v", identity.UID, err)
		s.set(SessionState{Err: err})
	}
}

func (s *Session) set(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
