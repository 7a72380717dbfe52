package auth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/pkg/identityclient"
)

// fakeAuthSource captures the session's callback so tests can push
// auth-state notifications by hand.
type fakeAuthSource struct {
	cb           identityclient.AuthStateCallback
	unsubscribed bool
}

func (f *fakeAuthSource) SubscribeAuthState(cb identityclient.AuthStateCallback) identityclient.Unsubscribe {
	f.cb = cb
	return func() { f.unsubscribed = true }
}

func waitForState(t *testing.T, s *Session, want func(SessionState) bool) SessionState {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		state := s.Current()
		if want(state) {
			return state
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached expected state, last: %+v", state)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionHydratesOnSignIn(t *testing.T) {
	source := &fakeAuthSource{}
	resolver := newFakeResolver()
	resolver.profiles["uid-1"] = &domain.UserProfile{UID: "uid-1", Username: "alice"}

	session := NewSession(source, resolver, time.Second)
	defer session.Close()

	require.True(t, session.Current().Loading)

	source.cb(&domain.Identity{UID: "uid-1"})
	state := waitForState(t, session, func(s SessionState) bool { return s.User != nil })
	require.Equal(t, "alice", state.User.Username)
	require.False(t, state.Loading)
	require.NoError(t, state.Err)
}

func TestSessionClearsOnSignOut(t *testing.T) {
	source := &fakeAuthSource{}
	resolver := newFakeResolver()
	resolver.profiles["uid-1"] = &domain.UserProfile{UID: "uid-1", Username: "alice"}

	session := NewSession(source, resolver, time.Second)
	defer session.Close()

	source.cb(&domain.Identity{UID: "uid-1"})
	waitForState(t, session, func(s SessionState) bool { return s.User != nil })

	source.cb(nil)
	state := waitForState(t, session, func(s SessionState) bool { return s.User == nil && !s.Loading })
	require.NoError(t, state.Err)
}

func TestSessionKeepsStoreFailureApartFromSignedOut(t *testing.T) {
	source := &fakeAuthSource{}
	resolver := newFakeResolver()
	resolver.lookupErr = fmt.Errorf("store unavailable")

	session := NewSession(source, resolver, time.Second)
	defer session.Close()

	source.cb(&domain.Identity{UID: "uid-1"})
	state := waitForState(t, session, func(s SessionState) bool { return s.Err != nil })
	require.Nil(t, state.User)

	// A signed-in identity without a profile is mid-onboarding, not an error.
	resolver.mu.Lock()
	resolver.lookupErr = nil
	resolver.mu.Unlock()
	source.cb(&domain.Identity{UID: "uid-2"})
	state = waitForState(t, session, func(s SessionState) bool { return s.Err == nil && !s.Loading })
	require.Nil(t, state.User)
}

func TestSessionCloseUnsubscribes(t *testing.T) {
	source := &fakeAuthSource{}
	session := NewSession(source, newFakeResolver(), time.Second)

	session.Close()
	require.True(t, source.unsubscribed)
}
