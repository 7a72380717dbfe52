package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/pkg/identityclient"
)

// fakeIdentityAPI mimics the provider's handle semantics: only the most
// recently issued handle confirms, and only with the expected code.
type fakeIdentityAPI struct {
	mu           sync.Mutex
	issued       int
	latestHandle string
	code         string
	identity     domain.Identity
	requestCalls int
	confirmCalls int
	requestErr   error
}

func (f *fakeIdentityAPI) RequestCode(ctx context.Context, phone, botToken string) (identityclient.ConfirmationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCalls++
	if f.requestErr != nil {
		return "", f.requestErr
	}
	f.issued++
	f.latestHandle = fmt.Sprintf("handle-%d", f.issued)
	return identityclient.ConfirmationHandle(f.latestHandle), nil
}

func (f *fakeIdentityAPI) ConfirmCode(ctx context.Context, handle identityclient.ConfirmationHandle, code string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if string(handle) != f.latestHandle {
		return nil, domain.ErrHandleConsumed
	}
	if code != f.code {
		return nil, domain.ErrCodeRejected
	}
	identity := f.identity
	return &identity, nil
}

// memHandleStore is an in-memory stand-in for the Redis handle store with
// the same overwrite-on-put, delete-on-consume contract.
type memHandleStore struct {
	mu      sync.Mutex
	handles map[string]string
}

func newMemHandleStore() *memHandleStore {
	return &memHandleStore{handles: map[string]string{}}
}

func (s *memHandleStore) Put(ctx context.Context, flowID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[flowID] = handle
	return nil
}

func (s *memHandleStore) Consume(ctx context.Context, flowID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[flowID]
	if !ok {
		return "", domain.ErrHandleConsumed
	}
	delete(s.handles, flowID)
	return handle, nil
}

type fakeResolver struct {
	mu            sync.Mutex
	profiles      map[string]*domain.UserProfile
	lookupErr     error
	lookupGate    chan struct{}
	lookupEntered chan struct{}
	enteredOnce   sync.Once
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{profiles: map[string]*domain.UserProfile{}}
}

func (r *fakeResolver) Lookup(ctx context.Context, uid string) (*domain.UserProfile, error) {
	if r.lookupGate != nil {
		r.enteredOnce.Do(func() { close(r.lookupEntered) })
		<-r.lookupGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	profile, ok := r.profiles[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *profile
	copied.LastActive = time.Now()
	return &copied, nil
}

func (r *fakeResolver) Create(ctx context.Context, uid, username, displayName string) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.profiles {
		if existing.Username == username {
			return nil, domain.ErrUsernameTaken
		}
	}
	now := time.Now()
	profile := &domain.UserProfile{
		UID:         uid,
		Username:    username,
		DisplayName: displayName,
		AuthMethod:  domain.PhoneAuth,
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastActive:  now,
	}
	r.profiles[uid] = profile
	return profile, nil
}

func newTestFlow(idp *fakeIdentityAPI, resolver *fakeResolver) (*Flow, *memHandleStore) {
	handles := newMemHandleStore()
	return NewFlow(idp, handles, resolver, time.Second), handles
}

func TestFlowNewUserOnboarding(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1", PhoneNumber: "+15551234567"},
	}
	resolver := newFakeResolver()
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))
	require.Equal(t, StepOTP, flow.Step())

	result, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Nil(t, result, "new user must not authenticate at the otp step")
	require.Equal(t, StepProfile, flow.Step())

	result, err = flow.CreateProfile(ctx, "alice", "Alice A")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, StepAuthenticated, flow.Step())

	profile := result.Profile
	require.Equal(t, "uid-1", profile.UID)
	require.Equal(t, "alice", profile.Username)
	require.Equal(t, "Alice A", profile.DisplayName)
	require.Equal(t, domain.PhoneAuth, profile.AuthMethod)
	require.Equal(t, domain.StatusActive, profile.Status)
	require.Equal(t, profile.CreatedAt, profile.UpdatedAt)
	require.Equal(t, profile.CreatedAt, profile.LastActive)
}

func TestFlowReturningUserSkipsProfileStep(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1", PhoneNumber: "+15551234567"},
	}
	resolver := newFakeResolver()
	resolver.profiles["uid-1"] = &domain.UserProfile{
		UID:         "uid-1",
		Username:    "alice",
		DisplayName: "Alice A",
		AuthMethod:  domain.PhoneAuth,
		Status:      domain.StatusActive,
	}
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))

	result, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, StepAuthenticated, flow.Step())
	require.Equal(t, "alice", result.Profile.Username)
}

func TestFlowResendUsesMostRecentHandle(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1"},
	}
	resolver := newFakeResolver()
	flow, handles := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))
	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))
	require.Equal(t, 2, idp.requestCalls)

	// Only the second handle is stored; the fake provider refuses anything
	// but its latest, so a successful verify proves the stale handle was
	// discarded.
	stored := handles.handles[flow.ID]
	require.Equal(t, "handle-2", stored)

	result, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, StepProfile, flow.Step())
}

func TestFlowRejectedCodeForcesRestart(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1"},
	}
	resolver := newFakeResolver()
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))

	_, err := flow.Verify(ctx, "000000")
	require.ErrorIs(t, err, domain.ErrCodeRejected)
	require.Equal(t, StepOTP, flow.Step())

	// The handle was consumed by the failed attempt: retrying even with the
	// right code is non-retryable until a fresh code is sent.
	_, err = flow.Verify(ctx, "123456")
	require.ErrorIs(t, err, domain.ErrHandleConsumed)

	// Restarting from the phone step recovers.
	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))
	result, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, StepProfile, flow.Step())
}

func TestFlowUsernameTakenStaysAtProfileStep(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-2"},
	}
	resolver := newFakeResolver()
	resolver.profiles["uid-1"] = &domain.UserProfile{UID: "uid-1", Username: "alice"}
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15559876543", "bot-token"))
	_, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, StepProfile, flow.Step())

	_, err = flow.CreateProfile(ctx, "alice", "Other Alice")
	require.ErrorIs(t, err, domain.ErrUsernameTaken)
	require.Equal(t, StepProfile, flow.Step())
	require.Len(t, resolver.profiles, 1, "a failed create must not write")

	result, err := flow.CreateProfile(ctx, "bob", "Other Alice")
	require.NoError(t, err)
	require.Equal(t, "bob", result.Profile.Username)
}

func TestFlowLookupFailureRetainsVerifiedIdentity(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1"},
	}
	resolver := newFakeResolver()
	resolver.lookupErr = fmt.Errorf("store unavailable")
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))
	_, err := flow.Verify(ctx, "123456")
	require.Error(t, err)
	require.Equal(t, StepOTP, flow.Step())

	// The identity is already verified, so the retry only repeats the
	// lookup; it must not confirm the code a second time.
	resolver.mu.Lock()
	resolver.lookupErr = nil
	resolver.mu.Unlock()

	result, err := flow.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, StepProfile, flow.Step())
	require.Equal(t, 1, idp.confirmCalls)
}

func TestFlowRejectsReentrantCalls(t *testing.T) {
	idp := &fakeIdentityAPI{
		code:     "123456",
		identity: domain.Identity{UID: "uid-1"},
	}
	resolver := newFakeResolver()
	resolver.lookupGate = make(chan struct{})
	resolver.lookupEntered = make(chan struct{})
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot-token"))

	verifyDone := make(chan error, 1)
	go func() {
		_, err := flow.Verify(ctx, "123456")
		verifyDone <- err
	}()

	// Wait until the first verify is parked inside the resolver, then any
	// overlapping call must be refused rather than raced.
	<-resolver.lookupEntered
	_, err := flow.Verify(ctx, "123456")
	require.ErrorIs(t, err, domain.ErrFlowBusy)

	close(resolver.lookupGate)
	require.NoError(t, <-verifyDone)
}

func TestFlowValidatesInputBeforeAnyCall(t *testing.T) {
	idp := &fakeIdentityAPI{code: "123456"}
	resolver := newFakeResolver()
	flow, _ := newTestFlow(idp, resolver)
	ctx := context.Background()

	require.ErrorIs(t, flow.SendCode(ctx, "not-a-phone", "bot"), domain.ErrInvalidInput)
	require.Equal(t, 0, idp.requestCalls)

	require.NoError(t, flow.SendCode(ctx, "+15551234567", "bot"))
	_, err := flow.Verify(ctx, "12ab56")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Equal(t, 0, idp.confirmCalls)
}
