package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/pkg/identityclient"
)

// Step is the current position of a verification flow.
type Step string

const (
	StepPhone         Step = "phone"
	StepOTP           Step = "otp"
	StepProfile       Step = "profile"
	StepAuthenticated Step = "authenticated"
)

// IdentityAPI is the slice of the identity provider client the flow needs.
type IdentityAPI interface {
	RequestCode(ctx context.Context, phoneNumber, botCheckToken string) (identityclient.ConfirmationHandle, error)
	ConfirmCode(ctx context.Context, handle identityclient.ConfirmationHandle, code string) (*domain.Identity, error)
}

// HandleStore persists confirmation handles between the phone and otp steps.
type HandleStore interface {
	Put(ctx context.Context, flowID, handle string) error
	Consume(ctx context.Context, flowID string) (string, error)
}

// ProfileResolver answers "does this verified identity have a profile" and
// performs the profile write for new users.
type ProfileResolver interface {
	Lookup(ctx context.Context, uid string) (*domain.UserProfile, error)
	Create(ctx context.Context, uid, username, displayName string) (*domain.UserProfile, error)
}

// Result is the terminal outcome of a flow.
type Result struct {
	Identity *domain.Identity    `json:"identity"`
	Profile  *domain.UserProfile `json:"profile"`
}

// Flow is one phone-onboarding attempt: phone → otp → profile, with the
// otp step branching straight to authenticated for returning users. A flow
// serializes itself; a second call while one is outstanding gets
// domain.ErrFlowBusy rather than racing the first.
type Flow struct {
	ID        string
	CreatedAt time.Time

	idp         IdentityAPI
	handles     HandleStore
	resolver    ProfileResolver
	callTimeout time.Duration

	mu       sync.Mutex
	busy     bool
	step     Step
	phone    string
	identity *domain.Identity
	result   *Result
}

// NewFlow creates a flow at the phone step.
func NewFlow(idp IdentityAPI, handles HandleStore, resolver ProfileResolver, callTimeout time.Duration) *Flow {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Flow{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		idp:         idp,
		handles:     handles,
		resolver:    resolver,
		callTimeout: callTimeout,
		step:        StepPhone,
	}
}

// Step returns the flow's current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Phone returns the normalized phone number the flow is verifying, once the
// first code has been sent.
func (f *Flow) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

// Result returns the terminal result once the flow has authenticated.
func (f *Flow) Result() *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// begin takes the in-flight guard and checks the step precondition.
func (f *Flow) begin(allowed ...Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return domain.ErrFlowBusy
	}
	for _, s := range allowed {
		if f.step == s {
			f.busy = true
			return nil
		}
	}
	return fmt.Errorf("%w: step %s does not accept this operation", domain.ErrInvalidInput, f.step)
}

func (f *Flow) end() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

// SendCode requests a one-time code for the given phone number. Calling it
// again while the flow sits at the otp step re-sends: the stored handle is
// overwritten, so only the most recent code can confirm.
func (f *Flow) SendCode(ctx context.Context, phoneNumber, botCheckToken string) error {
	normalized, err := NormalizePhone(phoneNumber)
	if err != nil {
		return err
	}

	if err := f.begin(StepPhone, StepOTP); err != nil {
		return err
	}
	defer f.end()

	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	handle, err := f.idp.RequestCode(ctx, normalized, botCheckToken)
	if err != nil {
		// Remain at the current step; the user may retry.
		return err
	}
	if err := f.handles.Put(ctx, f.ID, string(handle)); err != nil {
		return err
	}

	f.mu.Lock()
	f.phone = normalized
	f.step = StepOTP
	f.mu.Unlock()
	return nil
}

// Verify submits the one-time code. The stored handle is consumed on the
// attempt; a rejected code leaves the flow at the otp step but the next
// attempt fails with domain.ErrHandleConsumed, forcing a restart from the
// phone step. On success the flow either finishes (returning user) or moves
// to the profile step (new user).
func (f *Flow) Verify(ctx context.Context, code string) (*Result, error) {
	if !validCode(code) {
		return nil, fmt.Errorf("%w: code must be 6 digits", domain.ErrInvalidInput)
	}

	if err := f.begin(StepOTP); err != nil {
		return nil, err
	}
	defer f.end()

	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	f.mu.Lock()
	identity := f.identity
	f.mu.Unlock()

	// The identity may already be verified from a previous attempt whose
	// profile lookup failed; in that case only the lookup is retried.
	if identity == nil {
		handle, err := f.handles.Consume(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		identity, err = f.idp.ConfirmCode(ctx, identityclient.ConfirmationHandle(handle), code)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.identity = identity
		f.mu.Unlock()
	}

	profile, err := f.resolver.Lookup(ctx, identity.UID)
	switch {
	case err == nil:
		return f.finish(identity, profile), nil
	case errors.Is(err, domain.ErrNotFound):
		f.mu.Lock()
		f.step = StepProfile
		f.mu.Unlock()
		return nil, nil
	default:
		// Store failure: stay at otp, the verified identity is retained.
		return nil, err
	}
}

// CreateProfile completes onboarding for a new user.
func (f *Flow) CreateProfile(ctx context.Context, username, displayName string) (*Result, error) {
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	display, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	if err := f.begin(StepProfile); err != nil {
		return nil, err
	}
	defer f.end()

	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	f.mu.Lock()
	identity := f.identity
	f.mu.Unlock()
	if identity == nil {
		return nil, fmt.Errorf("%w: no verified identity", domain.ErrInvalidInput)
	}

	profile, err := f.resolver.Create(ctx, identity.UID, normalized, display)
	if err != nil {
		// ErrUsernameTaken and store failures both keep the flow at the
		// profile step for another attempt.
		return nil, err
	}
	return f.finish(identity, profile), nil
}

func (f *Flow) finish(identity *domain.Identity, profile *domain.UserProfile) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = StepAuthenticated
	f.result = &Result{Identity: identity, Profile: profile}
	return f.result
}
