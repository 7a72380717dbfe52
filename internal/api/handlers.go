package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/down/down-service/internal/auth"
	"github.com/down/down-service/internal/domain"
)

// RateLimiter budgets send-code requests per phone number.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// IdentitySessions is the slice of the identity client the session
// endpoints use.
type IdentitySessions interface {
	SignOut(ctx context.Context, sessionToken string) error
	RefreshSession(ctx context.Context, sessionToken string) (*domain.Identity, error)
}

// OnboardingHandler drives the phone verification flow over HTTP. Each flow
// instance is addressed by its id; the client walks it through the phone,
// otp and profile steps.
type OnboardingHandler struct {
	flows    *auth.Registry
	resolver auth.ProfileResolver
	sessions IdentitySessions
	session  *auth.Session

	limiter        RateLimiter
	sendCodeLimit  int
	sendCodeWindow time.Duration
}

// NewOnboardingHandler creates a new handler for the verification endpoints.
func NewOnboardingHandler(
	flows *auth.Registry,
	resolver auth.ProfileResolver,
	sessions IdentitySessions,
	session *auth.Session,
	limiter RateLimiter,
	sendCodeLimit int,
	sendCodeWindow time.Duration,
) *OnboardingHandler {
	return &OnboardingHandler{
		flows:          flows,
		resolver:       resolver,
		sessions:       sessions,
		session:        session,
		limiter:        limiter,
		sendCodeLimit:  sendCodeLimit,
		sendCodeWindow: sendCodeWindow,
	}
}

type startFlowRequest struct {
	PhoneNumber   string `json:"phone_number"`
	BotCheckToken string `json:"bot_check_token"`
}

type flowStateResponse struct {
	FlowID   string              `json:"flow_id"`
	Step     auth.Step           `json:"step"`
	Identity *domain.Identity    `json:"identity,omitempty"`
	Profile  *domain.UserProfile `json:"profile,omitempty"`
}

// StartFlow creates a verification flow and sends the first code.
func (h *OnboardingHandler) StartFlow(w http.ResponseWriter, r *http.Request) {
	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	phone, err := auth.NormalizePhone(req.PhoneNumber)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if !h.allowSendCode(w, r, phone) {
		return
	}

	flow := h.flows.Create()
	if err := flow.SendCode(r.Context(), phone, req.BotCheckToken); err != nil {
		h.flows.Remove(flow.ID)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, flowStateResponse{FlowID: flow.ID, Step: flow.Step()})
}

// ResendCode sends a fresh code for an existing flow, invalidating the
// previous confirmation handle.
func (h *OnboardingHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookupFlow(w, r)
	if !ok {
		return
	}

	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	phone := req.PhoneNumber
	if phone == "" {
		phone = flow.Phone()
	}
	normalized, err := auth.NormalizePhone(phone)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Re-sends draw from the same per-phone budget as the first send.
	if !h.allowSendCode(w, r, normalized) {
		return
	}

	if err := flow.SendCode(r.Context(), normalized, req.BotCheckToken); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, flowStateResponse{FlowID: flow.ID, Step: flow.Step()})
}

// allowSendCode charges one send against the phone's budget. It writes the
// 429 response itself when the budget is exhausted. An unavailable limiter
// fails open rather than blocking sign-in.
func (h *OnboardingHandler) allowSendCode(w http.ResponseWriter, r *http.Request, phone string) bool {
	if h.limiter == nil {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "send_code", phone, h.sendCodeLimit, h.sendCodeWindow)
	if err != nil {
		log.Printf("Warning: rate limiter unavailable: %v", err)
		return true
	}
	if h.sendCodeLimit > 0 && count > h.sendCodeLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondDomainError(w, domain.ErrRateLimited)
		return false
	}
	return true
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyCode submits the one-time code. Returning users come back
// authenticated; new users are moved to the profile step.
func (h *OnboardingHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookupFlow(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := flow.Verify(r.Context(), req.Code)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := flowStateResponse{FlowID: flow.ID, Step: flow.Step()}
	if result != nil {
		resp.Identity = result.Identity
		resp.Profile = result.Profile
		h.flows.Remove(flow.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

// CreateProfile completes onboarding for a new user.
func (h *OnboardingHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookupFlow(w, r)
	if !ok {
		return
	}

	var req domain.CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := flow.CreateProfile(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.flows.Remove(flow.ID)
	respondJSON(w, http.StatusOK, flowStateResponse{
		FlowID:   flow.ID,
		Step:     flow.Step(),
		Identity: result.Identity,
		Profile:  result.Profile,
	})
}

// MyProfile returns the authenticated caller's profile.
func (h *OnboardingHandler) MyProfile(w http.ResponseWriter, r *http.Request) {
	uid := UserIDFromContext(r.Context())
	if uid == "" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	profile, err := h.resolver.Lookup(r.Context(), uid)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

type sessionResponse struct {
	User    *domain.UserProfile `json:"user"`
	Loading bool                `json:"loading"`
	Error   string              `json:"error,omitempty"`
}

// CurrentSession reports the session context's view of the signed-in user.
// A nil user with a non-empty error means the profile fetch failed, which
// is not the same thing as being signed out.
func (h *OnboardingHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	state := h.session.Current()
	resp := sessionResponse{User: state.User, Loading: state.Loading}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// RefreshSession exchanges the caller's session token for a fresh one. The
// identity client notifies auth-state subscribers, so the session context
// re-hydrates as a side effect.
func (h *OnboardingHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	token := SessionTokenFromContext(r.Context())
	if token == "" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	identity, err := h.sessions.RefreshSession(r.Context(), token)
	if err != nil {
		log.Printf("Error refreshing session: %v", err)
		respondError(w, http.StatusBadGateway, "Failed to refresh session")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

// Logout revokes the caller's session with the identity provider.
func (h *OnboardingHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := SessionTokenFromContext(r.Context())
	if token == "" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.SignOut(r.Context(), token); err != nil {
		log.Printf("Error revoking session: %v", err)
		respondError(w, http.StatusBadGateway, "Failed to sign out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (h *OnboardingHandler) lookupFlow(w http.ResponseWriter, r *http.Request) (*auth.Flow, bool) {
	id := chi.URLParam(r, "flowID")
	flow, err := h.flows.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Unknown or expired flow")
		return nil, false
	}
	return flow, true
}

// respondDomainError maps the service's error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCodeRejected):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrHandleConsumed):
		// Non-retryable: the client must restart from the phone step.
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrUsernameTaken):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrFlowBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("Internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

