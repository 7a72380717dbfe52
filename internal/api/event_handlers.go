package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/down/down-service/internal/auth"
	"github.com/down/down-service/internal/domain"
	"github.com/down/down-service/internal/store"
)

// EventHandler serves event creation, listing, and RSVPs.
type EventHandler struct {
	events   store.EventRepository
	resolver auth.ProfileResolver
}

// NewEventHandler creates a new handler for the event endpoints.
func NewEventHandler(events store.EventRepository, resolver auth.ProfileResolver) *EventHandler {
	return &EventHandler{events: events, resolver: resolver}
}

// ListEvents returns all active events with their attendee maps.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// MyEvents returns active events the caller created.
func (h *EventHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	events, err := h.events.ListEventsByCreator(r.Context(), profile.Username)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// CreateEvent creates a new event owned by the caller.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	var req domain.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Place == "" {
		respondError(w, http.StatusBadRequest, "Name and place are required")
		return
	}
	if req.EventTime.Before(time.Now()) {
		respondError(w, http.StatusBadRequest, "Event time must be in the future")
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req, profile.Username, domain.EventsExchange, domain.RoutingKeyEventCreated)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, event)
}

type rsvpRequest struct {
	Response string `json:"response"`
}

// RSVP records the caller's response to an event.
func (h *EventHandler) RSVP(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	var req rsvpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !domain.ValidRSVP(req.Response) {
		respondError(w, http.StatusBadRequest, "Response must be 'down' or 'not-this-time'")
		return
	}

	eventID := chi.URLParam(r, "eventID")
	err := h.events.RSVP(
		r.Context(),
		eventID,
		profile.Username,
		profile.DisplayName,
		domain.RSVPResponse(req.Response),
		domain.EventsExchange,
		domain.RoutingKeyEventRSVP,
	)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// callerProfile resolves the authenticated caller to their profile. Events
// key on usernames, so an identity without a profile cannot act here.
func (h *EventHandler) callerProfile(w http.ResponseWriter, r *http.Request) (*domain.UserProfile, bool) {
	uid := UserIDFromContext(r.Context())
	if uid == "" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	profile, err := h.resolver.Lookup(r.Context(), uid)
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return profile, true
}
