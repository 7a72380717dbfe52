package domain

import "time"

// Broker topology for outbox-published events.
const (
	EventsExchange         = "down_events"
	RoutingKeyUserCreated  = "user.created"
	RoutingKeyEventCreated = "event.created"
	RoutingKeyEventRSVP    = "event.rsvp"
)

// UserCreatedEvent is published after a new profile is written, so downstream
// services (notifications, friend suggestions) learn about the user.
type UserCreatedEvent struct {
	UID         string    `json:"uid"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventCreatedEvent is published when a user creates a new event.
type EventCreatedEvent struct {
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	EventTime time.Time `json:"event_time"`
	Invited   []string  `json:"invited,omitempty"`
}

// EventRSVPEvent is published when a user responds to an event invitation.
type EventRSVPEvent struct {
	EventID  string       `json:"event_id"`
	Username string       `json:"username"`
	Response RSVPResponse `json:"response"`
}
