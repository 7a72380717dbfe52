package domain

import "time"

// RSVPResponse is a user's answer to an event invitation.
type RSVPResponse string

const (
	RSVPDown        RSVPResponse = "down"
	RSVPNotThisTime RSVPResponse = "not-this-time"
)

// ValidRSVP reports whether s is one of the accepted responses.
func ValidRSVP(s string) bool {
	switch RSVPResponse(s) {
	case RSVPDown, RSVPNotThisTime:
		return true
	}
	return false
}

// Event is a planned hangout created by a user. Attendees maps username to
// display name for everyone who has been invited or has responded.
type Event struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Place       string            `json:"place"`
	EventTime   time.Time         `json:"event_time"`
	TimeCreated time.Time         `json:"time_created"`
	Creator     string            `json:"creator"`
	IsActive    bool              `json:"is_active"`
	Attendees   map[string]string `json:"attendees"`
}

// CreateEventRequest is the payload for creating a new event. Friends lists
// usernames to invite at creation time.
type CreateEventRequest struct {
	Name      string    `json:"name"`
	Place     string    `json:"place"`
	EventTime time.Time `json:"event_time"`
	Friends   []string  `json:"friends,omitempty"`
}
