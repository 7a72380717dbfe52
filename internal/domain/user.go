package domain

import "time"

// AuthMethod identifies how an identity was established.
type AuthMethod string

const (
	PhoneAuth AuthMethod = "phone"
)

// UserStatus marks whether a profile is considered live.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// UserProfile is the application-level user record stored alongside the
// identity issued by the external auth provider. Its existence is the sole
// signal that a verified phone number has completed onboarding.
type UserProfile struct {
	UID         string     `json:"uid"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AuthMethod  AuthMethod `json:"auth_method"`
	Status      UserStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastActive  time.Time  `json:"last_active"`
}

// Identity is a verified phone-backed principal returned by the identity
// provider after a successful code confirmation. The session token is the
// provider-issued JWT the client presents on subsequent requests.
type Identity struct {
	UID          string `json:"uid"`
	PhoneNumber  string `json:"phone_number"`
	SessionToken string `json:"session_token"`
}

// CreateProfileRequest is the payload submitted from the profile step of the
// onboarding flow.
type CreateProfileRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}
