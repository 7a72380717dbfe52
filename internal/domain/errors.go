package domain

import "errors"

// Sentinel errors shared across the service. Handlers and the verification
// flow branch on these with errors.Is; anything else is treated as a
// transport or store failure the caller may retry.
var (
	// ErrNotFound marks absence. For profile lookups it is not a failure:
	// it drives the new-vs-returning branch of the verification flow.
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken is returned when profile creation loses the
	// uniqueness race on username. No writes are performed.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrCodeRejected is returned when the identity provider refuses the
	// submitted one-time code.
	ErrCodeRejected = errors.New("verification code rejected")

	// ErrHandleConsumed is returned when a confirmation handle has already
	// been used or invalidated. Handles are single-use: the flow must be
	// restarted from the phone step.
	ErrHandleConsumed = errors.New("confirmation handle consumed")

	// ErrFlowBusy is returned to re-entrant calls while a flow instance has
	// a request outstanding.
	ErrFlowBusy = errors.New("flow request already in progress")

	// ErrInvalidInput marks malformed user input caught before any network
	// call is made.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited is returned when the caller has exceeded the send-code
	// budget for a phone number.
	ErrRateLimited = errors.New("rate limited")
)
