package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthEventKind names the authentication action that was attempted.
type AuthEventKind string

const (
	AuthEventSignUp        AuthEventKind = "signup"
	AuthEventSignIn        AuthEventKind = "signin"
	AuthEventOAuthStart    AuthEventKind = "oauth_start"
	AuthEventOAuthExchange AuthEventKind = "oauth_exchange"
	AuthEventSignOut       AuthEventKind = "signout"
)

// AuthEvent is one entry in the authentication audit trail. Credentials and tokens are
// never recorded.
type AuthEvent struct {
	ID      uuid.UUID // UUIDv7, sorts by time
	Kind    AuthEventKind
	Outcome string // success, failure or error

	// UserID is the provider's user id, empty when the attempt did not resolve a user
	UserID string
	Email  string

	// Optional request metadata
	IPAddress string
	UserAgent string

	Detail     string
	OccurredAt time.Time
}

// NewAuthEvent stamps a new event with a time ordered id.
func NewAuthEvent(kind AuthEventKind, outcome string) (*AuthEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	return &AuthEvent{
		ID:         id,
		Kind:       kind,
		Outcome:    outcome,
		OccurredAt: time.Now().UTC(),
	}, nil
}
