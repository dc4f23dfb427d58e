package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/authdemo/internal/models"
)

var (
	ErrAuthEventNotFound = errors.New("auth event not found")
	ErrInvalidAuthEvent  = errors.New("invalid auth event")

	// ErrStoreUnavailable marks transient backend failures worth retrying later.
	ErrStoreUnavailable = errors.New("auth event store unavailable")
)

// DefaultListLimit caps ListByUser when the caller passes a non-positive limit.
const DefaultListLimit = 50

// AuthEventStore persists the authentication audit trail.
type AuthEventStore interface {
	// Record stores a new event. Events are immutable once recorded.
	Record(ctx context.Context, event *models.AuthEvent) error

	// Get returns a single event.
	Get(ctx context.Context, id uuid.UUID) (*models.AuthEvent, error)

	// ListByUser returns the user's most recent events, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuthEvent, error)

	// DeleteBefore removes events older than cutoff and returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// ValidateAuthEvent checks the fields every store requires.
func ValidateAuthEvent(event *models.AuthEvent) error {
	switch {
	case event == nil:
		return ErrInvalidAuthEvent
	case event.ID == uuid.Nil:
		return errors.Join(ErrInvalidAuthEvent, errors.New("id is required"))
	case event.Kind == "":
		return errors.Join(ErrInvalidAuthEvent, errors.New("kind is required"))
	case event.OccurredAt.IsZero():
		return errors.Join(ErrInvalidAuthEvent, errors.New("occurred_at is required"))
	}
	return nil
}

// NormalizeLimit applies DefaultListLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
