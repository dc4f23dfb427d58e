package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/authdemo/internal/models"
	"github.com/wolfeidau/authdemo/internal/store"
)

// AuthEventStore implements store.AuthEventStore using in-memory storage.
// Data is lost on restart.
type AuthEventStore struct {
	mu sync.RWMutex

	events       map[uuid.UUID]*models.AuthEvent // id -> event
	eventsByUser map[string][]uuid.UUID          // user_id -> []id
}

// NewAuthEventStore creates a new in-memory auth event store.
func NewAuthEventStore() *AuthEventStore {
	return &AuthEventStore{
		events:       make(map[uuid.UUID]*models.AuthEvent),
		eventsByUser: make(map[string][]uuid.UUID),
	}
}

func (s *AuthEventStore) Record(ctx context.Context, event *models.AuthEvent) error {
	if err := store.ValidateAuthEvent(event); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Clone to avoid external modifications
	clone := *event
	s.events[event.ID] = &clone

	if event.UserID != "" {
		s.eventsByUser[event.UserID] = append(s.eventsByUser[event.UserID], event.ID)
	}

	return nil
}

func (s *AuthEventStore) Get(ctx context.Context, id uuid.UUID) (*models.AuthEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[id]
	if !exists {
		return nil, store.ErrAuthEventNotFound
	}

	clone := *event
	return &clone, nil
}

func (s *AuthEventStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuthEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.eventsByUser[userID]
	events := make([]*models.AuthEvent, 0, len(ids))
	for _, id := range ids {
		if event, ok := s.events[id]; ok {
			clone := *event
			events = append(events, &clone)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].ID.String() > events[j].ID.String()
		}
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})

	if limit = store.NormalizeLimit(limit); len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (s *AuthEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, event := range s.events {
		if event.OccurredAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	if deleted == 0 {
		return 0, nil
	}

	// rebuild the user index without the removed ids
	for userID, ids := range s.eventsByUser {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.eventsByUser, userID)
			continue
		}
		s.eventsByUser[userID] = kept
	}

	return deleted, nil
}

func (s *AuthEventStore) Close() error {
	return nil
}
