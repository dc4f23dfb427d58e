package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authdemo/internal/models"
	"github.com/wolfeidau/authdemo/internal/store"
)

// AuthEventStore implements store.AuthEventStore using PostgreSQL.
type AuthEventStore struct {
	pool *pgxpool.Pool
	cfg  AuthEventStoreConfig
}

// NewAuthEventStore creates a PostgreSQL-backed auth event store on an existing pool,
// applying migrations when cfg.AutoMigrate is set. The store owns the pool.
func NewAuthEventStore(ctx context.Context, pool *pgxpool.Pool, cfg AuthEventStoreConfig) (*AuthEventStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth event store config: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			return nil, err
		}
	}

	return &AuthEventStore{pool: pool, cfg: cfg}, nil
}

func (s *AuthEventStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.cfg.QueryTimeoutSeconds)*time.Second)
}

func (s *AuthEventStore) Record(ctx context.Context, event *models.AuthEvent) error {
	if err := store.ValidateAuthEvent(event); err != nil {
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `
		INSERT INTO auth_events (
			event_id, kind, outcome, user_id, email,
			ip_address, user_agent, detail, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::inet, $7, $8, $9
		)
	`

	// Convert empty IP address to nil for proper INET handling
	var ipAddress any
	if event.IPAddress != "" {
		ipAddress = event.IPAddress
	}

	_, err := s.pool.Exec(ctx, query,
		event.ID,
		string(event.Kind),
		event.Outcome,
		event.UserID,
		event.Email,
		ipAddress,
		event.UserAgent,
		event.Detail,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record auth event: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("kind", string(event.Kind)).
		Msg("Recorded auth event")

	return nil
}

const selectAuthEvent = `
	SELECT
		event_id, kind, outcome, user_id, email,
		host(ip_address), user_agent, detail, occurred_at
	FROM auth_events
`

func (s *AuthEventStore) Get(ctx context.Context, id uuid.UUID) (*models.AuthEvent, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	event, err := scanAuthEvent(s.pool.QueryRow(ctx, selectAuthEvent+` WHERE event_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAuthEventNotFound
		}
		return nil, fmt.Errorf("failed to get auth event: %w", mapPostgresError(err))
	}

	return event, nil
}

func (s *AuthEventStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuthEvent, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, selectAuthEvent+`
		WHERE user_id = $1
		ORDER BY occurred_at DESC, event_id DESC
		LIMIT $2
	`, userID, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", mapPostgresError(err))
	}
	defer rows.Close()

	events := []*models.AuthEvent{}
	for rows.Next() {
		event, err := scanAuthEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", mapPostgresError(err))
	}

	return events, nil
}

func (s *AuthEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete auth events: %w", mapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}

func (s *AuthEventStore) Close() error {
	s.pool.Close()
	return nil
}

func scanAuthEvent(row pgx.Row) (*models.AuthEvent, error) {
	var (
		event     models.AuthEvent
		kind      string
		ipAddress *string
	)

	err := row.Scan(
		&event.ID,
		&kind,
		&event.Outcome,
		&event.UserID,
		&event.Email,
		&ipAddress,
		&event.UserAgent,
		&event.Detail,
		&event.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	event.Kind = models.AuthEventKind(kind)
	if ipAddress != nil {
		event.IPAddress = *ipAddress
	}

	return &event, nil
}
