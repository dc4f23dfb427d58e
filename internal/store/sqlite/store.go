// Package sqlite stores the auth event log in a local SQLite database, for single node
// deployments that want history to survive restarts without running PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authdemo/internal/models"
	"github.com/wolfeidau/authdemo/internal/store"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AuthEventStore implements store.AuthEventStore on SQLite.
type AuthEventStore struct {
	sqlDB *sql.DB
}

// Open opens and migrates the auth event database at path.
func Open(path string) (*AuthEventStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &AuthEventStore{sqlDB: sqlDB}
	if err := s.runMigrations(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *AuthEventStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *AuthEventStore) Record(ctx context.Context, event *models.AuthEvent) error {
	if err := store.ValidateAuthEvent(event); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO auth_events (
			event_id, kind, outcome, user_id, email, ip_address, user_agent, detail, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(),
		string(event.Kind),
		event.Outcome,
		event.UserID,
		event.Email,
		event.IPAddress,
		event.UserAgent,
		event.Detail,
		event.OccurredAt.UTC().UnixMicro(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", store.ErrInvalidAuthEvent, err)
		}
		return fmt.Errorf("record auth event: %w", err)
	}

	log.Debug().Str("event_id", event.ID.String()).Str("kind", string(event.Kind)).Msg("Recorded auth event")

	return nil
}

const selectAuthEvent = `SELECT event_id, kind, outcome, user_id, email, ip_address, user_agent, detail, occurred_at FROM auth_events`

func (s *AuthEventStore) Get(ctx context.Context, id uuid.UUID) (*models.AuthEvent, error) {
	event, err := scanAuthEvent(s.sqlDB.QueryRowContext(ctx, selectAuthEvent+` WHERE event_id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAuthEventNotFound
		}
		return nil, fmt.Errorf("get auth event: %w", err)
	}
	return event, nil
}

func (s *AuthEventStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuthEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		selectAuthEvent+` WHERE user_id = ? ORDER BY occurred_at DESC, event_id DESC LIMIT ?`,
		userID, store.NormalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuthEvent{}
	for rows.Next() {
		event, err := scanAuthEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}

	return events, nil
}

func (s *AuthEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM auth_events WHERE occurred_at < ?`, cutoff.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("delete auth events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthEvent(row rowScanner) (*models.AuthEvent, error) {
	var (
		event      models.AuthEvent
		id         string
		kind       string
		occurredAt int64
	)

	if err := row.Scan(
		&id,
		&kind,
		&event.Outcome,
		&event.UserID,
		&event.Email,
		&event.IPAddress,
		&event.UserAgent,
		&event.Detail,
		&occurredAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", id, err)
	}

	event.ID = parsed
	event.Kind = models.AuthEventKind(kind)
	event.OccurredAt = time.UnixMicro(occurredAt).UTC()

	return &event, nil
}

func isConstraintError(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}

// runMigrations applies every embedded migration at most once, tracked by file name.
func (s *AuthEventStore) runMigrations(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		if err := s.applyMigration(ctx, name); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *AuthEventStore) applyMigration(ctx context.Context, name string) error {
	content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback is safe to call after commit

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, time.Now().UnixMilli()); err != nil {
		return err
	}

	log.Info().Str("name", name).Msg("Applied sqlite migration")

	return tx.Commit()
}
