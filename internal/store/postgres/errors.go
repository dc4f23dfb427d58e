package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/authdemo/internal/store"
)

// mapPostgresError translates server errors into store sentinels. Anything that is not
// a *pgconn.PgError is returned unchanged.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	code := pgErr.Code

	switch {
	case code == pgerrcode.UniqueViolation:
		// events are immutable, a second insert with the same id is a caller bug
		return fmt.Errorf("%w: duplicate event (%s)", store.ErrInvalidAuthEvent, pgErr.ConstraintName)

	case code == pgerrcode.CheckViolation,
		code == pgerrcode.NotNullViolation,
		code == pgerrcode.InvalidTextRepresentation:
		return fmt.Errorf("%w: %s", store.ErrInvalidAuthEvent, pgErr.Message)

	case code == pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	case pgerrcode.IsTransactionRollback(code):
		return fmt.Errorf("transaction conflict (retryable): %w", err)

	// class 57 also holds query_canceled, handled above
	case pgerrcode.IsConnectionException(code),
		pgerrcode.IsOperatorIntervention(code),
		pgerrcode.IsInsufficientResources(code):
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
