package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imgbatch/imgbatch/internal/store"
)

// PostgreSQL error codes
const (
	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// notNullViolationCode is the PostgreSQL error code for not null violations
	notNullViolationCode = "23502"

	// diskFullCode is the PostgreSQL error code for exhausted storage
	diskFullCode = "53100"
)

// mapError maps a database error to an appropriate store error.
// It wraps the original error to preserve context, and is used by all
// database operations so callers see consistent sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrTaskNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case diskFullCode:
			return fmt.Errorf("%w: %v", store.ErrQuotaExceeded, err)
		case checkViolationCode, notNullViolationCode:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return err
}
