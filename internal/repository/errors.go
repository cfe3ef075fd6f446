package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes the issuance writes can hit under concurrency.
const (
	sqlstateUniqueViolation      = "23505"
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
)

// storeError maps driver errors onto the domain taxonomy. A lost race on the
// unresolved-issuance index or a row lock is a conflict; anything else the
// database reports means the store is unavailable.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
	case isConflict(err):
		return fmt.Errorf("%w: %s: %v", domain.ErrConflict, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
}

func isConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateUniqueViolation, sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateLockNotAvailable:
			return true
		}
		return false
	}

	// sqlmock and wrapped drivers only expose the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
