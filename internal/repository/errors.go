package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrWriteConflict signals that a concurrent write already holds the target rows.
var ErrWriteConflict = errors.New("repository: write conflict")

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// classifyWriteError maps store-level contention onto ErrWriteConflict and wraps
// everything else with the operation name.
func classifyWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w (%s)", op, ErrWriteConflict, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
