package service

import (
	"database/sql"
	"errors"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// loadError maps a read failure: missing rows become NotFound, anything else is a
// transient repository failure.
func loadError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrTransientUnavailable.Code, appErrors.ErrTransientUnavailable.Status, "failed to load "+what)
}

// writeError maps a write failure. Rows that vanished or were claimed concurrently are
// write conflicts.
func writeError(err error, what string) error {
	if errors.Is(err, repository.ErrWriteConflict) || errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrWriteConflict.Code, appErrors.ErrWriteConflict.Status, what+" conflicted with a concurrent write")
	}
	return appErrors.Wrap(err, appErrors.ErrTransientUnavailable.Code, appErrors.ErrTransientUnavailable.Status, "failed to "+what)
}

func rejectionError(day int, slotID string, decision models.PlacementDecision) error {
	rejection := &models.PlacementRejection{Day: day, TimeSlotID: slotID, Reason: decision.Reason}
	return appErrors.Wrap(rejection, appErrors.ErrPlacementRejected.Code, appErrors.ErrPlacementRejected.Status, decision.Reason)
}
