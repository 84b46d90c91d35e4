package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
)

var sqlTxSerializable = sql.TxOptions{Isolation: sql.LevelSerializable}

// LabScheduleRepository stores the generated lab-session set.
type LabScheduleRepository struct {
	db *sqlx.DB
}

// NewLabScheduleRepository constructs the repository.
func NewLabScheduleRepository(db *sqlx.DB) *LabScheduleRepository {
	return &LabScheduleRepository{db: db}
}

// ReplaceAll swaps the stored set for rows in a single serializable transaction. Readers
// keep seeing the previous set until commit; on any failure nothing changes.
func (r *LabScheduleRepository) ReplaceAll(ctx context.Context, rows []models.LabSchedule) ([]models.LabSchedule, error) {
	now := time.Now().UTC()
	stored := make([]models.LabSchedule, len(rows))
	for i, row := range rows {
		row.ID = uuid.NewString()
		row.GeneratedAt = now
		stored[i] = row
	}

	const insert = `INSERT INTO lab_schedules (id, subject_id, class_id, batch_id, day, time_slot_id, teacher_id, room_id, generated_at) VALUES (:id, :subject_id, :class_id, :batch_id, :day, :time_slot_id, :teacher_id, :room_id, :generated_at)`
	err := database.WithTx(ctx, r.db, &sqlTxSerializable, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lab_schedules`); err != nil {
			return err
		}
		for i := range stored {
			if _, err := tx.NamedExecContext(ctx, insert, stored[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyWriteError("replace lab schedules", err)
	}
	return stored, nil
}

// ListAll returns the stored set ordered by class, day and slot.
func (r *LabScheduleRepository) ListAll(ctx context.Context) ([]models.LabSchedule, error) {
	const query = `SELECT ls.id, ls.subject_id, ls.class_id, ls.batch_id, ls.day, ls.time_slot_id, ls.teacher_id, ls.room_id, ls.generated_at
FROM lab_schedules ls
JOIN time_slots ts ON ts.id = ls.time_slot_id
ORDER BY ls.class_id ASC, ls.day ASC, ts.slot_order ASC, ls.batch_id ASC`
	var rows []models.LabSchedule
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list lab schedules: %w", err)
	}
	return rows, nil
}
