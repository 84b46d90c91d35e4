package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
)

const lessonColumns = `id, timetable_id, day, time_slot_id, class_id, subject_id, teacher_id, room_id, is_continuation, parent_lesson_id, created_at, updated_at`

// LessonRepository persists lessons. Multi-row writes run in one transaction so a lab
// pair is never half-visible.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs the repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// ListByTimetable returns every lesson of a timetable, parents before continuations.
func (r *LessonRepository) ListByTimetable(ctx context.Context, timetableID string) ([]models.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE timetable_id = $1 ORDER BY day ASC, is_continuation ASC, created_at ASC, id ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, timetableID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// CreateGroup inserts a lesson and its optional continuation atomically. Uniqueness
// violations surface as ErrWriteConflict.
func (r *LessonRepository) CreateGroup(ctx context.Context, group []models.Lesson) error {
	if len(group) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range group {
		if group[i].ID == "" {
			group[i].ID = uuid.NewString()
		}
		group[i].CreatedAt = now
		group[i].UpdatedAt = now
	}

	const query = `INSERT INTO lessons (` + lessonColumns + `) VALUES (:id, :timetable_id, :day, :time_slot_id, :class_id, :subject_id, :teacher_id, :room_id, :is_continuation, :parent_lesson_id, :created_at, :updated_at)`
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		for i := range group {
			if _, err := tx.NamedExecContext(ctx, query, group[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyWriteError("create lesson group", err)
}

// UpdateGroup reassigns teacher and room for every lesson id in one transaction.
func (r *LessonRepository) UpdateGroup(ctx context.Context, timetableID string, ids []string, teacherID string, roomID *string) ([]models.Lesson, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	query := `UPDATE lessons SET teacher_id = $1, room_id = $2, updated_at = $3 WHERE timetable_id = $4 AND id = $5 RETURNING ` + lessonColumns

	updated := make([]models.Lesson, 0, len(ids))
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			var lesson models.Lesson
			if err := tx.GetContext(ctx, &lesson, query, teacherID, roomID, now, timetableID, id); err != nil {
				return err
			}
			updated = append(updated, lesson)
		}
		return nil
	})
	if err != nil {
		return nil, classifyWriteError("update lesson group", err)
	}
	return updated, nil
}

// DeleteGroup removes every lesson id in one transaction. Continuations go first so the
// parent foreign key never dangles mid-transaction.
func (r *LessonRepository) DeleteGroup(ctx context.Context, timetableID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `DELETE FROM lessons WHERE timetable_id = $1 AND id = $2`
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		for i := len(ids) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, query, timetableID, ids[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyWriteError("delete lesson group", err)
}
