package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TimetableRepository loads timetables together with their lessons.
type TimetableRepository struct {
	db      *sqlx.DB
	lessons *LessonRepository
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db, lessons: NewLessonRepository(db)}
}

// FindByID returns the timetable and its authoritative lesson set. A missing timetable
// surfaces sql.ErrNoRows.
func (r *TimetableRepository) FindByID(ctx context.Context, id string) (*models.Timetable, error) {
	const query = `SELECT id, name, updated_at FROM timetables WHERE id = $1`
	var timetable models.Timetable
	if err := r.db.GetContext(ctx, &timetable, query, id); err != nil {
		return nil, err
	}
	lessons, err := r.lessons.ListByTimetable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load timetable %s: %w", id, err)
	}
	timetable.Lessons = lessons
	return &timetable, nil
}
