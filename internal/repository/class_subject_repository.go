package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ClassSubjectRepository reads subject assignments per class.
type ClassSubjectRepository struct {
	db *sqlx.DB
}

// NewClassSubjectRepository constructs the repository.
func NewClassSubjectRepository(db *sqlx.DB) *ClassSubjectRepository {
	return &ClassSubjectRepository{db: db}
}

// List returns every assignment in assignment order.
func (r *ClassSubjectRepository) List(ctx context.Context) ([]models.ClassSubject, error) {
	const query = `SELECT class_id, subject_id, position FROM class_subjects ORDER BY class_id ASC, position ASC, subject_id ASC`
	var assignments []models.ClassSubject
	if err := r.db.SelectContext(ctx, &assignments, query); err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}
	return assignments, nil
}
