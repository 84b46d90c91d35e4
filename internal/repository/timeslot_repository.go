package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TimeSlotRepository reads the daily slot grid.
type TimeSlotRepository struct {
	db *sqlx.DB
}

// NewTimeSlotRepository constructs the repository.
func NewTimeSlotRepository(db *sqlx.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

// List returns every slot, breaks included, ordered by slot_order.
func (r *TimeSlotRepository) List(ctx context.Context) ([]models.TimeSlot, error) {
	const query = `SELECT id, label, start_time, end_time, slot_order, is_break FROM time_slots ORDER BY slot_order ASC, id ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}

// ListTeaching returns the non-break slots ordered by slot_order.
func (r *TimeSlotRepository) ListTeaching(ctx context.Context) ([]models.TimeSlot, error) {
	const query = `SELECT id, label, start_time, end_time, slot_order, is_break FROM time_slots WHERE is_break = FALSE ORDER BY slot_order ASC, id ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("list teaching slots: %w", err)
	}
	return slots, nil
}
