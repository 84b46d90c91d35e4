package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// RoomRepository reads teaching rooms.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListLab returns rooms equipped for lab sessions.
func (r *RoomRepository) ListLab(ctx context.Context) ([]models.Room, error) {
	const query = `SELECT id, name, is_lab, capacity FROM rooms WHERE is_lab = TRUE ORDER BY name ASC, id ASC`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list lab rooms: %w", err)
	}
	return rooms, nil
}
