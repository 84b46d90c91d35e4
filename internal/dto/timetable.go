package dto

import "github.com/noah-isme/sma-timetable-api/internal/models"

// PlaceLessonRequest proposes a lesson at a (day, slot) coordinate. Lab subjects with a
// two-slot duration also claim the following slot.
type PlaceLessonRequest struct {
	Day        int     `json:"day" validate:"min=0,max=6"`
	TimeSlotID string  `json:"time_slot_id" validate:"required"`
	ClassID    string  `json:"class_id" validate:"required"`
	SubjectID  string  `json:"subject_id" validate:"required"`
	TeacherID  string  `json:"teacher_id" validate:"required"`
	RoomID     *string `json:"room_id" validate:"omitempty,min=1"`
}

// UpdateLessonRequest reassigns the teacher and room of a lesson group.
type UpdateLessonRequest struct {
	TeacherID string  `json:"teacher_id" validate:"required"`
	RoomID    *string `json:"room_id" validate:"omitempty,min=1"`
}

// PlacementCheckResponse previews a placement without persisting it.
type PlacementCheckResponse struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	MultiHour  bool   `json:"multi_hour"`
	NextSlotID string `json:"next_slot_id,omitempty"`
}

// LessonGroupResponse wraps a parent lesson and its optional continuation.
type LessonGroupResponse struct {
	Lessons   []models.Lesson `json:"lessons"`
	MultiHour bool            `json:"multi_hour"`
}

// RegenerateLabScheduleResponse summarises a synchronous regeneration.
type RegenerateLabScheduleResponse struct {
	Rows       int                   `json:"rows"`
	Warnings   []string              `json:"warnings,omitempty"`
	Collisions []models.LabCollision `json:"collisions,omitempty"`
	DurationMs int64                 `json:"duration_ms"`
}

// LabScheduleQuery filters the stored lab schedule listing.
type LabScheduleQuery struct {
	ClassID   string `form:"class_id"`
	TeacherID string `form:"teacher_id"`
	Day       *int   `form:"day" validate:"omitempty,min=0,max=6"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"page_size" validate:"omitempty,min=1,max=500"`
}

// ExportQuery selects the export format.
type ExportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
