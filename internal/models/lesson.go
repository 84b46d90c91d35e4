package models

import "time"

// Lesson places a subject, teacher, class and optional room at a (day, slot) coordinate.
// A continuation lesson carries the second slot of a two-slot lab and points at its parent.
type Lesson struct {
	ID             string    `db:"id" json:"id"`
	TimetableID    string    `db:"timetable_id" json:"timetable_id"`
	Day            int       `db:"day" json:"day"`
	TimeSlotID     string    `db:"time_slot_id" json:"time_slot_id"`
	ClassID        string    `db:"class_id" json:"class_id"`
	SubjectID      string    `db:"subject_id" json:"subject_id"`
	TeacherID      string    `db:"teacher_id" json:"teacher_id"`
	RoomID         *string   `db:"room_id" json:"room_id,omitempty"`
	IsContinuation bool      `db:"is_continuation" json:"is_continuation"`
	ParentLessonID *string   `db:"parent_lesson_id" json:"parent_lesson_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Room returns the room id or an empty string.
func (l Lesson) Room() string {
	if l.RoomID == nil {
		return ""
	}
	return *l.RoomID
}

// Parent returns the parent lesson id or an empty string.
func (l Lesson) Parent() string {
	if l.ParentLessonID == nil {
		return ""
	}
	return *l.ParentLessonID
}

// LessonRole tags a lesson's position inside a multi-slot group.
type LessonRole string

const (
	LessonRoleSingle LessonRole = "SINGLE"
	LessonRoleHead   LessonRole = "HEAD"
	LessonRoleTail   LessonRole = "TAIL"
)

// PlacementDecision is the outcome of a conflict check.
type PlacementDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PlacementRejection is the domain error carried by a rejected placement.
type PlacementRejection struct {
	Day        int    `json:"day"`
	TimeSlotID string `json:"time_slot_id"`
	Reason     string `json:"reason"`
}

// Error implements the error interface.
func (e *PlacementRejection) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Reason
}
