package models

import "time"

// Timetable is the authoritative lesson set of one weekly timetable.
type Timetable struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Lessons   []Lesson  `db:"-" json:"lessons"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ReconcileState is the reconciliation loop state of a local timetable view.
type ReconcileState string

const (
	ReconcileStateIdle            ReconcileState = "IDLE"
	ReconcileStateAwaitingRefresh ReconcileState = "AWAITING_REFRESH"
)

// TimetableCell is one rendered (day, slot) cell of the grid.
type TimetableCell struct {
	Day          int        `json:"day"`
	TimeSlotID   string     `json:"time_slot_id"`
	LessonID     string     `json:"lesson_id"`
	ClassID      string     `json:"class_id"`
	SubjectID    string     `json:"subject_id"`
	TeacherID    string     `json:"teacher_id"`
	RoomID       *string    `json:"room_id,omitempty"`
	Role         LessonRole `json:"role"`
	GroupLessons []string   `json:"group_lessons"`
}

// TimetableView is the reconciled local view served to viewers.
type TimetableView struct {
	Timetable   Timetable       `json:"timetable"`
	Slots       []TimeSlot      `json:"slots"`
	Cells       []TimetableCell `json:"cells"`
	State       ReconcileState  `json:"state"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}
