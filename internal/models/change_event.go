package models

import "time"

// ChangeType classifies a lesson change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Valid reports whether the type is one of the known operations.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// LessonChangeEvent is the notification published after a lesson write.
type LessonChangeEvent struct {
	Type        ChangeType `json:"type"`
	TimetableID string     `json:"timetable_id"`
	Lesson      Lesson     `json:"lesson"`
	Source      string     `json:"source,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
	EmittedAt   time.Time  `json:"emitted_at"`
}
