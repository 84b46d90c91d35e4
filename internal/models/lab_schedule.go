package models

import "time"

// LabSchedule maps one (subject, class, batch) triple to a day, slot, teacher and room.
type LabSchedule struct {
	ID          string    `db:"id" json:"id,omitempty"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	Day         int       `db:"day" json:"day"`
	TimeSlotID  string    `db:"time_slot_id" json:"time_slot_id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	RoomID      string    `db:"room_id" json:"room_id"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at,omitempty"`
}

// LabCollision reports two generated rows sharing a teacher or room at the same day/slot.
type LabCollision struct {
	Dimension  string `json:"dimension"`
	ResourceID string `json:"resource_id"`
	Day        int    `json:"day"`
	TimeSlotID string `json:"time_slot_id"`
	Rows       [2]int `json:"rows"`
}

// LabRegenerationResult summarises one regeneration run.
type LabRegenerationResult struct {
	Schedules  []LabSchedule  `json:"schedules"`
	Warnings   []string       `json:"warnings,omitempty"`
	Collisions []LabCollision `json:"collisions,omitempty"`
	Duration   time.Duration  `json:"duration_ns"`
}

// LabJobStatus is the lifecycle of an asynchronous regeneration.
type LabJobStatus string

const (
	LabJobQueued    LabJobStatus = "QUEUED"
	LabJobRunning   LabJobStatus = "RUNNING"
	LabJobSucceeded LabJobStatus = "SUCCEEDED"
	LabJobFailed    LabJobStatus = "FAILED"
)

// LabRegenerationJob tracks an asynchronous regeneration request.
type LabRegenerationJob struct {
	ID         string       `json:"id"`
	Status     LabJobStatus `json:"status"`
	Rows       int          `json:"rows"`
	Warnings   []string     `json:"warnings,omitempty"`
	Error      string       `json:"error,omitempty"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
