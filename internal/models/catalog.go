package models

// Class is a class or section that lessons are taught to.
type Class struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Teacher is an instructor who can be assigned to lessons.
type Teacher struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
}

// Room is a teaching room; lab rooms host lab sessions.
type Room struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	IsLab    bool   `db:"is_lab" json:"is_lab"`
	Capacity int    `db:"capacity" json:"capacity"`
}

// Batch partitions a class for lab sessions.
type Batch struct {
	ID       string `db:"id" json:"id"`
	ClassID  string `db:"class_id" json:"class_id"`
	Name     string `db:"name" json:"name"`
	Strength int    `db:"strength" json:"strength"`
}

// ClassSubject assigns a subject to a class. Position preserves the assignment order.
type ClassSubject struct {
	ClassID   string `db:"class_id" json:"class_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
	Position  int    `db:"position" json:"position"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
