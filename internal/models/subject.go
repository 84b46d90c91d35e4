package models

// Subject is a taught subject. LabDurationSlots only matters when IsLab is set.
type Subject struct {
	ID               string `db:"id" json:"id"`
	Code             string `db:"code" json:"code"`
	Name             string `db:"name" json:"name"`
	IsLab            bool   `db:"is_lab" json:"is_lab"`
	LabDurationSlots int    `db:"lab_duration_slots" json:"lab_duration_slots"`
}
