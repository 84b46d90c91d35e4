package models

// TimeSlot is a period within the school day. Order is the ordering key; adjacency only
// exists between two non-break slots whose orders differ by exactly one.
type TimeSlot struct {
	ID        string `db:"id" json:"id"`
	Label     string `db:"label" json:"label"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
	Order     int    `db:"slot_order" json:"order"`
	IsBreak   bool   `db:"is_break" json:"is_break"`
}

// Range renders the slot as "08:00-09:00", falling back to its label.
func (s TimeSlot) Range() string {
	if s.StartTime == "" || s.EndTime == "" {
		return s.Label
	}
	return s.StartTime + "-" + s.EndTime
}
