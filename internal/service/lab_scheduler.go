package service

import (
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// WorkingDays are the weekday indices used by lab generation.
var WorkingDays = [...]int{0, 1, 2, 3, 4}

// LabScheduleInput carries the ordered snapshots a generator reads. Slots must already be
// the ordered teaching slots.
type LabScheduleInput struct {
	Subjects    []models.Subject
	Classes     []models.Class
	Batches     []models.Batch
	Teachers    []models.Teacher
	LabRooms    []models.Room
	Slots       []models.TimeSlot
	Assignments []models.ClassSubject
}

// Degenerate reports why no lab session can be generated, or an empty string.
func (in LabScheduleInput) Degenerate() string {
	switch {
	case len(in.Teachers) == 0:
		return "no teachers available for lab sessions"
	case len(in.LabRooms) == 0:
		return "no lab rooms available"
	case len(in.Slots) == 0:
		return "no teaching slots available"
	}
	return ""
}

// LabScheduleGenerator produces a full replacement set of lab sessions.
type LabScheduleGenerator interface {
	Generate(in LabScheduleInput) []models.LabSchedule
}

// RoundRobinLabScheduler spreads (class, lab subject, batch) triples over days, slots,
// rooms and teachers with one shared counter. It does not consult the conflict detector,
// so small resource pools can double-book a teacher or room.
type RoundRobinLabScheduler struct{}

// Generate implements LabScheduleGenerator. Identical ordered input always yields the
// same output; rows carry no ids or timestamps.
func (RoundRobinLabScheduler) Generate(in LabScheduleInput) []models.LabSchedule {
	if in.Degenerate() != "" {
		return []models.LabSchedule{}
	}

	labSubjects := make(map[string]bool, len(in.Subjects))
	for _, subject := range in.Subjects {
		if subject.IsLab {
			labSubjects[subject.ID] = true
		}
	}

	slotCount := len(in.Slots)
	rows := make([]models.LabSchedule, 0)
	i := 0
	for _, class := range in.Classes {
		batches := batchesOf(in.Batches, class.ID)
		for _, subjectID := range labSubjectsOf(in.Assignments, labSubjects, class.ID) {
			for _, batch := range batches {
				rows = append(rows, models.LabSchedule{
					SubjectID:  subjectID,
					ClassID:    class.ID,
					BatchID:    batch.ID,
					Day:        WorkingDays[(i/slotCount)%len(WorkingDays)],
					TimeSlotID: in.Slots[i%slotCount].ID,
					TeacherID:  in.Teachers[i%len(in.Teachers)].ID,
					RoomID:     in.LabRooms[i%len(in.LabRooms)].ID,
				})
				i++
			}
		}
	}
	return rows
}

// ExpectedLabRows is the row count Generate emits for non-degenerate input.
func ExpectedLabRows(in LabScheduleInput) int {
	labSubjects := make(map[string]bool, len(in.Subjects))
	for _, subject := range in.Subjects {
		if subject.IsLab {
			labSubjects[subject.ID] = true
		}
	}
	total := 0
	for _, class := range in.Classes {
		total += len(labSubjectsOf(in.Assignments, labSubjects, class.ID)) * len(batchesOf(in.Batches, class.ID))
	}
	return total
}

func batchesOf(batches []models.Batch, classID string) []models.Batch {
	var out []models.Batch
	for _, batch := range batches {
		if batch.ClassID == classID {
			out = append(out, batch)
		}
	}
	return out
}

// labSubjectsOf keeps assignment order and drops repeated assignments of one subject.
func labSubjectsOf(assignments []models.ClassSubject, labSubjects map[string]bool, classID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, assignment := range assignments {
		if assignment.ClassID != classID || !labSubjects[assignment.SubjectID] || seen[assignment.SubjectID] {
			continue
		}
		seen[assignment.SubjectID] = true
		out = append(out, assignment.SubjectID)
	}
	return out
}
