package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func scenarioCInput() LabScheduleInput {
	return LabScheduleInput{
		Subjects: []models.Subject{
			{ID: "phys", IsLab: true, LabDurationSlots: 2},
			{ID: "chem", IsLab: true, LabDurationSlots: 1},
			{ID: "hist"},
		},
		Classes: []models.Class{{ID: "10A"}},
		Batches: []models.Batch{
			{ID: "b1", ClassID: "10A"},
			{ID: "b2", ClassID: "10A"},
			{ID: "b3", ClassID: "10A"},
		},
		Teachers: []models.Teacher{{ID: "t0"}, {ID: "t1"}},
		LabRooms: []models.Room{{ID: "lab"}},
		Slots:    plainDay(4),
		Assignments: []models.ClassSubject{
			{ClassID: "10A", SubjectID: "phys"},
			{ClassID: "10A", SubjectID: "hist"},
			{ClassID: "10A", SubjectID: "chem"},
		},
	}
}

func TestRoundRobinLabSchedulerScenario(t *testing.T) {
	rows := RoundRobinLabScheduler{}.Generate(scenarioCInput())

	require.Len(t, rows, 6)
	assert.Equal(t, "t0", rows[4].TeacherID)
	assert.Equal(t, "t1", rows[5].TeacherID)

	assert.Equal(t, "phys", rows[0].SubjectID)
	assert.Equal(t, "chem", rows[3].SubjectID)
	assert.Equal(t, []string{"b1", "b2", "b3", "b1", "b2", "b3"}, []string{rows[0].BatchID, rows[1].BatchID, rows[2].BatchID, rows[3].BatchID, rows[4].BatchID, rows[5].BatchID})

	// four slots per day: rows 0-3 land on day 0, rows 4-5 wrap to day 1
	assert.Equal(t, 0, rows[3].Day)
	assert.Equal(t, "slot-d", rows[3].TimeSlotID)
	assert.Equal(t, 1, rows[4].Day)
	assert.Equal(t, "slot-a", rows[4].TimeSlotID)
	for _, row := range rows {
		assert.Equal(t, "lab", row.RoomID)
		assert.Empty(t, row.ID)
		assert.True(t, row.GeneratedAt.IsZero())
	}
}

func TestRoundRobinLabSchedulerCounterSharedAcrossClasses(t *testing.T) {
	in := scenarioCInput()
	in.Classes = append(in.Classes, models.Class{ID: "10B"})
	in.Batches = append(in.Batches, models.Batch{ID: "b4", ClassID: "10B"})
	in.Assignments = append(in.Assignments, models.ClassSubject{ClassID: "10B", SubjectID: "chem"})

	rows := RoundRobinLabScheduler{}.Generate(in)

	require.Len(t, rows, 7)
	last := rows[6]
	assert.Equal(t, "10B", last.ClassID)
	assert.Equal(t, "t0", last.TeacherID, "index 6 mod 2 teachers")
	assert.Equal(t, "slot-c", last.TimeSlotID, "index 6 mod 4 slots")
	assert.Equal(t, 1, last.Day)
}

func TestRoundRobinLabSchedulerWrapsWorkingDays(t *testing.T) {
	in := LabScheduleInput{
		Subjects:    []models.Subject{{ID: "lab", IsLab: true}},
		Classes:     []models.Class{{ID: "c"}},
		Teachers:    []models.Teacher{{ID: "t"}},
		LabRooms:    []models.Room{{ID: "r"}},
		Slots:       plainDay(1),
		Assignments: []models.ClassSubject{{ClassID: "c", SubjectID: "lab"}},
	}
	for i := 0; i < 7; i++ {
		in.Batches = append(in.Batches, models.Batch{ID: string(rune('0' + i)), ClassID: "c"})
	}

	rows := RoundRobinLabScheduler{}.Generate(in)

	days := make([]int, 0, len(rows))
	for _, row := range rows {
		days = append(days, row.Day)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 0, 1}, days)
}

func TestRoundRobinLabSchedulerDeterministic(t *testing.T) {
	first, err := json.Marshal(RoundRobinLabScheduler{}.Generate(scenarioCInput()))
	require.NoError(t, err)
	second, err := json.Marshal(RoundRobinLabScheduler{}.Generate(scenarioCInput()))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRoundRobinLabSchedulerCoverage(t *testing.T) {
	in := scenarioCInput()
	in.Classes = append(in.Classes, models.Class{ID: "11A"}, models.Class{ID: "empty"})
	in.Batches = append(in.Batches, models.Batch{ID: "x1", ClassID: "11A"}, models.Batch{ID: "x2", ClassID: "11A"})
	in.Assignments = append(in.Assignments,
		models.ClassSubject{ClassID: "11A", SubjectID: "chem"},
		models.ClassSubject{ClassID: "11A", SubjectID: "chem"},
		models.ClassSubject{ClassID: "empty", SubjectID: "phys"},
	)

	rows := RoundRobinLabScheduler{}.Generate(in)

	// 10A: 2 lab subjects x 3 batches, 11A: 1 x 2, empty: 1 x 0
	assert.Len(t, rows, 8)
	assert.Equal(t, ExpectedLabRows(in), len(rows))
}

func TestRoundRobinLabSchedulerDegenerateInput(t *testing.T) {
	tests := map[string]func(*LabScheduleInput){
		"no teachers": func(in *LabScheduleInput) { in.Teachers = nil },
		"no rooms":    func(in *LabScheduleInput) { in.LabRooms = nil },
		"no slots":    func(in *LabScheduleInput) { in.Slots = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := scenarioCInput()
			mutate(&in)
			rows := RoundRobinLabScheduler{}.Generate(in)
			assert.NotNil(t, rows)
			assert.Empty(t, rows)
			assert.NotEmpty(t, in.Degenerate())
		})
	}
	assert.Empty(t, scenarioCInput().Degenerate())
}
