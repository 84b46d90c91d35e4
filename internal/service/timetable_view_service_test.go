package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/notify"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
)

type channelFeed struct {
	events chan models.LessonChangeEvent
	err    error
}

func (f *channelFeed) Subscribe(ctx context.Context) (<-chan models.LessonChangeEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan models.LessonChangeEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-f.events:
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func newViewServiceFixture(store *fakeTimetableStore, feed *channelFeed) *TimetableViewService {
	var sub notify.Subscriber
	if feed != nil {
		sub = feed
	}
	return NewTimetableViewService(store, stubSlotRepo{slots: lessonSlots()}, stubSubjectRepo{subjects: labSubjects()}, sub, quietConfig(), NewMetricsService(), zap.NewNop())
}

func findCell(cells []models.TimetableCell, day int, slotID, classID string) (models.TimetableCell, bool) {
	for _, cell := range cells {
		if cell.Day == day && cell.TimeSlotID == slotID && cell.ClassID == classID {
			return cell, true
		}
	}
	return models.TimetableCell{}, false
}

func TestBuildGridTagsLabHalves(t *testing.T) {
	parent, cont := labPair()
	parent.TimeSlotID, cont.TimeSlotID = "s1", "s2"
	single := models.Lesson{ID: "m", Day: 1, TimeSlotID: "s4", ClassID: "x", SubjectID: "math", TeacherID: "t2"}

	cells := BuildGrid([]models.Lesson{single, cont, parent}, labSubjects(), lessonSlots())
	require.Len(t, cells, 3)

	assert.Equal(t, "p", cells[0].LessonID)
	assert.Equal(t, models.LessonRoleHead, cells[0].Role)
	assert.Equal(t, []string{"p", "c"}, cells[0].GroupLessons)
	assert.Equal(t, models.LessonRoleTail, cells[1].Role)
	assert.Equal(t, []string{"p", "c"}, cells[1].GroupLessons)
	assert.Equal(t, models.LessonRoleSingle, cells[2].Role)
}

func TestBuildGridToleratesMissingHalves(t *testing.T) {
	slots := lessonSlots()
	head := models.Lesson{ID: "h", Day: 2, TimeSlotID: "s1", ClassID: "y", SubjectID: "chem-lab", TeacherID: "t4"}
	lone := models.Lesson{ID: "o", Day: 3, TimeSlotID: "s2", ClassID: "z", SubjectID: "chem-lab", TeacherID: "t5", IsContinuation: true, ParentLessonID: strPtr("gone")}

	cells := BuildGrid([]models.Lesson{head, lone}, labSubjects(), slots)
	require.Len(t, cells, 3)

	tail, ok := findCell(cells, 2, "s2", "y")
	require.True(t, ok, "dangling head still renders its second slot")
	assert.Equal(t, models.LessonRoleTail, tail.Role)
	assert.Equal(t, "h", tail.LessonID)

	orphan, ok := findCell(cells, 3, "s2", "z")
	require.True(t, ok)
	assert.Equal(t, models.LessonRoleSingle, orphan.Role)
}

func TestBuildGridAttachesOrphanToPriorLab(t *testing.T) {
	head := models.Lesson{ID: "h", Day: 0, TimeSlotID: "s1", ClassID: "z", SubjectID: "chem-lab", TeacherID: "t5"}
	orphan := models.Lesson{ID: "o", Day: 0, TimeSlotID: "s2", ClassID: "z", SubjectID: "chem-lab", TeacherID: "t5", IsContinuation: true, ParentLessonID: strPtr("gone")}

	cells := BuildGrid([]models.Lesson{head, orphan}, labSubjects(), lessonSlots())
	var found bool
	for _, cell := range cells {
		if cell.LessonID == "o" {
			found = true
			assert.Equal(t, models.LessonRoleTail, cell.Role)
			assert.Equal(t, []string{"h", "o"}, cell.GroupLessons)
		}
	}
	assert.True(t, found)
}

func TestBuildGridHeadBeforeBreakHasNoTail(t *testing.T) {
	head := models.Lesson{ID: "h", Day: 0, TimeSlotID: "s2", ClassID: "z", SubjectID: "chem-lab", TeacherID: "t5"}
	cells := BuildGrid([]models.Lesson{head}, labSubjects(), lessonSlots())
	require.Len(t, cells, 1)
	assert.Equal(t, models.LessonRoleHead, cells[0].Role)
}

func TestTimetableViewServiceViewAndDispatch(t *testing.T) {
	parent, cont := labPair()
	parent.TimeSlotID, cont.TimeSlotID = "s1", "s2"
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Name: "Term 1", Lessons: []models.Lesson{parent, cont}})
	svc := newViewServiceFixture(store, nil)
	defer svc.Close()

	view, err := svc.View(context.Background(), "Y")
	require.NoError(t, err)
	assert.Len(t, view.Slots, 4)
	assert.Len(t, view.Cells, 2)
	assert.Equal(t, models.ReconcileStateIdle, view.State)

	again, err := svc.Open(context.Background(), "Y")
	require.NoError(t, err)
	assert.Equal(t, 1, store.callCount(), "open loops are reused")

	svc.Dispatch(models.LessonChangeEvent{Type: models.ChangeDelete, TimetableID: "Y", Lesson: cont})
	svc.Dispatch(models.LessonChangeEvent{Type: models.ChangeDelete, TimetableID: "other", Lesson: parent})
	require.Eventually(t, func() bool {
		return len(again.CurrentView().Timetable.Lessons) == 1
	}, waitFor, pollFor)

	view, err = svc.View(context.Background(), "Y")
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileStateAwaitingRefresh, view.State)
	require.Len(t, view.Cells, 2, "head keeps rendering its tail")
	assert.Equal(t, models.LessonRoleTail, view.Cells[1].Role)
}

func TestTimetableViewServiceConsumesFeed(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	feed := &channelFeed{events: make(chan models.LessonChangeEvent, 1)}
	svc := newViewServiceFixture(store, feed)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Close()

	r, err := svc.Open(context.Background(), "Y")
	require.NoError(t, err)

	feed.events <- models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("a", "s1")}
	require.Eventually(t, func() bool {
		return len(r.CurrentView().Timetable.Lessons) == 1
	}, waitFor, pollFor)
}

func TestTimetableViewServiceEvictsIdleViews(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "A"}, models.Timetable{ID: "B"})
	cfg := quietConfig()
	cfg.IdleTimeout = time.Minute
	svc := NewTimetableViewService(store, stubSlotRepo{slots: lessonSlots()}, stubSubjectRepo{subjects: labSubjects()}, nil, cfg, NewMetricsService(), zap.NewNop())
	defer svc.Close()

	clock := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	_, err := svc.View(context.Background(), "A")
	require.NoError(t, err)
	idle, err := svc.Open(context.Background(), "B")
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	_, err = svc.View(context.Background(), "A")
	require.NoError(t, err)
	assert.Zero(t, svc.EvictIdle())

	clock = clock.Add(45 * time.Second)
	assert.Equal(t, 1, svc.EvictIdle())
	select {
	case <-idle.done:
	default:
		t.Fatal("idle loop still running")
	}

	calls := store.callCount()
	_, err = svc.View(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, calls, store.callCount(), "recently viewed loop stays open")

	reopened, err := svc.Open(context.Background(), "B")
	require.NoError(t, err)
	assert.NotSame(t, idle, reopened)
	assert.Equal(t, calls+1, store.callCount())
}

func TestTimetableViewServiceWithoutIdleTimeoutKeepsViews(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "A"})
	svc := newViewServiceFixture(store, nil)
	defer svc.Close()
	svc.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	_, err := svc.Open(context.Background(), "A")
	require.NoError(t, err)
	assert.Zero(t, svc.EvictIdle())
}

func TestTimetableViewServiceStartFails(t *testing.T) {
	feed := &channelFeed{err: errors.New("broker down")}
	svc := newViewServiceFixture(newFakeTimetableStore(), feed)
	assert.Error(t, svc.Start(context.Background()))
}

func TestTimetableViewServiceMissingTimetable(t *testing.T) {
	svc := newViewServiceFixture(newFakeTimetableStore(), nil)
	defer svc.Close()

	_, err := svc.View(context.Background(), "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestTimetableViewServiceExport(t *testing.T) {
	single := lessonAt("a", "s1")
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Name: "Term 1", Lessons: []models.Lesson{single}})
	svc := newViewServiceFixture(store, nil)
	defer svc.Close()

	filename, body, err := svc.Export(context.Background(), "Y", export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "timetable-Y.csv", filename)
	assert.True(t, strings.Contains(string(body), "07:00-07:45"))
	assert.True(t, strings.Contains(string(body), "SINGLE"))
}
