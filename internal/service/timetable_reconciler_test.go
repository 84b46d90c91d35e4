package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

const (
	waitFor = time.Second
	pollFor = 5 * time.Millisecond
)

// quietConfig keeps the debounce and the ticker out of the way so a test drives every
// refresh explicitly.
func quietConfig() ReconcilerConfig {
	return ReconcilerConfig{Debounce: time.Hour, RefreshTimeout: time.Second}
}

func openReconciler(t *testing.T, store *fakeTimetableStore, id string, cfg ReconcilerConfig) *TimetableReconciler {
	t.Helper()
	r, err := OpenTimetableReconciler(context.Background(), id, store, cfg, NewMetricsService(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func lessonAt(id, slot string) models.Lesson {
	return models.Lesson{ID: id, TimetableID: "Y", Day: 0, TimeSlotID: slot, ClassID: "10A", SubjectID: "math", TeacherID: "t1"}
}

func viewLessonIDs(view models.TimetableView) []string {
	ids := make([]string, 0, len(view.Timetable.Lessons))
	for _, lesson := range view.Timetable.Lessons {
		ids = append(ids, lesson.ID)
	}
	return ids
}

func TestReconcilerIgnoresOtherTimetables(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())
	before := r.CurrentView()

	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "X", Lesson: lessonAt("b", "s2")})
	// a tick round-trips through the inbox, so the notification above has been handled
	store.setLessons("Y", lessonAt("a", "s1"))
	r.OnPeriodicTick()
	require.Eventually(t, func() bool { return store.callCount() == 2 }, waitFor, pollFor)

	after := r.CurrentView()
	assert.Equal(t, viewLessonIDs(before), viewLessonIDs(after))
	assert.Equal(t, models.ReconcileStateIdle, after.State)
}

func TestReconcilerAppliesOptimisticPatch(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())

	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("b", "s2")})
	require.Eventually(t, func() bool {
		view := r.CurrentView()
		return view.State == models.ReconcileStateAwaitingRefresh && len(view.Timetable.Lessons) == 2
	}, waitFor, pollFor)

	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeDelete, TimetableID: "Y", Lesson: models.Lesson{ID: "a"}})
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"b"}, viewLessonIDs(r.CurrentView()))
	}, waitFor, pollFor)
}

func TestReconcilerDebouncedRefreshConverges(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	r := openReconciler(t, store, "Y", ReconcilerConfig{Debounce: 20 * time.Millisecond})

	// the store is authoritative: the patched lesson b never landed, c did
	store.setLessons("Y", lessonAt("c", "s3"))
	for i := 0; i < 5; i++ {
		r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("b", "s2")})
	}

	require.Eventually(t, func() bool {
		view := r.CurrentView()
		return view.State == models.ReconcileStateIdle && assert.ObjectsAreEqual([]string{"c"}, viewLessonIDs(view))
	}, waitFor, pollFor)
	assert.Equal(t, 2, store.callCount(), "burst collapses into one refresh")
}

func TestReconcilerAmbiguousEventSchedulesRefreshOnly(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())

	r.OnChangeNotification(models.LessonChangeEvent{Type: "TRUNCATE", TimetableID: "Y", Lesson: lessonAt("z", "s1")})
	require.Eventually(t, func() bool {
		return r.CurrentView().State == models.ReconcileStateAwaitingRefresh
	}, waitFor, pollFor)
	assert.Equal(t, []string{"a"}, viewLessonIDs(r.CurrentView()))
}

func TestReconcilerPeriodicTickRefreshes(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	r := openReconciler(t, store, "Y", ReconcilerConfig{Debounce: time.Hour, RefreshInterval: 10 * time.Millisecond})

	store.setLessons("Y", lessonAt("a", "s1"), lessonAt("b", "s2"))
	require.Eventually(t, func() bool {
		return len(r.CurrentView().Timetable.Lessons) == 2
	}, waitFor, pollFor)
	assert.False(t, r.CurrentView().RefreshedAt.IsZero())
}

func TestReconcilerSkipsTickWhileRefreshInFlight(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	r := openReconciler(t, store, "Y", quietConfig())

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	r.OnPeriodicTick()
	require.Eventually(t, func() bool { return store.callCount() == 2 }, waitFor, pollFor)
	r.OnPeriodicTick()
	r.OnPeriodicTick()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, store.callCount())

	close(gate)
	require.Eventually(t, func() bool {
		r.OnPeriodicTick()
		return store.callCount() >= 3
	}, waitFor, pollFor)
}

func TestReconcilerDiscardsSupersededRefresh(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.ignoreCancel = true
	store.mu.Unlock()

	// this refresh reads a snapshot without lesson b
	r.OnPeriodicTick()
	require.Eventually(t, func() bool { return store.callCount() == 2 }, waitFor, pollFor)

	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("b", "s2")})
	require.Eventually(t, func() bool { return len(r.CurrentView().Timetable.Lessons) == 2 }, waitFor, pollFor)

	close(gate)
	time.Sleep(20 * time.Millisecond)

	view := r.CurrentView()
	assert.Equal(t, []string{"a", "b"}, viewLessonIDs(view), "stale snapshot must not overwrite the patch")
	assert.Equal(t, models.ReconcileStateAwaitingRefresh, view.State)
}

func TestReconcilerDebounceSupersedesPeriodicRefresh(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	metrics := NewMetricsService()
	r, err := OpenTimetableReconciler(context.Background(), "Y", store, ReconcilerConfig{Debounce: 30 * time.Millisecond, RefreshTimeout: time.Minute}, metrics, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("b", "s2")})
	r.OnPeriodicTick()

	// initial load, the periodic refresh, then the debounced one replacing it
	require.Eventually(t, func() bool { return store.callCount() == 3 }, waitFor, pollFor)
	require.Eventually(t, func() bool { return store.cancelledCount() == 1 }, waitFor, pollFor)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconcileRefreshes.WithLabelValues(RefreshTriggerPeriodic, "superseded")))

	store.setLessons("Y", lessonAt("b", "s2"))
	close(gate)
	require.Eventually(t, func() bool {
		return r.CurrentView().State == models.ReconcileStateIdle
	}, waitFor, pollFor)
	assert.Equal(t, []string{"b"}, viewLessonIDs(r.CurrentView()))
	assert.Equal(t, 3, store.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconcileRefreshes.WithLabelValues(RefreshTriggerDebounce, "ok")))
}

func TestReconcilerRefreshErrorKeepsView(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())
	refreshedAt := r.CurrentView().RefreshedAt

	store.mu.Lock()
	store.err = errors.New("connection refused")
	store.mu.Unlock()

	r.OnPeriodicTick()
	require.Eventually(t, func() bool { return store.callCount() == 2 }, waitFor, pollFor)
	time.Sleep(10 * time.Millisecond)

	view := r.CurrentView()
	assert.Equal(t, []string{"a"}, viewLessonIDs(view))
	assert.Equal(t, refreshedAt, view.RefreshedAt)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	store.setLessons("Y")
	require.Eventually(t, func() bool {
		r.OnPeriodicTick()
		return len(r.CurrentView().Timetable.Lessons) == 0
	}, waitFor, pollFor)
}

func TestOpenReconcilerMissingTimetable(t *testing.T) {
	store := newFakeTimetableStore()
	_, err := OpenTimetableReconciler(context.Background(), "ghost", store, quietConfig(), nil, nil)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	store.err = errors.New("timeout")
	_, err = OpenTimetableReconciler(context.Background(), "ghost", store, quietConfig(), nil, nil)
	assert.True(t, errors.Is(err, appErrors.ErrTransientUnavailable))
}

func TestReconcilerCurrentViewIsACopy(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y", Lessons: []models.Lesson{lessonAt("a", "s1")}})
	r := openReconciler(t, store, "Y", quietConfig())

	view := r.CurrentView()
	view.Timetable.Lessons[0].TeacherID = "mutated"
	assert.Equal(t, "t1", r.CurrentView().Timetable.Lessons[0].TeacherID)
}

func TestReconcilerCloseIsIdempotent(t *testing.T) {
	store := newFakeTimetableStore(models.Timetable{ID: "Y"})
	r, err := OpenTimetableReconciler(context.Background(), "Y", store, quietConfig(), nil, nil)
	require.NoError(t, err)

	r.Close()
	r.Close()
	// posting after close must not block
	r.OnPeriodicTick()
	r.OnChangeNotification(models.LessonChangeEvent{Type: models.ChangeInsert, TimetableID: "Y", Lesson: lessonAt("a", "s1")})
}

func TestApplyLessonPatch(t *testing.T) {
	base := []models.Lesson{lessonAt("a", "s1"), lessonAt("b", "s2")}

	updated := lessonAt("a", "s1")
	updated.TeacherID = "t9"
	out := applyLessonPatch(base, models.LessonChangeEvent{Type: models.ChangeUpdate, Lesson: updated})
	require.Len(t, out, 2)
	assert.Equal(t, "t9", out[0].TeacherID)
	assert.Equal(t, "t1", base[0].TeacherID, "input untouched")

	out = applyLessonPatch(base, models.LessonChangeEvent{Type: models.ChangeUpdate, Lesson: lessonAt("c", "s3")})
	assert.Len(t, out, 3, "update of an unknown lesson upserts")

	out = applyLessonPatch(base, models.LessonChangeEvent{Type: models.ChangeDelete, Lesson: models.Lesson{ID: "b"}})
	assert.Equal(t, []string{"a"}, []string{out[0].ID})
	assert.Len(t, out, 1)

	out = applyLessonPatch(base, models.LessonChangeEvent{Type: models.ChangeDelete, Lesson: models.Lesson{ID: "zz"}})
	assert.Len(t, out, 2)
}
