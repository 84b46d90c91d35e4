package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// fakeTimetableStore serves timetables from memory and doubles as the lesson writer, so
// placements become visible to the next snapshot.
type fakeTimetableStore struct {
	mu           sync.Mutex
	timetables   map[string]models.Timetable
	err          error
	writeErr     error
	gate         chan struct{}
	ignoreCancel bool
	calls        int
	cancelled    int
	created      [][]models.Lesson
	deleted      [][]string
}

func newFakeTimetableStore(timetables ...models.Timetable) *fakeTimetableStore {
	store := &fakeTimetableStore{timetables: make(map[string]models.Timetable)}
	for _, tt := range timetables {
		store.timetables[tt.ID] = tt
	}
	return store
}

func (f *fakeTimetableStore) FindByID(ctx context.Context, id string) (*models.Timetable, error) {
	f.mu.Lock()
	gate := f.gate
	ignoreCancel := f.ignoreCancel
	f.calls++
	f.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				f.mu.Lock()
				f.cancelled++
				f.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tt, ok := f.timetables[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	lessons := make([]models.Lesson, len(tt.Lessons))
	copy(lessons, tt.Lessons)
	tt.Lessons = lessons
	return &tt, nil
}

func (f *fakeTimetableStore) setLessons(id string, lessons ...models.Lesson) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt := f.timetables[id]
	tt.ID = id
	tt.Lessons = lessons
	f.timetables[id] = tt
}

func (f *fakeTimetableStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTimetableStore) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeTimetableStore) CreateGroup(ctx context.Context, group []models.Lesson) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	copied := append([]models.Lesson(nil), group...)
	f.created = append(f.created, copied)
	tt := f.timetables[group[0].TimetableID]
	tt.Lessons = append(tt.Lessons, copied...)
	f.timetables[group[0].TimetableID] = tt
	return nil
}

func (f *fakeTimetableStore) UpdateGroup(ctx context.Context, timetableID string, ids []string, teacherID string, roomID *string) ([]models.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	tt := f.timetables[timetableID]
	var updated []models.Lesson
	for _, id := range ids {
		for i := range tt.Lessons {
			if tt.Lessons[i].ID == id {
				tt.Lessons[i].TeacherID = teacherID
				tt.Lessons[i].RoomID = roomID
				updated = append(updated, tt.Lessons[i])
			}
		}
	}
	if len(updated) != len(ids) {
		return nil, sql.ErrNoRows
	}
	return updated, nil
}

func (f *fakeTimetableStore) DeleteGroup(ctx context.Context, timetableID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.deleted = append(f.deleted, ids)
	tt := f.timetables[timetableID]
	tt.Lessons = withoutLessons(tt.Lessons, lessonsWithIDs(ids))
	f.timetables[timetableID] = tt
	return nil
}

func lessonsWithIDs(ids []string) []models.Lesson {
	out := make([]models.Lesson, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Lesson{ID: id})
	}
	return out
}

type stubSlotRepo struct {
	slots []models.TimeSlot
	err   error
}

func (s stubSlotRepo) List(ctx context.Context) ([]models.TimeSlot, error) {
	return s.slots, s.err
}

func (s stubSlotRepo) ListTeaching(ctx context.Context) ([]models.TimeSlot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return TeachingSlots(s.slots), nil
}

type stubSubjectRepo struct {
	subjects []models.Subject
	err      error
}

func (s stubSubjectRepo) List(ctx context.Context) ([]models.Subject, error) {
	return s.subjects, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LessonChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.LessonChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []models.LessonChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.LessonChangeEvent(nil), p.events...)
}
