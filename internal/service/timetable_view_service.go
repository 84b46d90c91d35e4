package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/notify"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
)

// TimetableViewService owns one reconciliation loop per viewed timetable and routes
// change events from the notification feed to them.
type TimetableViewService struct {
	fetcher  timetableFetcher
	slots    timeSlotLister
	subjects subjectLister
	feed     notify.Subscriber
	cfg      ReconcilerConfig
	metrics  *MetricsService
	logger   *zap.Logger

	opening     keyedMutex
	mu          sync.RWMutex
	reconcilers map[string]*TimetableReconciler
	lastUsed    map[string]time.Time
	now         func() time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewTimetableViewService constructs the service. Call Start to consume the feed.
func NewTimetableViewService(fetcher timetableFetcher, slots timeSlotLister, subjects subjectLister, feed notify.Subscriber, cfg ReconcilerConfig, metrics *MetricsService, logger *zap.Logger) *TimetableViewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = notify.NopFeed{}
	}
	return &TimetableViewService{
		fetcher:     fetcher,
		slots:       slots,
		subjects:    subjects,
		feed:        feed,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		reconcilers: make(map[string]*TimetableReconciler),
		lastUsed:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Start subscribes to the change feed and dispatches events until Close. With an idle
// timeout configured it also closes loops that have not been viewed for that long.
func (s *TimetableViewService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := s.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe change feed: %w", err)
	}
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for event := range events {
			s.Dispatch(event)
		}
	}()

	if s.cfg.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.evictLoop(ctx)
	}
	return nil
}

func (s *TimetableViewService) evictLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}

// EvictIdle closes the loops not viewed within the idle timeout and returns how many
// were closed. A later view reopens the timetable with a fresh load.
func (s *TimetableViewService) EvictIdle() int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.IdleTimeout)

	var idle []*TimetableReconciler
	s.mu.Lock()
	for id, r := range s.reconcilers {
		if s.lastUsed[id].After(cutoff) {
			continue
		}
		idle = append(idle, r)
		delete(s.reconcilers, id)
		delete(s.lastUsed, id)
	}
	open := len(s.reconcilers)
	s.mu.Unlock()

	for _, r := range idle {
		r.Close()
		s.logger.Info("idle timetable view closed", zap.String("timetable_id", r.TimetableID()))
	}
	if len(idle) > 0 {
		s.metrics.SetOpenViews(open)
	}
	return len(idle)
}

// Dispatch routes an event to the loop of its timetable, if one is open.
func (s *TimetableViewService) Dispatch(event models.LessonChangeEvent) {
	s.mu.RLock()
	r, ok := s.reconcilers[event.TimetableID]
	s.mu.RUnlock()
	if ok {
		r.OnChangeNotification(event)
	}
}

// Open returns the loop for timetableID, starting it on first use. Every call counts as
// a use for idle eviction.
func (s *TimetableViewService) Open(ctx context.Context, timetableID string) (*TimetableReconciler, error) {
	s.mu.Lock()
	r, ok := s.reconcilers[timetableID]
	if ok {
		s.lastUsed[timetableID] = s.now()
	}
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	unlock := s.opening.Lock(timetableID)
	defer unlock()

	s.mu.RLock()
	r, ok = s.reconcilers[timetableID]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := OpenTimetableReconciler(ctx, timetableID, s.fetcher, s.cfg, s.metrics, s.logger.Named("reconciler"))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reconcilers[timetableID] = r
	s.lastUsed[timetableID] = s.now()
	open := len(s.reconcilers)
	s.mu.Unlock()
	s.metrics.SetOpenViews(open)
	s.logger.Info("timetable view opened", zap.String("timetable_id", timetableID))
	return r, nil
}

// View returns the reconciled view of a timetable rendered as grid cells.
func (s *TimetableViewService) View(ctx context.Context, timetableID string) (*models.TimetableView, error) {
	r, err := s.Open(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	view := r.CurrentView()

	slots, err := s.slots.List(ctx)
	if err != nil {
		return nil, loadError(err, "time slots")
	}
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, loadError(err, "subjects")
	}
	view.Slots = SortSlots(slots)
	view.Cells = BuildGrid(view.Timetable.Lessons, subjects, view.Slots)
	return &view, nil
}

// Export renders the reconciled grid of a timetable.
func (s *TimetableViewService) Export(ctx context.Context, timetableID string, format export.Format) (string, []byte, error) {
	view, err := s.View(ctx, timetableID)
	if err != nil {
		return "", nil, err
	}
	labels := make(map[string]string, len(view.Slots))
	for _, slot := range view.Slots {
		labels[slot.ID] = slot.Range()
	}

	data := export.Dataset{
		Title:   view.Timetable.Name,
		Headers: []string{"Day", "Slot", "Class", "Subject", "Teacher", "Room", "Part"},
	}
	for _, cell := range view.Cells {
		room := ""
		if cell.RoomID != nil {
			room = *cell.RoomID
		}
		data.Rows = append(data.Rows, map[string]string{
			"Day":     DayName(cell.Day),
			"Slot":    labels[cell.TimeSlotID],
			"Class":   cell.ClassID,
			"Subject": cell.SubjectID,
			"Teacher": cell.TeacherID,
			"Room":    room,
			"Part":    string(cell.Role),
		})
	}
	body, err := export.Render(format, data)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable export")
	}
	return fmt.Sprintf("timetable-%s.%s", timetableID, format), body, nil
}

// Close stops the feed consumer and every loop.
func (s *TimetableViewService) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	reconcilers := s.reconcilers
	s.reconcilers = make(map[string]*TimetableReconciler)
	s.lastUsed = make(map[string]time.Time)
	s.mu.Unlock()
	for _, r := range reconcilers {
		r.Close()
	}
	s.metrics.SetOpenViews(0)
}

// BuildGrid turns a lesson set into cells ordered by day and slot. Lab halves are tagged
// head or tail; a lab head whose continuation row is missing still yields a tail cell in
// the following slot, and an orphaned continuation is attached to the lab started in the
// slot before it.
func BuildGrid(lessons []models.Lesson, subjects []models.Subject, slots []models.TimeSlot) []models.TimetableCell {
	idx := NewLessonIndex(lessons)
	cells := make([]models.TimetableCell, 0, len(lessons))
	for _, lesson := range lessons {
		cell := cellFor(lesson, models.LessonRoleSingle, []string{lesson.ID})
		if !LessonIsMultiHour(lesson, subjects) {
			cells = append(cells, cell)
			continue
		}

		link := idx.Resolve(lesson)
		switch {
		case link.Role == models.LessonRoleHead:
			cell.Role, cell.GroupLessons = models.LessonRoleHead, []string{lesson.ID, link.Partner.ID}
		case link.Role == models.LessonRoleTail:
			cell.Role, cell.GroupLessons = models.LessonRoleTail, []string{link.Partner.ID, lesson.ID}
		case lesson.IsContinuation:
			filter := OccupantFilter{ClassID: lesson.ClassID, TeacherID: lesson.TeacherID}
			if head, ok := PriorSlotOccupant(lesson.Day, lesson.TimeSlotID, lessons, subjects, slots, filter); ok {
				cell.Role, cell.GroupLessons = models.LessonRoleTail, []string{head.ID, lesson.ID}
			}
		default:
			cell.Role = models.LessonRoleHead
			if next, ok := NextSlot(slots, lesson.TimeSlotID); ok {
				tail := cellFor(lesson, models.LessonRoleTail, []string{lesson.ID})
				tail.TimeSlotID = next.ID
				cells = append(cells, tail)
			}
		}
		cells = append(cells, cell)
	}

	order := make(map[string]int, len(slots))
	for _, slot := range slots {
		order[slot.ID] = slot.Order
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].Day != cells[j].Day {
			return cells[i].Day < cells[j].Day
		}
		if order[cells[i].TimeSlotID] != order[cells[j].TimeSlotID] {
			return order[cells[i].TimeSlotID] < order[cells[j].TimeSlotID]
		}
		return cells[i].ClassID < cells[j].ClassID
	})
	return cells
}

func cellFor(lesson models.Lesson, role models.LessonRole, group []string) models.TimetableCell {
	return models.TimetableCell{
		Day:          lesson.Day,
		TimeSlotID:   lesson.TimeSlotID,
		LessonID:     lesson.ID,
		ClassID:      lesson.ClassID,
		SubjectID:    lesson.SubjectID,
		TeacherID:    lesson.TeacherID,
		RoomID:       lesson.RoomID,
		Role:         role,
		GroupLessons: group,
	}
}
