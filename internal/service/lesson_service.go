package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/notify"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
)

type timetableFetcher interface {
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
}

type timeSlotLister interface {
	List(ctx context.Context) ([]models.TimeSlot, error)
}

type subjectLister interface {
	List(ctx context.Context) ([]models.Subject, error)
}

type lessonWriter interface {
	CreateGroup(ctx context.Context, group []models.Lesson) error
	UpdateGroup(ctx context.Context, timetableID string, ids []string, teacherID string, roomID *string) ([]models.Lesson, error)
	DeleteGroup(ctx context.Context, timetableID string, ids []string) error
}

// LessonService places, reassigns and removes lessons. Check and commit run under a
// per-timetable lock; the store's unique indexes catch writers in other processes.
type LessonService struct {
	timetables timetableFetcher
	slots      timeSlotLister
	subjects   subjectLister
	lessons    lessonWriter
	publisher  notify.Publisher
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	locks      keyedMutex
	now        func() time.Time
	newChecker func(subjects []models.Subject) PlacementChecker
}

// NewLessonService wires lesson placement dependencies.
func NewLessonService(
	timetables timetableFetcher,
	slots timeSlotLister,
	subjects subjectLister,
	lessons lessonWriter,
	publisher notify.Publisher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *LessonService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.NopFeed{}
	}
	return &LessonService{
		timetables: timetables,
		slots:      slots,
		subjects:   subjects,
		lessons:    lessons,
		publisher:  publisher,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
		newChecker: func(subjects []models.Subject) PlacementChecker {
			return ResourceConflictDetector{Subjects: subjects}
		},
	}
}

type placementSnapshot struct {
	timetable *models.Timetable
	slots     []models.TimeSlot
	subjects  []models.Subject
}

func (s *LessonService) snapshot(ctx context.Context, timetableID string) (*placementSnapshot, error) {
	timetable, err := s.timetables.FindByID(ctx, timetableID)
	if err != nil {
		return nil, loadError(err, "timetable")
	}
	slots, err := s.slots.List(ctx)
	if err != nil {
		return nil, loadError(err, "time slots")
	}
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, loadError(err, "subjects")
	}
	return &placementSnapshot{timetable: timetable, slots: SortSlots(slots), subjects: subjects}, nil
}

// TimeSlots returns the ordered slot grid.
func (s *LessonService) TimeSlots(ctx context.Context) ([]models.TimeSlot, error) {
	slots, err := s.slots.List(ctx)
	if err != nil {
		return nil, loadError(err, "time slots")
	}
	return SortSlots(slots), nil
}

// CheckPlacement previews the conflict decision for a proposed lesson.
func (s *LessonService) CheckPlacement(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) (*dto.PlacementCheckResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid placement payload")
	}
	snap, err := s.snapshot(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	placement, err := s.resolvePlacement(snap, req)
	if err != nil {
		return nil, err
	}

	decision := s.newChecker(snap.subjects).Check(placement, snap.timetable.Lessons, snap.slots)
	s.metrics.RecordPlacement(decision.Allowed, decision.Reason)

	resp := &dto.PlacementCheckResponse{Allowed: decision.Allowed, Reason: decision.Reason, MultiHour: placement.MultiHour}
	if placement.MultiHour {
		if next, ok := NextSlot(snap.slots, req.TimeSlotID); ok {
			resp.NextSlotID = next.ID
		}
	}
	return resp, nil
}

// PlaceLesson runs the conflict check and persists the lesson, plus its continuation for
// two-slot labs, as one unit.
func (s *LessonService) PlaceLesson(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) ([]models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid placement payload")
	}

	unlock := s.locks.Lock(timetableID)
	defer unlock()

	snap, err := s.snapshot(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	placement, err := s.resolvePlacement(snap, req)
	if err != nil {
		return nil, err
	}

	decision := s.newChecker(snap.subjects).Check(placement, snap.timetable.Lessons, snap.slots)
	s.metrics.RecordPlacement(decision.Allowed, decision.Reason)
	if !decision.Allowed {
		s.logger.Info("placement rejected",
			zap.String("timetable_id", timetableID),
			zap.Int("day", req.Day),
			zap.String("time_slot_id", req.TimeSlotID),
			zap.String("reason", decision.Reason),
		)
		return nil, rejectionError(req.Day, req.TimeSlotID, decision)
	}

	parent := models.Lesson{
		ID:          uuid.NewString(),
		TimetableID: timetableID,
		Day:         req.Day,
		TimeSlotID:  req.TimeSlotID,
		ClassID:     req.ClassID,
		SubjectID:   req.SubjectID,
		TeacherID:   req.TeacherID,
		RoomID:      req.RoomID,
	}
	group := []models.Lesson{parent}
	if placement.MultiHour {
		next, _ := NextSlot(snap.slots, req.TimeSlotID)
		continuation := parent
		continuation.ID = uuid.NewString()
		continuation.TimeSlotID = next.ID
		continuation.IsContinuation = true
		parentID := parent.ID
		continuation.ParentLessonID = &parentID
		group = append(group, continuation)
	}

	if err := s.lessons.CreateGroup(ctx, group); err != nil {
		return nil, writeError(err, "persist lesson")
	}

	s.logger.Info("lesson placed",
		zap.String("timetable_id", timetableID),
		zap.String("lesson_id", parent.ID),
		zap.Bool("multi_hour", placement.MultiHour),
	)
	s.publish(ctx, models.ChangeInsert, timetableID, group)
	return group, nil
}

// UpdateLesson reassigns teacher and room for the whole group of lessonID. The group's
// own rows are ignored by the recheck.
func (s *LessonService) UpdateLesson(ctx context.Context, timetableID, lessonID string, req dto.UpdateLessonRequest) ([]models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson update payload")
	}

	unlock := s.locks.Lock(timetableID)
	defer unlock()

	snap, err := s.snapshot(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	group, err := s.groupOf(snap, lessonID)
	if err != nil {
		return nil, err
	}

	others := withoutLessons(snap.timetable.Lessons, group)
	roomID := ""
	if req.RoomID != nil {
		roomID = *req.RoomID
	}
	checker := s.newChecker(snap.subjects)
	for i, member := range group {
		decision := checker.Check(Placement{
			Day:        member.Day,
			TimeSlotID: member.TimeSlotID,
			ClassID:    member.ClassID,
			TeacherID:  req.TeacherID,
			RoomID:     roomID,
		}, others, snap.slots)
		if !decision.Allowed {
			if i > 0 {
				decision.Reason = ReasonNextOccupied
			}
			s.metrics.RecordPlacement(false, decision.Reason)
			return nil, rejectionError(member.Day, member.TimeSlotID, decision)
		}
	}
	s.metrics.RecordPlacement(true, "")

	updated, err := s.lessons.UpdateGroup(ctx, timetableID, lessonIDs(group), req.TeacherID, req.RoomID)
	if err != nil {
		return nil, writeError(err, "update lesson")
	}
	s.publish(ctx, models.ChangeUpdate, timetableID, updated)
	return updated, nil
}

// DeleteLessonGroup removes the lesson and its partner in one transaction.
func (s *LessonService) DeleteLessonGroup(ctx context.Context, timetableID, lessonID string) ([]models.Lesson, error) {
	unlock := s.locks.Lock(timetableID)
	defer unlock()

	snap, err := s.snapshot(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	group, err := s.groupOf(snap, lessonID)
	if err != nil {
		return nil, err
	}
	if err := s.lessons.DeleteGroup(ctx, timetableID, lessonIDs(group)); err != nil {
		return nil, writeError(err, "delete lesson group")
	}

	s.logger.Info("lesson group deleted",
		zap.String("timetable_id", timetableID),
		zap.Strings("lesson_ids", lessonIDs(group)),
	)
	s.publish(ctx, models.ChangeDelete, timetableID, group)
	return group, nil
}

// LessonGroup returns the group containing lessonID, parent first.
func (s *LessonService) LessonGroup(ctx context.Context, timetableID, lessonID string) (*dto.LessonGroupResponse, error) {
	snap, err := s.snapshot(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	group, err := s.groupOf(snap, lessonID)
	if err != nil {
		return nil, err
	}
	return &dto.LessonGroupResponse{Lessons: group, MultiHour: LessonIsMultiHour(group[0], snap.subjects)}, nil
}

func (s *LessonService) groupOf(snap *placementSnapshot, lessonID string) ([]models.Lesson, error) {
	group := NewLessonIndex(snap.timetable.Lessons).Group(lessonID, snap.subjects)
	if len(group) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
	}
	return group, nil
}

func (s *LessonService) resolvePlacement(snap *placementSnapshot, req dto.PlaceLessonRequest) (Placement, error) {
	slot, ok := FindSlot(snap.slots, req.TimeSlotID)
	if !ok {
		return Placement{}, appErrors.Clone(appErrors.ErrValidation, "unknown time slot")
	}
	if slot.IsBreak {
		return Placement{}, appErrors.Clone(appErrors.ErrValidation, "lessons cannot be placed in a break slot")
	}
	var subject *models.Subject
	for i := range snap.subjects {
		if snap.subjects[i].ID == req.SubjectID {
			subject = &snap.subjects[i]
			break
		}
	}
	if subject == nil {
		return Placement{}, appErrors.Clone(appErrors.ErrValidation, "unknown subject")
	}

	placement := Placement{
		Day:        req.Day,
		TimeSlotID: req.TimeSlotID,
		ClassID:    req.ClassID,
		TeacherID:  req.TeacherID,
		MultiHour:  IsMultiHour(*subject),
	}
	if req.RoomID != nil {
		placement.RoomID = *req.RoomID
	}
	return placement, nil
}

func (s *LessonService) publish(ctx context.Context, changeType models.ChangeType, timetableID string, lessons []models.Lesson) {
	reqID := requestid.FromContext(ctx)
	for _, lesson := range lessons {
		event := models.LessonChangeEvent{
			Type:        changeType,
			TimetableID: timetableID,
			Lesson:      lesson,
			Source:      "lesson-service",
			RequestID:   reqID,
			EmittedAt:   s.now().UTC(),
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish change event failed",
				zap.String("timetable_id", timetableID),
				zap.String("lesson_id", lesson.ID),
				zap.String("type", string(changeType)),
				zap.Error(err),
			)
			continue
		}
		s.metrics.RecordChangeEvent("published", string(changeType))
	}
}

func lessonIDs(lessons []models.Lesson) []string {
	ids := make([]string, 0, len(lessons))
	for _, lesson := range lessons {
		ids = append(ids, lesson.ID)
	}
	return ids
}

func withoutLessons(lessons, exclude []models.Lesson) []models.Lesson {
	skip := make(map[string]bool, len(exclude))
	for _, lesson := range exclude {
		skip[lesson.ID] = true
	}
	out := make([]models.Lesson, 0, len(lessons))
	for _, lesson := range lessons {
		if !skip[lesson.ID] {
			out = append(out, lesson)
		}
	}
	return out
}
