package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

const (
	labJobType        = "lab_schedule.regenerate"
	labJobRetention   = time.Hour
	defaultLabPage    = 100
	labRegenOK        = "success"
	labRegenFailed    = "failed"
	labDimensionBatch = "batch"
)

var labListingKey = cache.Key("lab_schedules", "all")

type classLister interface {
	List(ctx context.Context) ([]models.Class, error)
}

type batchLister interface {
	List(ctx context.Context) ([]models.Batch, error)
}

type teacherLister interface {
	List(ctx context.Context) ([]models.Teacher, error)
}

type labRoomLister interface {
	ListLab(ctx context.Context) ([]models.Room, error)
}

type teachingSlotLister interface {
	ListTeaching(ctx context.Context) ([]models.TimeSlot, error)
}

type classSubjectLister interface {
	List(ctx context.Context) ([]models.ClassSubject, error)
}

type labScheduleStore interface {
	ReplaceAll(ctx context.Context, rows []models.LabSchedule) ([]models.LabSchedule, error)
	ListAll(ctx context.Context) ([]models.LabSchedule, error)
}

// LabScheduleSources groups the bulk reads feeding a regeneration.
type LabScheduleSources struct {
	Subjects    subjectLister
	Classes     classLister
	Batches     batchLister
	Teachers    teacherLister
	Rooms       labRoomLister
	Slots       teachingSlotLister
	Assignments classSubjectLister
}

// LabScheduleConfig governs regeneration behaviour.
type LabScheduleConfig struct {
	Enabled     bool
	QueueBuffer int
	CacheTTL    time.Duration
}

// LabScheduleService regenerates and serves the lab-session set. Regenerations are
// serialised; a failed run leaves the previous set untouched and is never retried.
type LabScheduleService struct {
	sources   LabScheduleSources
	store     labScheduleStore
	generator LabScheduleGenerator
	checker   PlacementChecker
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       LabScheduleConfig
	now       func() time.Time

	mu    sync.Mutex
	queue *jobs.Queue

	// fillMu orders listing cache fills against the replace and cache refresh of a
	// regeneration, so a fill that read the previous set cannot land after it.
	fillMu sync.RWMutex

	jobsMu sync.RWMutex
	jobs   map[string]*models.LabRegenerationJob
}

// NewLabScheduleService wires lab scheduling dependencies. A nil generator falls back to
// the round-robin scheduler.
func NewLabScheduleService(
	sources LabScheduleSources,
	store labScheduleStore,
	generator LabScheduleGenerator,
	cacheSvc *CacheService,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg LabScheduleConfig,
) *LabScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if generator == nil {
		generator = RoundRobinLabScheduler{}
	}
	if cfg.QueueBuffer <= 0 {
		cfg.QueueBuffer = 4
	}
	svc := &LabScheduleService{
		sources:   sources,
		store:     store,
		generator: generator,
		checker:   ResourceConflictDetector{},
		cache:     cacheSvc,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		jobs:      make(map[string]*models.LabRegenerationJob),
	}
	svc.queue = jobs.NewQueue("lab-schedule", svc.runJob, jobs.QueueConfig{
		Workers:    1,
		BufferSize: cfg.QueueBuffer,
		NoRetry:    true,
		Logger:     logger,
	})
	return svc
}

// Start launches the asynchronous regeneration worker.
func (s *LabScheduleService) Start(ctx context.Context) {
	if s.cfg.Enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains the regeneration worker.
func (s *LabScheduleService) Stop() {
	s.queue.Stop()
}

// Regenerate rebuilds the full lab-session set and replaces the stored one atomically.
// Degenerate input still replaces the stored set, with an empty one.
func (s *LabScheduleService) Regenerate(ctx context.Context) (*models.LabRegenerationResult, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "lab scheduling is disabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	input, err := s.loadInput(ctx)
	if err != nil {
		s.metrics.RecordLabRegeneration(labRegenFailed, s.now().Sub(start), 0, 0)
		return nil, err
	}

	var warnings []string
	reason := input.Degenerate()
	if reason != "" {
		s.logger.Warn("lab schedule input is degenerate, generating no sessions", zap.String("reason", reason))
		warnings = append(warnings, reason)
	}

	rows := s.generator.Generate(input)
	if expected := ExpectedLabRows(input); reason == "" && len(rows) != expected {
		s.logger.Warn("lab schedule generator missed batches", zap.Int("rows", len(rows)), zap.Int("expected", expected))
		warnings = append(warnings, fmt.Sprintf("generated %d sessions, expected one per batch and lab subject (%d)", len(rows), expected))
	}
	collisions := s.audit(rows, input.Slots)
	for _, c := range collisions {
		warnings = append(warnings, fmt.Sprintf("%s %s double-booked on day %d slot %s (rows %d and %d)", c.Dimension, c.ResourceID, c.Day, c.TimeSlotID, c.Rows[0], c.Rows[1]))
	}
	if len(collisions) > 0 {
		s.logger.Warn("generated lab schedule has collisions", zap.Int("collisions", len(collisions)), zap.Int("rows", len(rows)))
	}

	s.fillMu.Lock()
	stored, err := s.store.ReplaceAll(ctx, rows)
	if err != nil {
		s.fillMu.Unlock()
		s.metrics.RecordLabRegeneration(labRegenFailed, s.now().Sub(start), 0, 0)
		s.logger.Error("lab schedule replace failed", zap.Error(err))
		return nil, writeError(err, "replace lab schedules")
	}
	s.refreshListingCache(ctx, stored)
	s.fillMu.Unlock()

	duration := s.now().Sub(start)
	s.metrics.RecordLabRegeneration(labRegenOK, duration, len(stored), len(collisions))
	s.logger.Info("lab schedule regenerated",
		zap.Int("rows", len(stored)),
		zap.Int("warnings", len(warnings)),
		zap.Duration("duration", duration),
	)
	return &models.LabRegenerationResult{
		Schedules:  stored,
		Warnings:   warnings,
		Collisions: collisions,
		Duration:   duration,
	}, nil
}

// refreshListingCache writes the committed set over the cached listing. When that write
// fails the entry is dropped instead; if both fail, readers may see the previous set
// until the TTL expires.
func (s *LabScheduleService) refreshListingCache(ctx context.Context, stored []models.LabSchedule) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Set(ctx, labListingKey, stored, s.cfg.CacheTTL); err == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.Key("lab_schedules", "*")); err != nil {
		s.logger.Error("lab schedule listing cache may be stale", zap.Duration("ttl", s.cfg.CacheTTL), zap.Error(err))
	}
}

func (s *LabScheduleService) loadInput(ctx context.Context) (LabScheduleInput, error) {
	var (
		in  LabScheduleInput
		err error
	)
	if in.Subjects, err = s.sources.Subjects.List(ctx); err != nil {
		return in, loadError(err, "subjects")
	}
	if in.Classes, err = s.sources.Classes.List(ctx); err != nil {
		return in, loadError(err, "classes")
	}
	if in.Batches, err = s.sources.Batches.List(ctx); err != nil {
		return in, loadError(err, "batches")
	}
	if in.Teachers, err = s.sources.Teachers.List(ctx); err != nil {
		return in, loadError(err, "teachers")
	}
	if in.LabRooms, err = s.sources.Rooms.ListLab(ctx); err != nil {
		return in, loadError(err, "lab rooms")
	}
	slots, err := s.sources.Slots.ListTeaching(ctx)
	if err != nil {
		return in, loadError(err, "teaching slots")
	}
	in.Slots = TeachingSlots(slots)
	if in.Assignments, err = s.sources.Assignments.List(ctx); err != nil {
		return in, loadError(err, "class subjects")
	}
	return in, nil
}

// audit replays rows through the placement checker in order. Batches attend lab sessions,
// so each batch stands in for the class in the occupancy check.
func (s *LabScheduleService) audit(rows []models.LabSchedule, slots []models.TimeSlot) []models.LabCollision {
	var collisions []models.LabCollision
	accepted := make([]models.Lesson, 0, len(rows))
	for k, row := range rows {
		placement := Placement{Day: row.Day, TimeSlotID: row.TimeSlotID, ClassID: row.BatchID, TeacherID: row.TeacherID, RoomID: row.RoomID}
		if decision := s.checker.Check(placement, accepted, slots); !decision.Allowed {
			for _, occ := range Occupants(row.Day, row.TimeSlotID, row.BatchID, row.TeacherID, row.RoomID, accepted) {
				prior, _ := strconv.Atoi(occ.ID)
				collisions = append(collisions, collisionsBetween(occ, row, prior, k)...)
			}
		}
		roomID := row.RoomID
		accepted = append(accepted, models.Lesson{
			ID:         strconv.Itoa(k),
			Day:        row.Day,
			TimeSlotID: row.TimeSlotID,
			ClassID:    row.BatchID,
			SubjectID:  row.SubjectID,
			TeacherID:  row.TeacherID,
			RoomID:     &roomID,
		})
	}
	return collisions
}

func collisionsBetween(occ models.Lesson, row models.LabSchedule, prior, current int) []models.LabCollision {
	base := models.LabCollision{Day: row.Day, TimeSlotID: row.TimeSlotID, Rows: [2]int{prior, current}}
	var out []models.LabCollision
	if occ.TeacherID == row.TeacherID {
		c := base
		c.Dimension, c.ResourceID = "teacher", row.TeacherID
		out = append(out, c)
	}
	if occ.Room() == row.RoomID {
		c := base
		c.Dimension, c.ResourceID = "room", row.RoomID
		out = append(out, c)
	}
	if occ.ClassID == row.BatchID {
		c := base
		c.Dimension, c.ResourceID = labDimensionBatch, row.BatchID
		out = append(out, c)
	}
	return out
}

// RegenerateAsync queues a regeneration on the single background worker.
func (s *LabScheduleService) RegenerateAsync(ctx context.Context) (*models.LabRegenerationJob, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "lab scheduling is disabled")
	}
	job := &models.LabRegenerationJob{
		ID:         uuid.NewString(),
		Status:     models.LabJobQueued,
		EnqueuedAt: s.now().UTC(),
	}
	s.jobsMu.Lock()
	s.pruneJobsLocked()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: labJobType, Enqueued: job.EnqueuedAt}); err != nil {
		s.jobsMu.Lock()
		delete(s.jobs, job.ID)
		s.jobsMu.Unlock()
		return nil, appErrors.Wrap(err, appErrors.ErrTransientUnavailable.Code, appErrors.ErrTransientUnavailable.Status, "regeneration queue unavailable")
	}
	s.logger.Info("lab schedule regeneration queued", zap.String("job_id", job.ID))
	snapshot := *job
	return &snapshot, nil
}

func (s *LabScheduleService) runJob(ctx context.Context, job jobs.Job) error {
	s.updateJob(job.ID, func(j *models.LabRegenerationJob) { j.Status = models.LabJobRunning })
	result, err := s.Regenerate(ctx)
	finished := s.now().UTC()
	s.updateJob(job.ID, func(j *models.LabRegenerationJob) {
		j.FinishedAt = &finished
		if err != nil {
			j.Status = models.LabJobFailed
			j.Error = err.Error()
			return
		}
		j.Status = models.LabJobSucceeded
		j.Rows = len(result.Schedules)
		j.Warnings = result.Warnings
	})
	return err
}

func (s *LabScheduleService) updateJob(id string, fn func(*models.LabRegenerationJob)) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
	}
}

func (s *LabScheduleService) pruneJobsLocked() {
	cutoff := s.now().Add(-labJobRetention)
	for id, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// Job returns the status of an asynchronous regeneration.
func (s *LabScheduleService) Job(id string) (*models.LabRegenerationJob, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "regeneration job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// List returns stored lab sessions filtered and paginated; the full set is cached.
func (s *LabScheduleService) List(ctx context.Context, query dto.LabScheduleQuery) ([]models.LabSchedule, *models.Pagination, error) {
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	filtered := make([]models.LabSchedule, 0, len(all))
	for _, row := range all {
		if query.ClassID != "" && row.ClassID != query.ClassID {
			continue
		}
		if query.TeacherID != "" && row.TeacherID != query.TeacherID {
			continue
		}
		if query.Day != nil && row.Day != *query.Day {
			continue
		}
		filtered = append(filtered, row)
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = defaultLabPage
	}
	startIdx := (page - 1) * size
	if startIdx > len(filtered) {
		startIdx = len(filtered)
	}
	endIdx := startIdx + size
	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}
	return filtered[startIdx:endIdx], &models.Pagination{Page: page, PageSize: size, TotalCount: len(filtered)}, nil
}

func (s *LabScheduleService) listAll(ctx context.Context) ([]models.LabSchedule, error) {
	var cached []models.LabSchedule
	if hit, _ := s.cache.Get(ctx, labListingKey, &cached); hit {
		return cached, nil
	}

	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	rows, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, loadError(err, "lab schedules")
	}
	_ = s.cache.Set(ctx, labListingKey, rows, s.cfg.CacheTTL)
	return rows, nil
}

// Export renders the stored lab sessions as CSV or PDF.
func (s *LabScheduleService) Export(ctx context.Context, format export.Format) (string, []byte, error) {
	rows, err := s.listAll(ctx)
	if err != nil {
		return "", nil, err
	}
	slotLabels := map[string]string{}
	if slots, err := s.sources.Slots.ListTeaching(ctx); err == nil {
		for _, slot := range slots {
			slotLabels[slot.ID] = slot.Range()
		}
	} else {
		s.logger.Warn("export falls back to slot ids", zap.Error(err))
	}

	data := export.Dataset{
		Title:   "Lab Schedule",
		Headers: []string{"Class", "Batch", "Subject", "Day", "Slot", "Teacher", "Room"},
	}
	for _, row := range rows {
		slot := row.TimeSlotID
		if label, ok := slotLabels[slot]; ok {
			slot = label
		}
		data.Rows = append(data.Rows, map[string]string{
			"Class":   row.ClassID,
			"Batch":   row.BatchID,
			"Subject": row.SubjectID,
			"Day":     DayName(row.Day),
			"Slot":    slot,
			"Teacher": row.TeacherID,
			"Room":    row.RoomID,
		})
	}
	body, err := export.Render(format, data)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render lab schedule export")
	}
	filename := fmt.Sprintf("lab-schedule-%s.%s", s.now().UTC().Format("20060102"), format)
	return filename, body, nil
}

var dayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayName renders a 0-based weekday index.
func DayName(day int) string {
	if day < 0 || day >= len(dayNames) {
		return strconv.Itoa(day)
	}
	return dayNames[day]
}
