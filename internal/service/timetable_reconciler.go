package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ReconcilerConfig tunes one reconciliation loop. A zero RefreshInterval disables the
// internal ticker; OnPeriodicTick still works. IdleTimeout is read by the view service
// to close loops nobody has viewed for that long; zero keeps them open.
type ReconcilerConfig struct {
	RefreshInterval time.Duration
	Debounce        time.Duration
	InboxSize       int
	RefreshTimeout  time.Duration
	IdleTimeout     time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 10 * time.Second
	}
	return c
}

type reconcileMsg interface{}

type msgNotify struct{ event models.LessonChangeEvent }

type msgTick struct{}

type msgDebounce struct{ gen uint64 }

type msgRefreshDone struct {
	gen       uint64
	trigger   string
	timetable *models.Timetable
	err       error
}

// TimetableReconciler keeps a local view of one timetable consistent with the store.
// Change notifications, the periodic ticker, the debounce timer and refresh completions
// all feed one inbox drained by a single goroutine, which is the only writer of the view.
type TimetableReconciler struct {
	timetableID string
	fetcher     timetableFetcher
	cfg         ReconcilerConfig
	metrics     *MetricsService
	logger      *zap.Logger

	inbox     chan reconcileMsg
	view      atomic.Pointer[models.TimetableView]
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned state
	state           models.ReconcileState
	current         models.Timetable
	refreshedAt     time.Time
	refreshGen      uint64
	inflight        bool
	inflightTrigger string
	inflightCancel  context.CancelFunc
	debounceGen     uint64
	debouncePending bool
	debounceTimer   *time.Timer
}

// OpenTimetableReconciler loads the timetable once and starts the loop. A missing
// timetable fails here and no loop is started.
func OpenTimetableReconciler(ctx context.Context, timetableID string, fetcher timetableFetcher, cfg ReconcilerConfig, metrics *MetricsService, logger *zap.Logger) (*TimetableReconciler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	fetchCtx, cancelFetch := context.WithTimeout(ctx, cfg.RefreshTimeout)
	timetable, err := fetcher.FindByID(fetchCtx, timetableID)
	cancelFetch()
	if err != nil {
		metrics.RecordRefresh(RefreshTriggerInitial, "error")
		return nil, loadError(err, "timetable")
	}
	metrics.RecordRefresh(RefreshTriggerInitial, "ok")

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &TimetableReconciler{
		timetableID: timetableID,
		fetcher:     fetcher,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.With(zap.String("timetable_id", timetableID)),
		inbox:       make(chan reconcileMsg, cfg.InboxSize),
		ctx:         loopCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       models.ReconcileStateIdle,
		current:     *timetable,
		refreshedAt: time.Now().UTC(),
	}
	r.publishView()
	go r.run()
	return r, nil
}

// TimetableID returns the id of the timetable this loop tracks.
func (r *TimetableReconciler) TimetableID() string { return r.timetableID }

// OnChangeNotification hands a change event to the loop.
func (r *TimetableReconciler) OnChangeNotification(event models.LessonChangeEvent) {
	r.post(msgNotify{event: event})
}

// OnPeriodicTick requests a fallback refresh; it is skipped while one is in flight.
func (r *TimetableReconciler) OnPeriodicTick() {
	r.post(msgTick{})
}

// CurrentView returns the latest published view. The returned value is never mutated by
// the loop.
func (r *TimetableReconciler) CurrentView() models.TimetableView {
	if view := r.view.Load(); view != nil {
		return *view
	}
	return models.TimetableView{}
}

// Close stops the loop and any in-flight refresh.
func (r *TimetableReconciler) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
	})
}

func (r *TimetableReconciler) post(msg reconcileMsg) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	}
}

func (r *TimetableReconciler) run() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(r.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case <-tick:
			r.handle(msgTick{})
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

func (r *TimetableReconciler) shutdown() {
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	if r.inflightCancel != nil {
		r.inflightCancel()
	}
}

func (r *TimetableReconciler) handle(msg reconcileMsg) {
	switch m := msg.(type) {
	case msgNotify:
		r.handleNotify(m.event)
	case msgTick:
		if r.inflight {
			return
		}
		r.startRefresh(RefreshTriggerPeriodic)
	case msgDebounce:
		if m.gen != r.debounceGen || !r.debouncePending {
			return
		}
		r.debouncePending = false
		r.supersedeInflight()
		r.startRefresh(RefreshTriggerDebounce)
	case msgRefreshDone:
		r.handleRefreshDone(m)
	}
}

func (r *TimetableReconciler) handleNotify(event models.LessonChangeEvent) {
	if event.TimetableID != r.timetableID {
		return
	}
	r.metrics.RecordChangeEvent("received", string(event.Type))

	if event.Type.Valid() && event.Lesson.ID != "" {
		r.current.Lessons = applyLessonPatch(r.current.Lessons, event)
	} else {
		r.logger.Debug("ambiguous change event, scheduling refresh only", zap.String("type", string(event.Type)))
	}

	// a refresh started before this event may predate it
	r.supersedeInflight()

	r.state = models.ReconcileStateAwaitingRefresh
	r.armDebounce()
	r.publishView()
}

// supersedeInflight cancels the running refresh; its completion is then discarded.
func (r *TimetableReconciler) supersedeInflight() {
	if !r.inflight {
		return
	}
	r.inflightCancel()
	r.inflight = false
	r.inflightCancel = nil
	r.metrics.RecordRefresh(r.inflightTrigger, "superseded")
}

func (r *TimetableReconciler) armDebounce() {
	r.debounceGen++
	r.debouncePending = true
	gen := r.debounceGen
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.cfg.Debounce, func() {
		r.post(msgDebounce{gen: gen})
	})
}

func (r *TimetableReconciler) startRefresh(trigger string) {
	r.refreshGen++
	gen := r.refreshGen
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RefreshTimeout)
	r.inflight = true
	r.inflightTrigger = trigger
	r.inflightCancel = cancel

	go func() {
		timetable, err := r.fetcher.FindByID(ctx, r.timetableID)
		cancel()
		r.post(msgRefreshDone{gen: gen, trigger: trigger, timetable: timetable, err: err})
	}()
}

func (r *TimetableReconciler) handleRefreshDone(m msgRefreshDone) {
	if !r.inflight || m.gen != r.refreshGen {
		return
	}
	r.inflight = false
	r.inflightCancel = nil

	if m.err != nil {
		r.metrics.RecordRefresh(m.trigger, "error")
		r.logger.Warn("timetable refresh failed, waiting for next tick", zap.String("trigger", m.trigger), zap.Error(m.err))
		return
	}

	r.current = *m.timetable
	r.refreshedAt = time.Now().UTC()
	if !r.debouncePending {
		r.state = models.ReconcileStateIdle
	}
	r.metrics.RecordRefresh(m.trigger, "ok")
	r.publishView()
}

func (r *TimetableReconciler) publishView() {
	lessons := make([]models.Lesson, len(r.current.Lessons))
	copy(lessons, r.current.Lessons)
	timetable := r.current
	timetable.Lessons = lessons
	r.view.Store(&models.TimetableView{
		Timetable:   timetable,
		State:       r.state,
		RefreshedAt: r.refreshedAt,
	})
}

// applyLessonPatch returns a new lesson slice with the event applied by lesson id.
// Insert and update both upsert.
func applyLessonPatch(lessons []models.Lesson, event models.LessonChangeEvent) []models.Lesson {
	out := make([]models.Lesson, 0, len(lessons)+1)
	replaced := false
	for _, lesson := range lessons {
		if lesson.ID != event.Lesson.ID {
			out = append(out, lesson)
			continue
		}
		if event.Type == models.ChangeDelete {
			continue
		}
		out = append(out, event.Lesson)
		replaced = true
	}
	if !replaced && event.Type != models.ChangeDelete {
		out = append(out, event.Lesson)
	}
	return out
}
