package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
)

type lessonPlacerMock struct {
	captured  dto.PlaceLessonRequest
	timetable string
	group     []models.Lesson
	err       error
}

func (m *lessonPlacerMock) TimeSlots(ctx context.Context) ([]models.TimeSlot, error) {
	return []models.TimeSlot{{ID: "s1", Order: 1}}, m.err
}

func (m *lessonPlacerMock) CheckPlacement(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) (*dto.PlacementCheckResponse, error) {
	m.captured, m.timetable = req, timetableID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.PlacementCheckResponse{Allowed: true, MultiHour: true, NextSlotID: "s2"}, nil
}

func (m *lessonPlacerMock) PlaceLesson(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) ([]models.Lesson, error) {
	m.captured, m.timetable = req, timetableID
	return m.group, m.err
}

func (m *lessonPlacerMock) UpdateLesson(ctx context.Context, timetableID, lessonID string, req dto.UpdateLessonRequest) ([]models.Lesson, error) {
	m.timetable = timetableID
	return m.group, m.err
}

func (m *lessonPlacerMock) DeleteLessonGroup(ctx context.Context, timetableID, lessonID string) ([]models.Lesson, error) {
	m.timetable = timetableID
	return m.group, m.err
}

func (m *lessonPlacerMock) LessonGroup(ctx context.Context, timetableID, lessonID string) (*dto.LessonGroupResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.LessonGroupResponse{Lessons: m.group, MultiHour: len(m.group) == 2}, nil
}

type timetableViewerMock struct {
	view   *models.TimetableView
	format export.Format
	err    error
}

func (m *timetableViewerMock) View(ctx context.Context, timetableID string) (*models.TimetableView, error) {
	return m.view, m.err
}

func (m *timetableViewerMock) Export(ctx context.Context, timetableID string, format export.Format) (string, []byte, error) {
	m.format = format
	if m.err != nil {
		return "", nil, m.err
	}
	return "timetable-" + timetableID + "." + string(format), []byte("Day,Slot\n"), nil
}

type labSchedulerMock struct {
	result *models.LabRegenerationResult
	job    *models.LabRegenerationJob
	rows   []models.LabSchedule
	query  dto.LabScheduleQuery
	async  bool
	err    error
}

func (m *labSchedulerMock) Regenerate(ctx context.Context) (*models.LabRegenerationResult, error) {
	return m.result, m.err
}

func (m *labSchedulerMock) RegenerateAsync(ctx context.Context) (*models.LabRegenerationJob, error) {
	m.async = true
	return m.job, m.err
}

func (m *labSchedulerMock) Job(id string) (*models.LabRegenerationJob, error) {
	return m.job, m.err
}

func (m *labSchedulerMock) List(ctx context.Context, query dto.LabScheduleQuery) ([]models.LabSchedule, *models.Pagination, error) {
	m.query = query
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.rows, &models.Pagination{Page: 1, PageSize: 100, TotalCount: len(m.rows)}, nil
}

func (m *labSchedulerMock) Export(ctx context.Context, format export.Format) (string, []byte, error) {
	return "lab-schedule." + string(format), []byte("%PDF"), m.err
}

type routerFixture struct {
	lessons *lessonPlacerMock
	views   *timetableViewerMock
	labs    *labSchedulerMock
	router  *gin.Engine
}

func newRouterFixture() *routerFixture {
	gin.SetMode(gin.TestMode)
	f := &routerFixture{
		lessons: &lessonPlacerMock{},
		views:   &timetableViewerMock{view: &models.TimetableView{State: models.ReconcileStateIdle, RefreshedAt: time.Unix(0, 0).UTC()}},
		labs:    &labSchedulerMock{},
	}
	handlers := Handlers{
		Lessons:      &LessonHandler{service: f.lessons},
		Timetables:   &TimetableHandler{views: f.views},
		LabSchedules: &LabScheduleHandler{service: f.labs, validator: validator.New()},
	}
	f.router = gin.New()
	handlers.RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

func performRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
