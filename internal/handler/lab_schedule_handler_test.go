package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func TestLabScheduleHandlerRegenerateSync(t *testing.T) {
	f := newRouterFixture()
	f.labs.result = &models.LabRegenerationResult{
		Schedules: make([]models.LabSchedule, 6),
		Warnings:  []string{"teacher t0 double-booked on day 0 slot s1 (rows 0 and 5)"},
		Duration:  42 * time.Millisecond,
	}

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/lab-schedules/regenerate", nil)
	resp := performRequest(f.router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, f.labs.async)
	assert.Contains(t, resp.Body.String(), `"rows":6`)
	assert.Contains(t, resp.Body.String(), `"duration_ms":42`)
	assert.Contains(t, resp.Body.String(), "double-booked")
}

func TestLabScheduleHandlerRegenerateAsync(t *testing.T) {
	f := newRouterFixture()
	f.labs.job = &models.LabRegenerationJob{ID: "job-1", Status: models.LabJobQueued}

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/lab-schedules/regenerate?async=true", nil)
	resp := performRequest(f.router, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.True(t, f.labs.async)
	assert.Contains(t, resp.Body.String(), `"job-1"`)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/lab-schedules/jobs/job-1", nil)
	resp = performRequest(f.router, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestLabScheduleHandlerRegenerateUnavailable(t *testing.T) {
	f := newRouterFixture()
	f.labs.err = appErrors.Clone(appErrors.ErrTransientUnavailable, "failed to load teachers")

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/lab-schedules/regenerate", nil)
	resp := performRequest(f.router, req)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
}

func TestLabScheduleHandlerDisabled(t *testing.T) {
	f := newRouterFixture()
	f.labs.err = appErrors.Clone(appErrors.ErrFeatureDisabled, "lab scheduling is disabled")

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/lab-schedules/regenerate", nil)
	resp := performRequest(f.router, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "FEATURE_DISABLED")
}

func TestLabScheduleHandlerListBindsQuery(t *testing.T) {
	f := newRouterFixture()
	f.labs.rows = []models.LabSchedule{{ID: "l1", ClassID: "10A"}}

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/lab-schedules?class_id=10A&day=2&page_size=20", nil)
	resp := performRequest(f.router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "10A", f.labs.query.ClassID)
	require.NotNil(t, f.labs.query.Day)
	assert.Equal(t, 2, *f.labs.query.Day)
	assert.Equal(t, 20, f.labs.query.PageSize)
	assert.Contains(t, resp.Body.String(), `"pagination"`)
}

func TestLabScheduleHandlerListRejectsBadDay(t *testing.T) {
	f := newRouterFixture()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/lab-schedules?day=9", nil)
	resp := performRequest(f.router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLabScheduleHandlerExport(t *testing.T) {
	f := newRouterFixture()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/lab-schedules/export", nil)
	resp := performRequest(f.router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
}
