package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type labScheduler interface {
	Regenerate(ctx context.Context) (*models.LabRegenerationResult, error)
	RegenerateAsync(ctx context.Context) (*models.LabRegenerationJob, error)
	Job(id string) (*models.LabRegenerationJob, error)
	List(ctx context.Context, query dto.LabScheduleQuery) ([]models.LabSchedule, *models.Pagination, error)
	Export(ctx context.Context, format export.Format) (string, []byte, error)
}

// LabScheduleHandler exposes lab session regeneration and listing.
type LabScheduleHandler struct {
	service   labScheduler
	validator *validator.Validate
}

// NewLabScheduleHandler constructs the handler.
func NewLabScheduleHandler(svc *service.LabScheduleService) *LabScheduleHandler {
	return &LabScheduleHandler{service: svc, validator: validator.New()}
}

// Regenerate godoc
// @Summary Regenerate all lab sessions
// @Description Replaces the stored lab sessions. With async=true the run is queued and a job is returned.
// @Tags Lab Schedule
// @Produce json
// @Param async query bool false "Queue the run instead of waiting"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /lab-schedules/regenerate [post]
func (h *LabScheduleHandler) Regenerate(c *gin.Context) {
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async {
		job, err := h.service.RegenerateAsync(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, job)
		return
	}

	result, err := h.service.Regenerate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RegenerateLabScheduleResponse{
		Rows:       len(result.Schedules),
		Warnings:   result.Warnings,
		Collisions: result.Collisions,
		DurationMs: result.Duration.Milliseconds(),
	}, nil)
}

// Job godoc
// @Summary Get an asynchronous regeneration job
// @Tags Lab Schedule
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /lab-schedules/jobs/{jobId} [get]
func (h *LabScheduleHandler) Job(c *gin.Context) {
	job, err := h.service.Job(c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// List godoc
// @Summary List stored lab sessions
// @Tags Lab Schedule
// @Produce json
// @Param class_id query string false "Class ID"
// @Param teacher_id query string false "Teacher ID"
// @Param day query int false "Weekday index, 0 is Monday"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /lab-schedules [get]
func (h *LabScheduleHandler) List(c *gin.Context) {
	var query dto.LabScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	rows, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Export godoc
// @Summary Export stored lab sessions
// @Tags Lab Schedule
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /lab-schedules/export [get]
func (h *LabScheduleHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export format"))
		return
	}
	filename, body, err := h.service.Export(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, format.ContentType(), body)
}
