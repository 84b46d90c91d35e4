package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type lessonPlacer interface {
	TimeSlots(ctx context.Context) ([]models.TimeSlot, error)
	CheckPlacement(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) (*dto.PlacementCheckResponse, error)
	PlaceLesson(ctx context.Context, timetableID string, req dto.PlaceLessonRequest) ([]models.Lesson, error)
	UpdateLesson(ctx context.Context, timetableID, lessonID string, req dto.UpdateLessonRequest) ([]models.Lesson, error)
	DeleteLessonGroup(ctx context.Context, timetableID, lessonID string) ([]models.Lesson, error)
	LessonGroup(ctx context.Context, timetableID, lessonID string) (*dto.LessonGroupResponse, error)
}

// LessonHandler exposes manual placement endpoints.
type LessonHandler struct {
	service lessonPlacer
}

// NewLessonHandler constructs the handler.
func NewLessonHandler(svc *service.LessonService) *LessonHandler {
	return &LessonHandler{service: svc}
}

// TimeSlots godoc
// @Summary List time slots
// @Description Returns the day's slots ordered by position, breaks included.
// @Tags Timetable
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timeslots [get]
func (h *LessonHandler) TimeSlots(c *gin.Context) {
	slots, err := h.service.TimeSlots(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Check godoc
// @Summary Preview a lesson placement
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param payload body dto.PlaceLessonRequest true "Proposed lesson"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id}/placements/check [post]
func (h *LessonHandler) Check(c *gin.Context) {
	var req dto.PlaceLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid placement payload"))
		return
	}
	result, err := h.service.CheckPlacement(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Place godoc
// @Summary Place a lesson
// @Description Two-slot lab subjects also claim the following slot through a continuation lesson.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param payload body dto.PlaceLessonRequest true "Lesson to place"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /timetables/{id}/lessons [post]
func (h *LessonHandler) Place(c *gin.Context) {
	var req dto.PlaceLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid placement payload"))
		return
	}
	group, err := h.service.PlaceLesson(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// Group godoc
// @Summary Get the lesson group containing a lesson
// @Tags Timetable
// @Produce json
// @Param id path string true "Timetable ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/lessons/{lessonId}/group [get]
func (h *LessonHandler) Group(c *gin.Context) {
	group, err := h.service.LessonGroup(c.Request.Context(), c.Param("id"), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// Update godoc
// @Summary Reassign teacher and room of a lesson group
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param lessonId path string true "Lesson ID"
// @Param payload body dto.UpdateLessonRequest true "New assignment"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/lessons/{lessonId} [put]
func (h *LessonHandler) Update(c *gin.Context) {
	var req dto.UpdateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lesson update payload"))
		return
	}
	updated, err := h.service.UpdateLesson(c.Request.Context(), c.Param("id"), c.Param("lessonId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Delete godoc
// @Summary Delete a lesson with its partner
// @Tags Timetable
// @Produce json
// @Param id path string true "Timetable ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/lessons/{lessonId} [delete]
func (h *LessonHandler) Delete(c *gin.Context) {
	removed, err := h.service.DeleteLessonGroup(c.Request.Context(), c.Param("id"), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": lessonIDs(removed)}, nil)
}

func lessonIDs(lessons []models.Lesson) []string {
	ids := make([]string, 0, len(lessons))
	for _, lesson := range lessons {
		ids = append(ids, lesson.ID)
	}
	return ids
}
