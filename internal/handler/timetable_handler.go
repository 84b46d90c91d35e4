package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type timetableViewer interface {
	View(ctx context.Context, timetableID string) (*models.TimetableView, error)
	Export(ctx context.Context, timetableID string, format export.Format) (string, []byte, error)
}

// TimetableHandler serves reconciled timetable views.
type TimetableHandler struct {
	views timetableViewer
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableViewService) *TimetableHandler {
	return &TimetableHandler{views: svc}
}

// View godoc
// @Summary Get the reconciled grid of a timetable
// @Description The view may trail the store by up to one debounce interval; meta.state reports AWAITING_REFRESH while it does.
// @Tags Timetable
// @Produce json
// @Param id path string true "Timetable ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id}/view [get]
func (h *TimetableHandler) View(c *gin.Context) {
	view, err := h.views.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil, map[string]interface{}{
		"state":       view.State,
		"refreshedAt": view.RefreshedAt,
	})
}

// Export godoc
// @Summary Export a timetable grid
// @Tags Timetable
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Timetable ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /timetables/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export format"))
		return
	}
	filename, body, err := h.views.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, format.ContentType(), body)
}
