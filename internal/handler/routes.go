package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
)

// Handlers bundles the API handlers mounted under the API prefix. Mutations are audited
// to AuditLogger when set.
type Handlers struct {
	Lessons      *LessonHandler
	Timetables   *TimetableHandler
	LabSchedules *LabScheduleHandler
	AuditLogger  *zap.Logger
}

// RegisterRoutes mounts every timetable endpoint on the provided group.
func (h Handlers) RegisterRoutes(api gin.IRouter) {
	audit := func(action string) gin.HandlerFunc { return middleware.Audit(h.AuditLogger, action) }

	api.GET("/timeslots", h.Lessons.TimeSlots)

	timetables := api.Group("/timetables/:id")
	timetables.GET("/view", h.Timetables.View)
	timetables.GET("/export", h.Timetables.Export)
	timetables.POST("/placements/check", h.Lessons.Check)
	timetables.POST("/lessons", audit("lesson.place"), h.Lessons.Place)
	timetables.GET("/lessons/:lessonId/group", h.Lessons.Group)
	timetables.PUT("/lessons/:lessonId", audit("lesson.update"), h.Lessons.Update)
	timetables.DELETE("/lessons/:lessonId", audit("lesson.delete"), h.Lessons.Delete)

	labs := api.Group("/lab-schedules")
	labs.GET("", h.LabSchedules.List)
	labs.GET("/export", h.LabSchedules.Export)
	labs.POST("/regenerate", audit("lab_schedule.regenerate"), h.LabSchedules.Regenerate)
	labs.GET("/jobs/:jobId", h.LabSchedules.Job)
}
