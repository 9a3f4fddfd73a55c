package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/pkg/errors"
)

// ScheduleHandler handles recurring schedule endpoints
type ScheduleHandler struct {
	svc *services.ServiceManager
}

// NewScheduleHandler creates a new ScheduleHandler
func NewScheduleHandler(svc *services.ServiceManager) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

// ListSchedules handles GET /api/schedules?template_id=
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, "schedules", func() (interface{}, error) {
		templateID := c.Query("template_id")
		if templateID == "" {
			return nil, errors.NewValidationError("template_id", "template_id query parameter is required")
		}
		return h.svc.Scheduler.ListForOrganization(c.Request.Context(), templateID, user.OrganizationID)
	})
}

// CreateSchedule handles POST /api/schedules
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req services.ScheduleRequest
	HandleCreateEnvelope(c, "schedule", "Schedule created", &req, func() (interface{}, error) {
		req.OrganizationID = user.OrganizationID
		return h.svc.Scheduler.Schedule(c.Request.Context(), req)
	})
}

// DeleteSchedule handles DELETE /api/schedules/:id
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleDeleteEnvelope(c, "Schedule deleted", func() error {
		return h.svc.Scheduler.CancelForOrganization(c.Request.Context(), c.Param("id"), user.OrganizationID)
	})
}
