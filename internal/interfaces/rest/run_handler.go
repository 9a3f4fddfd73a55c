package rest

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
)

// RunHandler handles flow instance (run) endpoints
type RunHandler struct {
	svc *services.ServiceManager
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(svc *services.ServiceManager) *RunHandler {
	return &RunHandler{svc: svc}
}

// StartRunRequest starts a run of a template
type StartRunRequest struct {
	TemplateID      string                           `json:"template_id" binding:"required"`
	Name            string                           `json:"name"`
	RoleAssignments map[string]models.RoleAssignment `json:"role_assignments"`
	KickoffData     map[string]interface{}           `json:"kickoff_data"`
}

// StartRun handles POST /api/runs
func (h *RunHandler) StartRun(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req StartRunRequest
	HandleCreateEnvelope(c, "run", "Run started", &req, func() (interface{}, error) {
		return h.svc.Advancement.StartInstance(c.Request.Context(), services.StartInstanceRequest{
			TemplateID:      req.TemplateID,
			OrganizationID:  user.OrganizationID,
			Name:            req.Name,
			RoleAssignments: req.RoleAssignments,
			KickoffData:     req.KickoffData,
			TriggerSource:   constants.TriggerSourceAPI,
			StartedByID:     &user.ID,
		})
	})
}

// GetRun handles GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, "run", func() (interface{}, error) {
		return h.svc.Advancement.GetInstanceProgress(c.Request.Context(), c.Param("id"), user.OrganizationID)
	})
}

// CancelRun handles POST /api/runs/:id/cancel
func (h *RunHandler) CancelRun(c *gin.Context) {
	h.changeState(c, "Run cancelled", h.svc.Advancement.CancelInstance)
}

// PauseRun handles POST /api/runs/:id/pause
func (h *RunHandler) PauseRun(c *gin.Context) {
	h.changeState(c, "Run paused", h.svc.Advancement.PauseInstance)
}

// ResumeRun handles POST /api/runs/:id/resume
func (h *RunHandler) ResumeRun(c *gin.Context) {
	h.changeState(c, "Run resumed", h.svc.Advancement.ResumeInstance)
}

type instanceTransition func(ctx context.Context, instanceID string, actorID *string) (*models.FlowInstance, error)

func (h *RunHandler) changeState(c *gin.Context, successMsg string, transition instanceTransition) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleActionEnvelope(c, "run", successMsg, func() (interface{}, error) {
		ctx := c.Request.Context()
		instanceID := c.Param("id")
		if _, err := h.svc.Advancement.InstanceForOrganization(ctx, instanceID, user.OrganizationID); err != nil {
			return nil, err
		}
		return transition(ctx, instanceID, &user.ID)
	})
}
