package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/pkg/constants"
)

// StepHandler handles step execution endpoints
type StepHandler struct {
	svc *services.ServiceManager
}

// NewStepHandler creates a new StepHandler
func NewStepHandler(svc *services.ServiceManager) *StepHandler {
	return &StepHandler{svc: svc}
}

// CompleteStepRequest is the body of a step completion
type CompleteStepRequest struct {
	ResultData map[string]interface{} `json:"result_data"`
}

// AssignStepRequest replaces the assignees of a waiting step
type AssignStepRequest struct {
	Assignees []string `json:"assignees" binding:"required,min=1"`
}

// CompleteStep handles POST /api/steps/:id/complete
func (h *StepHandler) CompleteStep(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req CompleteStepRequest
	if !BindOptionalJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	stepExecutionID := c.Param("id")
	if _, err := h.svc.Advancement.StepForOrganization(ctx, stepExecutionID, user.OrganizationID); err != nil {
		RespondAppError(c, err)
		return
	}
	outcome, err := h.svc.Advancement.CompleteStep(ctx, stepExecutionID, services.CompleteStepRequest{
		ResultData:  req.ResultData,
		CompletedBy: user.ID,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}

	activated := make([]string, 0, len(outcome.Activated))
	for _, s := range outcome.Activated {
		activated = append(activated, s.StepID)
	}
	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Step completed",
		"step":                 outcome.Step,
		"step_completed":       outcome.StepCompleted,
		"activated":            activated,
		"run_status":           outcome.Instance.Status,
		"run_completed":        outcome.InstanceCompleted,
	})
}

// AutoExecuteStep handles POST /api/steps/:id/auto-execute
func (h *StepHandler) AutoExecuteStep(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleActionEnvelope(c, "run", "Automation executed", func() (interface{}, error) {
		ctx := c.Request.Context()
		stepExecutionID := c.Param("id")
		if _, err := h.svc.Advancement.StepForOrganization(ctx, stepExecutionID, user.OrganizationID); err != nil {
			return nil, err
		}
		instance, err := h.svc.AutoExecutor.AutoExecuteStep(ctx, stepExecutionID)
		if err != nil {
			return nil, err
		}
		return h.svc.Advancement.GetInstanceProgress(ctx, instance.ID, user.OrganizationID)
	})
}

// RetryStep handles POST /api/steps/:id/retry
func (h *StepHandler) RetryStep(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	HandleActionEnvelope(c, "step", "Step retried", func() (interface{}, error) {
		ctx := c.Request.Context()
		stepExecutionID := c.Param("id")
		if _, err := h.svc.Advancement.StepForOrganization(ctx, stepExecutionID, user.OrganizationID); err != nil {
			return nil, err
		}
		return h.svc.Advancement.RetryStep(ctx, stepExecutionID, &user.ID)
	})
}

// AssignStep handles POST /api/steps/:id/assign
func (h *StepHandler) AssignStep(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req AssignStepRequest
	if !BindJSON(c, &req) {
		return
	}
	HandleActionEnvelope(c, "step", "Step assigned", func() (interface{}, error) {
		ctx := c.Request.Context()
		stepExecutionID := c.Param("id")
		if _, err := h.svc.Advancement.StepForOrganization(ctx, stepExecutionID, user.OrganizationID); err != nil {
			return nil, err
		}
		return h.svc.Advancement.AssignStep(ctx, stepExecutionID, req.Assignees, &user.ID)
	})
}
