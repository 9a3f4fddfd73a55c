package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/errors"
)

// DDRHandler previews dynamic data reference resolution
type DDRHandler struct {
	svc *services.ServiceManager
}

// NewDDRHandler creates a new DDRHandler
func NewDDRHandler(svc *services.ServiceManager) *DDRHandler {
	return &DDRHandler{svc: svc}
}

// ResolveRequest names the run to resolve against and the value to resolve
type ResolveRequest struct {
	InstanceID string      `json:"instance_id"`
	Value      interface{} `json:"value"`
}

// Resolve handles POST /api/ddr/resolve
func (h *DDRHandler) Resolve(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if !BindJSON(c, &req) {
		return
	}
	HandleGetEnvelope(c, "preview", func() (interface{}, error) {
		if req.Value == nil {
			return nil, errors.NewValidationError("value", "value is required")
		}
		ctx := c.Request.Context()
		var instance *models.FlowInstance
		if req.InstanceID != "" {
			inst, err := h.svc.Advancement.InstanceForOrganization(ctx, req.InstanceID, user.OrganizationID)
			if err != nil {
				return nil, err
			}
			instance = inst
		}
		return h.svc.Dispatcher.PreviewTokens(ctx, instance, req.Value), nil
	})
}
