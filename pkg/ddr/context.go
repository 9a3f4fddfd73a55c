package ddr

import (
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
)

// Context is the data a token can reference. It is rebuilt before every
// resolution pass and never persisted.
type Context struct {
	Kickoff   map[string]interface{}
	Roles     map[string]models.RoleAssignment
	Steps     map[string]map[string]interface{} // keyed by step name
	Workspace Workspace
}

// Workspace identifies the owning organization
type Workspace struct {
	ID   string
	Name string
}

// BuildContext assembles the resolution context for an instance. Only
// completed steps contribute result data.
func BuildContext(instance *models.FlowInstance, org *models.Organization) *Context {
	ctx := &Context{
		Kickoff: map[string]interface{}{},
		Roles:   map[string]models.RoleAssignment{},
		Steps:   map[string]map[string]interface{}{},
	}
	if org != nil {
		ctx.Workspace = Workspace{ID: org.ID, Name: org.Name}
	}
	if instance == nil {
		return ctx
	}
	if ctx.Workspace.ID == "" {
		ctx.Workspace.ID = instance.OrganizationID
	}
	for k, v := range instance.KickoffData {
		ctx.Kickoff[k] = v
	}
	for role, assignment := range instance.RoleAssignments {
		ctx.Roles[role] = assignment
	}

	for _, exec := range instance.Steps {
		if exec.Status != constants.StepStatusCompleted || exec.ResultData == nil {
			continue
		}
		name := exec.StepID
		if instance.Template != nil {
			if def := instance.Template.Definition.FindStep(exec.StepID); def != nil && def.Name != "" {
				name = def.Name
			}
		}
		ctx.Steps[name] = exec.ResultData
	}
	return ctx
}

// Env exposes the context to condition expressions
func (c *Context) Env() map[string]interface{} {
	roles := make(map[string]interface{}, len(c.Roles))
	for name, a := range c.Roles {
		roles[name] = map[string]interface{}{
			"name":      a.Name,
			"email":     a.Email,
			"contactId": a.ContactID,
			"userId":    a.UserID,
		}
	}
	steps := make(map[string]interface{}, len(c.Steps))
	for name, data := range c.Steps {
		steps[name] = data
	}
	return map[string]interface{}{
		"kickoff":   c.Kickoff,
		"roles":     roles,
		"steps":     steps,
		"workspace": map[string]interface{}{"id": c.Workspace.ID, "name": c.Workspace.Name},
	}
}
