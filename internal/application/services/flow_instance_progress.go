package services

import (
	"context"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

// FlowInstanceProgress contains instance data with computed step progress
type FlowInstanceProgress struct {
	ID               string             `json:"id"`
	TemplateID       string             `json:"template_id"`
	Name             string             `json:"name"`
	Status           string             `json:"status"`
	CurrentStepID    *string            `json:"current_step_id,omitempty"`
	CurrentStepOrder int                `json:"current_step_order"`
	TotalSteps       int                `json:"total_steps"`
	CompletedSteps   int                `json:"completed_steps"`
	PercentComplete  int                `json:"percent_complete"`
	LastActivityAt   *time.Time         `json:"last_activity_at,omitempty"`
	Steps            []FlowStepProgress `json:"steps"`
}

// FlowStepProgress contains step data with status for UI display
type FlowStepProgress struct {
	ID          string     `json:"id"`
	StepID      string     `json:"step_id"`
	StepOrder   int        `json:"step_order"`
	StepName    string     `json:"step_name"`
	StepType    string     `json:"step_type"`
	Status      string     `json:"status"`
	MilestoneID *string    `json:"milestone_id,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Current     bool       `json:"current"`
}

// GetInstanceProgress returns an instance with per-step progress for display.
// Skipped steps do not count toward the total.
func (a *FlowAdvancementService) GetInstanceProgress(ctx context.Context, instanceID, organizationID string) (*FlowInstanceProgress, error) {
	instance, err := a.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if organizationID != "" && instance.OrganizationID != organizationID {
		return nil, apperrors.NewNotFoundError("FlowInstance", instanceID)
	}

	progress := &FlowInstanceProgress{
		ID:             instance.ID,
		TemplateID:     instance.TemplateID,
		Name:           instance.Name,
		Status:         instance.Status,
		CurrentStepID:  instance.CurrentStepID,
		LastActivityAt: instance.LastActivityAt,
		Steps:          make([]FlowStepProgress, 0, len(instance.Steps)),
	}

	for _, exec := range instance.Steps {
		step := FlowStepProgress{
			ID:        exec.ID,
			StepID:    exec.StepID,
			StepOrder: exec.Position + 1,
			Status:    exec.Status,
			Assignees: exec.Assignees,
			DueAt:     exec.DueAt,
		}
		if def := stepDefinitionOf(instance, exec); def != nil {
			step.StepName = def.Name
			step.StepType = def.Type
			step.MilestoneID = def.MilestoneID
		}
		if instance.CurrentStepID != nil && exec.StepID == *instance.CurrentStepID {
			step.Current = true
			progress.CurrentStepOrder = step.StepOrder
		}

		switch exec.Status {
		case constants.StepStatusSkipped:
		case constants.StepStatusCompleted:
			progress.CompletedSteps++
			progress.TotalSteps++
		default:
			progress.TotalSteps++
		}
		progress.Steps = append(progress.Steps, step)
	}

	if progress.TotalSteps > 0 {
		progress.PercentComplete = progress.CompletedSteps * 100 / progress.TotalSteps
	}
	if instance.Status == constants.FlowInstanceStatusCompleted {
		progress.PercentComplete = 100
	}
	return progress, nil
}

func stepDefinitionOf(instance *models.FlowInstance, exec *models.StepExecution) *models.StepDefinition {
	if instance.Template == nil {
		return nil
	}
	return instance.Template.Definition.FindStep(exec.StepID)
}
