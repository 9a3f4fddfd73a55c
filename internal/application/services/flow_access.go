package services

import (
	"context"

	"github.com/nexusflow/backend/internal/domain/models"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

// Rows of another organization are reported as missing, never as forbidden.

// InstanceForOrganization loads an instance owned by the organization
func (a *FlowAdvancementService) InstanceForOrganization(ctx context.Context, instanceID, organizationID string) (*models.FlowInstance, error) {
	instance, err := a.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.OrganizationID != organizationID {
		return nil, apperrors.NewNotFoundError("FlowInstance", instanceID)
	}
	return instance, nil
}

// StepForOrganization loads a step execution whose instance the organization owns
func (a *FlowAdvancementService) StepForOrganization(ctx context.Context, stepExecutionID, organizationID string) (*models.StepExecution, error) {
	exec, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, err
	}
	if _, err := a.InstanceForOrganization(ctx, exec.InstanceID, organizationID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
		}
		return nil, err
	}
	return exec, nil
}

// ListForOrganization lists the schedules of a template the organization owns
func (s *SchedulerService) ListForOrganization(ctx context.Context, templateID, organizationID string) ([]ScheduleInfo, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl.OrganizationID != organizationID {
		return nil, apperrors.NewNotFoundError("FlowTemplate", templateID)
	}
	return s.List(ctx, templateID)
}

// CancelForOrganization cancels a schedule the organization owns
func (s *SchedulerService) CancelForOrganization(ctx context.Context, scheduleID, organizationID string) error {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if schedule.OrganizationID != organizationID {
		return apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	return s.Cancel(ctx, &ScheduleHandle{ID: schedule.ID, NoOp: !s.Enabled()})
}
