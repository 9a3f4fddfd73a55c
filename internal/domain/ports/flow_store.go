package ports

import (
	"context"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
)

// InstanceStore reads and writes flow instances and their step executions.
// Lookups of missing rows return a *errors.NotFoundError.
type InstanceStore interface {
	// GetInstance returns the instance with its template and step executions ordered by position
	GetInstance(ctx context.Context, instanceID string) (*models.FlowInstance, error)

	// CreateInstance inserts an instance together with its step executions
	CreateInstance(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error
	UpdateInstance(ctx context.Context, instance *models.FlowInstance) error

	GetStepExecution(ctx context.Context, stepExecutionID string) (*models.StepExecution, error)

	// UpdateStepExecution persists the mutable columns of a step execution.
	// BranchPath, ParallelGroup and Position are fixed at creation and never rewritten.
	UpdateStepExecution(ctx context.Context, step *models.StepExecution) error

	// SaveRun persists the given step executions and the instance row atomically:
	// either every row is written or none is.
	SaveRun(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error
}

// TemplateStore reads templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, templateID string) (*models.FlowTemplate, error)
	SaveTemplate(ctx context.Context, template *models.FlowTemplate) error
}

// DirectoryStore resolves organizations and users.
type DirectoryStore interface {
	GetOrganization(ctx context.Context, organizationID string) (*models.Organization, error)

	// FindAttributingUser returns the user scheduled runs are attributed to:
	// the first admin, else the first member. Returns NotFound when the org has no users.
	FindAttributingUser(ctx context.Context, organizationID string) (*models.User, error)
}

// ScheduleStore persists recurring schedules.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *models.RecurringSchedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*models.RecurringSchedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedules(ctx context.Context, templateID string) ([]*models.RecurringSchedule, error)
	ListEnabledSchedules(ctx context.Context) ([]*models.RecurringSchedule, error)
	UpdateScheduleRun(ctx context.Context, scheduleID string, lastRun *time.Time, nextRun *time.Time) error
}

// AuditLog appends audit rows.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// FlowStore is the full persistence collaborator used by the engine.
type FlowStore interface {
	InstanceStore
	TemplateStore
	DirectoryStore
	ScheduleStore
	AuditLog
}
