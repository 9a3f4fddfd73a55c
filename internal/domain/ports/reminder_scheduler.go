package ports

import (
	"github.com/nexusflow/backend/internal/domain/models"
)

// ReminderScheduler arms reminder and overdue timers for an activated step
// and disarms them once the step reaches a terminal state.
type ReminderScheduler interface {
	Arm(instance *models.FlowInstance, step *models.StepExecution, def *models.StepDefinition)
	Disarm(stepExecutionID string)
}
