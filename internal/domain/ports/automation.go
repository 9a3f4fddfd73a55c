package ports

import (
	"context"

	"github.com/nexusflow/backend/internal/domain/models"
)

// AutomationDispatcher executes the side effect of one automation step and
// returns the data that becomes the step's result. It never mutates persisted state.
type AutomationDispatcher interface {
	Dispatch(ctx context.Context, stepType string, config map[string]interface{}, instance *models.FlowInstance) (map[string]interface{}, error)
}

// StepAutoExecutor runs freshly activated auto-completing steps.
// This interface lets the advancement service trigger automation without a circular dependency.
type StepAutoExecutor interface {
	MaybeAutoExecute(ctx context.Context, stepExecutionID string, step *models.StepDefinition, instance *models.FlowInstance) error
}

// ToolCallResult is the outcome of one remote tool invocation
type ToolCallResult struct {
	Structured interface{}
	Text       string
	IsError    bool
}

// ToolInvoker calls a named tool on a remote tool server.
type ToolInvoker interface {
	CallTool(ctx context.Context, serverURL, toolName string, arguments map[string]interface{}) (*ToolCallResult, error)
}

// ConditionEvaluator evaluates branch conditions.
type ConditionEvaluator interface {
	EvaluateCondition(expression string, env map[string]interface{}) (bool, error)
}
