package services

import (
	"context"
	"log"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

// AutoExecutorService drives chains of auto-completing steps: dispatch the
// automation, complete the step, and continue with whatever became active.
type AutoExecutorService struct {
	store         ports.InstanceStore
	advancement   *FlowAdvancementService
	dispatcher    ports.AutomationDispatcher
	registry      *StepTypeRegistry
	maxIterations int
}

var _ ports.StepAutoExecutor = (*AutoExecutorService)(nil)

// NewAutoExecutor creates the loop. maxIterations <= 0 uses the default cap.
func NewAutoExecutor(store ports.InstanceStore, advancement *FlowAdvancementService, dispatcher ports.AutomationDispatcher, registry *StepTypeRegistry, maxIterations int) *AutoExecutorService {
	if maxIterations <= 0 {
		maxIterations = constants.AutoExecMaxIterations
	}
	return &AutoExecutorService{
		store:         store,
		advancement:   advancement,
		dispatcher:    dispatcher,
		registry:      registry,
		maxIterations: maxIterations,
	}
}

type autoWorkItem struct {
	stepExecutionID string
	step            *models.StepDefinition
}

// MaybeAutoExecute runs the step if it is auto-completing, then keeps going
// through newly activated automation steps. Parallel activations are queued;
// every dispatch counts toward the iteration cap.
func (e *AutoExecutorService) MaybeAutoExecute(ctx context.Context, stepExecutionID string, step *models.StepDefinition, instance *models.FlowInstance) error {
	if step == nil || !e.registry.IsAutoCompleting(step.Type) {
		return nil
	}

	queue := []autoWorkItem{{stepExecutionID: stepExecutionID, step: step}}
	dispatched := 0
	for len(queue) > 0 {
		if dispatched >= e.maxIterations {
			log.Printf("⚠️ Auto-execution of instance %s stopped after %d steps; %d step(s) left in progress",
				instance.ID, dispatched, len(queue))
			return nil
		}
		item := queue[0]
		queue = queue[1:]

		current, err := e.store.GetInstance(ctx, instance.ID)
		if err != nil {
			return err
		}
		if current.Status != constants.FlowInstanceStatusInProgress {
			log.Printf("⏸️ Auto-execution of instance %s halted: instance is %s", current.ID, current.Status)
			return nil
		}
		exec := current.FindStepExecution(item.stepExecutionID)
		if exec == nil || exec.Status != constants.StepStatusInProgress {
			continue
		}

		dispatched++
		result, err := e.dispatcher.Dispatch(ctx, item.step.Type, item.step.Config, current)
		if err != nil {
			log.Printf("❌ Automation step %s (%s) of instance %s failed: %v", item.step.ID, item.step.Type, current.ID, err)
			if ferr := e.advancement.FailStep(ctx, exec.ID, err.Error()); ferr != nil {
				log.Printf("⚠️ Could not record failure of step %s: %v", item.step.ID, ferr)
			}
			return nil
		}

		outcome, err := e.advancement.CompleteStep(ctx, exec.ID, CompleteStepRequest{
			ResultData: result,
			Options:    CompleteOptions{SkipAIReview: true, SkipAutoExec: true},
		})
		if err != nil {
			if apperrors.IsConflict(err) {
				log.Printf("⏸️ Auto-execution of instance %s halted: %v", current.ID, err)
				return nil
			}
			return err
		}
		if outcome.InstanceCompleted {
			return nil
		}
		for _, next := range outcome.Activated {
			def := current.Template.Definition.FindStep(next.StepID)
			if def != nil && e.registry.IsAutoCompleting(def.Type) {
				queue = append(queue, autoWorkItem{stepExecutionID: next.ID, step: def})
			}
		}
	}
	return nil
}

// AutoExecuteStep is the manual entry point: it loads the step and its
// definition and runs the loop from there.
func (e *AutoExecutorService) AutoExecuteStep(ctx context.Context, stepExecutionID string) (*models.FlowInstance, error) {
	exec, err := e.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, err
	}
	instance, err := e.store.GetInstance(ctx, exec.InstanceID)
	if err != nil {
		return nil, err
	}
	def := instance.Template.Definition.FindStep(exec.StepID)
	if def == nil || !e.registry.IsAutoCompleting(def.Type) {
		return nil, apperrors.NewValidationError("step", "step is not an automation step")
	}
	if err := e.MaybeAutoExecute(ctx, exec.ID, def, instance); err != nil {
		return nil, err
	}
	return e.store.GetInstance(ctx, exec.InstanceID)
}
