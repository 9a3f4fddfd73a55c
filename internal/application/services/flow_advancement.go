package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nexusflow/backend/internal/domain"
	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/ddr"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// CompleteOptions suppresses nested behaviour when completion is driven by
// the auto-execution loop.
type CompleteOptions struct {
	SkipAIReview bool
	SkipAutoExec bool
}

// CompleteStepRequest carries the result of a finished step
type CompleteStepRequest struct {
	ResultData  map[string]interface{}
	CompletedBy string
	Options     CompleteOptions
}

// CompletionOutcome describes what a completion changed
type CompletionOutcome struct {
	Instance          *models.FlowInstance
	Step              *models.StepExecution
	StepCompleted     bool // false while a multi-assignee step waits for more participants
	Activated         []*models.StepExecution
	InstanceCompleted bool
}

// StartInstanceRequest describes a new run of a template
type StartInstanceRequest struct {
	TemplateID       string
	OrganizationID   string
	Name             string
	RoleAssignments  map[string]models.RoleAssignment
	KickoffData      map[string]interface{}
	TriggerSource    string
	StartedByID      *string
	ParentInstanceID *string
	ParentStepID     *string
	SkipAutoExec     bool
}

// FlowAdvancementService owns every mutation of flow instances and step
// executions. Mutations of one instance are serialised; side effects that
// may re-enter the service (automation, sub-flows) run after the lock is released.
type FlowAdvancementService struct {
	store        ports.FlowStore
	publisher    ports.EventPublisher
	reminders    ports.ReminderScheduler
	conditions   ports.ConditionEvaluator
	registry     *StepTypeRegistry
	stateMachine *domain.FlowStateMachine
	autoExec     ports.StepAutoExecutor
	locks        *instanceLocks
	now          func() time.Time
}

// NewFlowAdvancementService creates the advancement service. reminders may be nil.
func NewFlowAdvancementService(store ports.FlowStore, publisher ports.EventPublisher, reminders ports.ReminderScheduler, conditions ports.ConditionEvaluator, registry *StepTypeRegistry) *FlowAdvancementService {
	return &FlowAdvancementService{
		store:        store,
		publisher:    publisher,
		reminders:    reminders,
		conditions:   conditions,
		registry:     registry,
		stateMachine: domain.NewFlowStateMachine(),
		locks:        newInstanceLocks(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetAutoExecutor wires the auto-execution loop after construction
func (a *FlowAdvancementService) SetAutoExecutor(exec ports.StepAutoExecutor) {
	a.autoExec = exec
}

// GetInstance returns an instance with its template and steps
func (a *FlowAdvancementService) GetInstance(ctx context.Context, instanceID string) (*models.FlowInstance, error) {
	return a.store.GetInstance(ctx, instanceID)
}

// StartInstance creates an instance of an active template, activates its
// first step and runs automation for it unless suppressed.
func (a *FlowAdvancementService) StartInstance(ctx context.Context, req StartInstanceRequest) (*models.FlowInstance, error) {
	tpl, err := a.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if req.OrganizationID != "" && tpl.OrganizationID != req.OrganizationID {
		return nil, apperrors.NewNotFoundError("FlowTemplate", req.TemplateID)
	}
	if tpl.Status != constants.TemplateStatusActive {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("template is %s; only active templates can start", tpl.Status))
	}
	if err := validateDefinition(&tpl.Definition); err != nil {
		return nil, err
	}

	now := a.now()
	source := req.TriggerSource
	if source == "" {
		source = constants.TriggerSourceManual
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s - %s", tpl.Name, now.Format("2006-01-02"))
	}

	instance := &models.FlowInstance{
		ID:               utils.GenerateID(),
		OrganizationID:   tpl.OrganizationID,
		TemplateID:       tpl.ID,
		Name:             name,
		Status:           constants.FlowInstanceStatusInProgress,
		RoleAssignments:  req.RoleAssignments,
		KickoffData:      req.KickoffData,
		TriggerSource:    source,
		StartedByID:      req.StartedByID,
		StartedAt:        now,
		LastActivityAt:   &now,
		ParentInstanceID: req.ParentInstanceID,
		ParentStepID:     req.ParentStepID,
		Template:         tpl,
	}
	if instance.KickoffData == nil {
		instance.KickoffData = map[string]interface{}{}
	}

	paths := stampBranchPaths(&tpl.Definition)
	instance.Steps = make([]*models.StepExecution, 0, len(tpl.Definition.Steps))
	for i, def := range tpl.Definition.Steps {
		instance.Steps = append(instance.Steps, &models.StepExecution{
			ID:             utils.GenerateID(),
			InstanceID:     instance.ID,
			StepID:         def.ID,
			Position:       i,
			Status:         constants.StepStatusPending,
			CompletionMode: completionModeOf(def.CompletionMode),
			BranchPath:     paths[def.ID],
			ParallelGroup:  def.ParallelGroup,
		})
	}

	run := a.newRun(ctx, instance)
	release := a.locks.Lock(instance.ID)
	a.advance(run)
	run.audit(constants.AuditRunStarted, nil, req.StartedByID, map[string]interface{}{
		"template_id":    tpl.ID,
		"trigger_source": source,
	})
	run.emit(events.RunStarted, nil)
	err = a.commit(ctx, run, true)
	release()
	if err != nil {
		return nil, fmt.Errorf("failed to create flow instance: %w", err)
	}

	log.Printf("✅ FlowInstance started: %s from template %s (%s)", instance.ID, tpl.ID, source)
	a.publish(run)
	a.followUp(ctx, run, CompleteOptions{SkipAutoExec: req.SkipAutoExec})

	if fresh, err := a.store.GetInstance(ctx, instance.ID); err == nil {
		return fresh, nil
	}
	return instance, nil
}

// CompleteStep records the result of an active step and advances the instance
func (a *FlowAdvancementService) CompleteStep(ctx context.Context, stepExecutionID string, req CompleteStepRequest) (*CompletionOutcome, error) {
	lookup, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, err
	}

	release := a.locks.Lock(lookup.InstanceID)
	run, err := a.load(ctx, lookup.InstanceID)
	if err != nil {
		release()
		return nil, err
	}
	outcome, err := a.completeLocked(run, stepExecutionID, req)
	if err == nil {
		err = a.commit(ctx, run, false)
	}
	release()
	if err != nil {
		return nil, err
	}

	a.publish(run)
	a.followUp(ctx, run, req.Options)
	return outcome, nil
}

func (a *FlowAdvancementService) completeLocked(run *flowRun, stepExecutionID string, req CompleteStepRequest) (*CompletionOutcome, error) {
	if err := a.ensureRunning(run.instance); err != nil {
		return nil, err
	}
	exec := run.instance.FindStepExecution(stepExecutionID)
	if exec == nil {
		return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	if !domain.IsStepActive(domain.StepState(exec.Status)) {
		return nil, apperrors.NewConflictError("StepExecution", exec.Status, "step is not awaiting completion")
	}
	def := run.def.FindStep(exec.StepID)
	if def == nil {
		return nil, apperrors.NewValidationError("step_id", fmt.Sprintf("step %q is not part of the template definition", exec.StepID))
	}

	outcome := &CompletionOutcome{Instance: run.instance, Step: exec}
	result := mergeResult(exec.ResultData, req.ResultData)
	var actor *string
	if req.CompletedBy != "" {
		actor = &req.CompletedBy
		exec.CompletedBy = appendUnique(exec.CompletedBy, req.CompletedBy)
	}

	if len(exec.Assignees) > 1 {
		need := completionThreshold(exec.CompletionMode, len(exec.Assignees))
		if len(exec.CompletedBy) < need {
			exec.ResultData = result
			run.touch(exec)
			run.audit(constants.AuditStepProgress, exec, actor, map[string]interface{}{
				"completed_by": len(exec.CompletedBy),
				"required":     need,
			})
			run.stampActivity()
			run.emit(events.RunUpdated, stepEventData(exec))
			return outcome, nil
		}
	}

	var selected *models.BranchDefinition
	if def.Type == constants.StepTypeDecision && len(def.Branches) > 0 {
		branch, err := resolveDecision(def, result)
		if err != nil {
			return nil, err
		}
		selected = branch
		result[constants.ResultKeyOutcome] = branch.ID
	}
	if !req.Options.SkipAIReview && utils.ToBool(def.Config[constants.ConfigAIReview]) {
		result[constants.ResultKeyAIReviewRequested] = true
	}

	if err := a.transitionStep(exec, domain.StepTransitionComplete); err != nil {
		return nil, err
	}
	now := run.now
	exec.CompletedAt = &now
	exec.ResultData = result
	run.touch(exec)
	run.disarmed = append(run.disarmed, exec.ID)
	run.audit(constants.AuditStepCompleted, exec, actor, nil)
	run.emit(events.StepCompleted, stepEventData(exec))
	if !a.registry.IsAutoCompleting(def.Type) {
		run.emit(events.AttentionChanged, stepEventData(exec))
	}
	outcome.StepCompleted = true

	if selected != nil {
		a.skipSteps(run, stepsOutsideBranches(run.def, def, []models.BranchDefinition{*selected}), "branch not taken")
		run.audit(constants.AuditBranchResolved, exec, actor, map[string]interface{}{"branches": []string{selected.ID}})
	}

	if a.advanceAfter(run, exec, def) {
		a.advance(run)
	}

	run.stampActivity()
	run.emit(events.RunUpdated, nil)
	outcome.Activated = run.activated
	outcome.InstanceCompleted = run.completed
	return outcome, nil
}

// advanceAfter settles the parallel group of a completed step and reports
// whether the instance may move on.
func (a *FlowAdvancementService) advanceAfter(run *flowRun, exec *models.StepExecution, def *models.StepDefinition) bool {
	if exec.ParallelGroup == "" {
		return true
	}
	members := groupMembers(run.instance.Steps, exec)
	if !groupSatisfied(members, def.GroupCompletionMode) {
		return false
	}
	for _, m := range members {
		if m.Status == constants.StepStatusPending || domain.IsStepActive(domain.StepState(m.Status)) {
			a.skipStep(run, m, "parallel group satisfied")
		}
	}
	return true
}

// advance activates the next pending step, or the whole parallel group it
// opens, and completes the instance once nothing is pending or active.
func (a *FlowAdvancementService) advance(run *flowRun) {
	for guard := 0; guard <= len(run.instance.Steps); guard++ {
		if hasActiveStep(run.instance.Steps) {
			return
		}
		idx := firstPendingIndex(run.instance.Steps)
		if idx < 0 {
			a.completeInstance(run)
			return
		}

		next := run.instance.Steps[idx]
		batch := []*models.StepExecution{next}
		if next.ParallelGroup != "" {
			for j := idx + 1; j < len(run.instance.Steps); j++ {
				s := run.instance.Steps[j]
				if s.ParallelGroup != next.ParallelGroup {
					break
				}
				if s.Status == constants.StepStatusPending {
					batch = append(batch, s)
				}
			}
		}
		for _, exec := range batch {
			a.activateStep(run, exec)
		}
	}
}

// activateStep moves a pending step into its working state
func (a *FlowAdvancementService) activateStep(run *flowRun, exec *models.StepExecution) {
	def := run.def.FindStep(exec.StepID)
	info, known := StepTypeInfo{}, false
	if def != nil {
		info, known = a.registry.Get(def.Type)
	}
	if !known {
		stepType := "<missing>"
		if def != nil {
			stepType = def.Type
		}
		log.Printf("⚠️ Step %s of instance %s has unknown type %s, skipping", exec.StepID, run.instance.ID, stepType)
		a.skipStep(run, exec, "unknown step type")
		return
	}

	now := run.now
	exec.StartedAt = &now
	stepID := exec.StepID
	run.instance.CurrentStepID = &stepID

	switch info.Category {
	case CategoryBranch:
		a.resolveBranchStep(run, exec, def)
		return
	case CategorySubFlow:
		_ = a.transitionStep(exec, domain.StepTransitionActivate)
		run.subFlows = append(run.subFlows, exec)
	case CategoryAutomation:
		_ = a.transitionStep(exec, domain.StepTransitionActivate)
	default:
		exec.Assignees = resolveAssignees(run.instance, def)
		exec.CompletionMode = completionModeOf(def.CompletionMode)
		if len(def.AssigneeRoles) > 0 && len(exec.Assignees) == 0 {
			_ = a.transitionStep(exec, domain.StepTransitionAwaitAssignee)
		} else {
			_ = a.transitionStep(exec, domain.StepTransitionActivate)
		}
		if def.DueInHours > 0 {
			due := now.Add(time.Duration(def.DueInHours) * time.Hour)
			exec.DueAt = &due
		}
		if def.EscalateInHours > 0 {
			esc := now.Add(time.Duration(def.EscalateInHours) * time.Hour)
			exec.EscalateAt = &esc
		}
		run.armed = append(run.armed, exec)
		run.emit(events.AttentionChanged, stepEventData(exec))
	}

	run.touch(exec)
	run.activated = append(run.activated, exec)
}

// resolveBranchStep evaluates a conditional branch step and completes it at once
func (a *FlowAdvancementService) resolveBranchStep(run *flowRun, exec *models.StepExecution, def *models.StepDefinition) {
	env := ddr.BuildContext(run.instance, run.org).Env()
	selected := resolveConditionalBranches(def, env, a.conditions)
	ids := branchIDs(selected)

	result := map[string]interface{}{}
	if def.Type == constants.StepTypeMultiChoiceBranch {
		result[constants.ResultKeyOutcomes] = ids
	} else if len(ids) > 0 {
		result[constants.ResultKeyOutcome] = ids[0]
	} else {
		result[constants.ResultKeyOutcome] = nil
	}

	_ = a.transitionStep(exec, domain.StepTransitionActivate)
	_ = a.transitionStep(exec, domain.StepTransitionComplete)
	now := run.now
	exec.CompletedAt = &now
	exec.ResultData = result
	run.touch(exec)

	a.skipSteps(run, stepsOutsideBranches(run.def, def, selected), "branch not taken")
	run.audit(constants.AuditBranchResolved, exec, nil, map[string]interface{}{"branches": ids})
	run.emit(events.StepCompleted, stepEventData(exec))
	log.Printf("🔀 Branch step %s of instance %s selected %v", exec.StepID, run.instance.ID, ids)
}

func (a *FlowAdvancementService) skipSteps(run *flowRun, stepIDs []string, reason string) {
	if len(stepIDs) == 0 {
		return
	}
	skip := make(map[string]bool, len(stepIDs))
	for _, id := range stepIDs {
		skip[id] = true
	}
	for _, exec := range run.instance.Steps {
		if skip[exec.StepID] && !domain.IsStepTerminal(domain.StepState(exec.Status)) {
			a.skipStep(run, exec, reason)
		}
	}
}

func (a *FlowAdvancementService) skipStep(run *flowRun, exec *models.StepExecution, reason string) {
	wasActive := domain.IsStepActive(domain.StepState(exec.Status))
	if err := a.transitionStep(exec, domain.StepTransitionSkip); err != nil {
		return
	}
	now := run.now
	exec.CompletedAt = &now
	exec.ResultData = mergeResult(exec.ResultData, map[string]interface{}{
		constants.ResultKeySkipped: true,
		constants.ResultKeyReason:  reason,
	})
	run.touch(exec)
	if wasActive {
		run.disarmed = append(run.disarmed, exec.ID)
		run.emit(events.AttentionChanged, stepEventData(exec))
	}
	run.audit(constants.AuditStepSkipped, exec, nil, map[string]interface{}{"reason": reason})
}

func (a *FlowAdvancementService) completeInstance(run *flowRun) {
	if _, err := a.transitionInstance(run.instance, domain.TransitionComplete); err != nil {
		return
	}
	now := run.now
	run.instance.CompletedAt = &now
	run.instance.CurrentStepID = nil
	run.completed = true
	run.audit(constants.AuditRunCompleted, nil, nil, nil)
	run.emit(events.RunCompleted, nil)
	log.Printf("✅ FlowInstance completed: %s", run.instance.ID)
}

// FailStep marks an active step failed with the given message
func (a *FlowAdvancementService) FailStep(ctx context.Context, stepExecutionID string, message string) error {
	lookup, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return err
	}

	release := a.locks.Lock(lookup.InstanceID)
	run, err := a.load(ctx, lookup.InstanceID)
	if err == nil {
		err = a.failLocked(run, stepExecutionID, message)
	}
	if err == nil {
		err = a.commit(ctx, run, false)
	}
	release()
	if err != nil {
		return err
	}
	a.publish(run)
	return nil
}

func (a *FlowAdvancementService) failLocked(run *flowRun, stepExecutionID, message string) error {
	switch run.instance.Status {
	case constants.FlowInstanceStatusCancelled, constants.FlowInstanceStatusCompleted:
		return apperrors.NewConflictError("FlowInstance", run.instance.Status, "instance is no longer running")
	}
	exec := run.instance.FindStepExecution(stepExecutionID)
	if exec == nil {
		return apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	if err := a.transitionStep(exec, domain.StepTransitionFail); err != nil {
		return err
	}
	exec.ResultData = mergeResult(exec.ResultData, map[string]interface{}{
		constants.ResultKeyError:    message,
		constants.ResultKeyFailedAt: run.now.Format(time.RFC3339),
	})
	run.touch(exec)
	run.disarmed = append(run.disarmed, exec.ID)
	run.audit(constants.AuditStepFailed, exec, nil, map[string]interface{}{"error": message})

	data := stepEventData(exec)
	data["error"] = message
	run.emit(events.StepFailed, data)
	run.emit(events.RunUpdated, nil)
	run.stampActivity()
	log.Printf("❌ Step %s of instance %s failed: %s", exec.StepID, run.instance.ID, message)
	return nil
}

// RetryStep moves a failed step back to in-progress and re-runs its automation
func (a *FlowAdvancementService) RetryStep(ctx context.Context, stepExecutionID string, actorID *string) (*models.StepExecution, error) {
	lookup, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, err
	}

	release := a.locks.Lock(lookup.InstanceID)
	run, err := a.load(ctx, lookup.InstanceID)
	var exec *models.StepExecution
	if err == nil {
		exec, err = a.retryLocked(run, stepExecutionID, actorID)
	}
	if err == nil {
		err = a.commit(ctx, run, false)
	}
	release()
	if err != nil {
		return nil, err
	}

	a.publish(run)
	a.followUp(ctx, run, CompleteOptions{})
	if fresh, err := a.store.GetStepExecution(ctx, stepExecutionID); err == nil {
		return fresh, nil
	}
	return exec, nil
}

func (a *FlowAdvancementService) retryLocked(run *flowRun, stepExecutionID string, actorID *string) (*models.StepExecution, error) {
	if err := a.ensureRunning(run.instance); err != nil {
		return nil, err
	}
	exec := run.instance.FindStepExecution(stepExecutionID)
	if exec == nil {
		return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	if err := a.transitionStep(exec, domain.StepTransitionRetry); err != nil {
		return nil, err
	}
	delete(exec.ResultData, constants.ResultKeyError)
	delete(exec.ResultData, constants.ResultKeyFailedAt)
	now := run.now
	exec.StartedAt = &now
	run.touch(exec)
	run.activated = append(run.activated, exec)
	if def := run.def.FindStep(exec.StepID); def != nil {
		if def.Type == constants.StepTypeSubFlow {
			run.subFlows = append(run.subFlows, exec)
		} else if !a.registry.IsAutoCompleting(def.Type) {
			run.armed = append(run.armed, exec)
		}
	}
	run.audit(constants.AuditStepRetried, exec, actorID, nil)
	run.emit(events.RunUpdated, stepEventData(exec))
	run.stampActivity()
	return exec, nil
}

// AssignStep sets the assignees of an active step. A step waiting for an
// assignee becomes in-progress.
func (a *FlowAdvancementService) AssignStep(ctx context.Context, stepExecutionID string, assignees []string, actorID *string) (*models.StepExecution, error) {
	if len(assignees) == 0 {
		return nil, apperrors.NewValidationError("assignees", "at least one assignee is required")
	}
	lookup, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, err
	}

	release := a.locks.Lock(lookup.InstanceID)
	defer release()
	run, err := a.load(ctx, lookup.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := a.ensureRunning(run.instance); err != nil {
		return nil, err
	}
	exec := run.instance.FindStepExecution(stepExecutionID)
	if exec == nil {
		return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	switch exec.Status {
	case constants.StepStatusWaitingForAssignee:
		if err := a.transitionStep(exec, domain.StepTransitionActivate); err != nil {
			return nil, err
		}
	case constants.StepStatusInProgress:
	default:
		return nil, apperrors.NewConflictError("StepExecution", exec.Status, "step cannot be assigned")
	}
	exec.Assignees = append([]string(nil), assignees...)
	exec.CompletedBy = nil
	run.touch(exec)
	run.armed = append(run.armed, exec)
	run.audit(constants.AuditStepAssigned, exec, actorID, map[string]interface{}{"assignees": assignees})
	run.emit(events.AttentionChanged, stepEventData(exec))
	run.emit(events.RunUpdated, stepEventData(exec))
	run.stampActivity()

	if err := a.commit(ctx, run, false); err != nil {
		return nil, err
	}
	a.publish(run)
	return exec, nil
}

// CancelInstance terminates an instance. No further advancement happens.
func (a *FlowAdvancementService) CancelInstance(ctx context.Context, instanceID string, actorID *string) (*models.FlowInstance, error) {
	return a.changeInstanceState(ctx, instanceID, actorID, domain.TransitionCancel, constants.AuditRunCancelled)
}

// PauseInstance halts advancement until the instance is resumed
func (a *FlowAdvancementService) PauseInstance(ctx context.Context, instanceID string, actorID *string) (*models.FlowInstance, error) {
	return a.changeInstanceState(ctx, instanceID, actorID, domain.TransitionPause, constants.AuditRunPaused)
}

// ResumeInstance continues a paused instance and re-runs automation for
// automated steps that were left in progress.
func (a *FlowAdvancementService) ResumeInstance(ctx context.Context, instanceID string, actorID *string) (*models.FlowInstance, error) {
	return a.changeInstanceState(ctx, instanceID, actorID, domain.TransitionResume, constants.AuditRunResumed)
}

func (a *FlowAdvancementService) changeInstanceState(ctx context.Context, instanceID string, actorID *string, action domain.FlowTransition, auditAction string) (*models.FlowInstance, error) {
	release := a.locks.Lock(instanceID)
	run, err := a.load(ctx, instanceID)
	if err != nil {
		release()
		return nil, err
	}
	if _, err := a.transitionInstance(run.instance, action); err != nil {
		release()
		return nil, err
	}

	for _, exec := range run.instance.Steps {
		if !domain.IsStepActive(domain.StepState(exec.Status)) {
			continue
		}
		switch action {
		case domain.TransitionCancel, domain.TransitionPause:
			run.disarmed = append(run.disarmed, exec.ID)
		case domain.TransitionResume:
			def := run.def.FindStep(exec.StepID)
			if def != nil && a.registry.IsAutoCompleting(def.Type) {
				run.activated = append(run.activated, exec)
			} else {
				run.armed = append(run.armed, exec)
			}
		}
	}

	run.stampActivity()
	run.audit(auditAction, nil, actorID, nil)
	run.emit(events.RunUpdated, nil)
	run.emit(events.AttentionChanged, nil)
	err = a.commit(ctx, run, false)
	release()
	if err != nil {
		return nil, err
	}

	log.Printf("⏯️ FlowInstance %s: %s -> %s", instanceID, action, run.instance.Status)
	a.publish(run)
	a.followUp(ctx, run, CompleteOptions{})
	return run.instance, nil
}

// RecordReminder counts a reminder for an active step. ok is false when the
// step no longer needs reminding.
func (a *FlowAdvancementService) RecordReminder(ctx context.Context, stepExecutionID string) (*models.StepExecution, *models.FlowInstance, bool, error) {
	lookup, err := a.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return nil, nil, false, err
	}
	release := a.locks.Lock(lookup.InstanceID)
	defer release()

	run, err := a.load(ctx, lookup.InstanceID)
	if err != nil {
		return nil, nil, false, err
	}
	exec := run.instance.FindStepExecution(stepExecutionID)
	if exec == nil || run.instance.Status != constants.FlowInstanceStatusInProgress || !domain.IsStepActive(domain.StepState(exec.Status)) {
		return exec, run.instance, false, nil
	}
	now := run.now
	exec.ReminderCount++
	exec.LastReminderAt = &now
	run.touch(exec)
	run.audit(constants.AuditReminderSent, exec, nil, map[string]interface{}{"count": exec.ReminderCount})
	run.emit(events.AttentionChanged, stepEventData(exec))
	if err := a.commit(ctx, run, false); err != nil {
		return nil, nil, false, err
	}
	a.publish(run)
	return exec, run.instance, true, nil
}

// followUp runs the side effects that may re-enter the service
func (a *FlowAdvancementService) followUp(ctx context.Context, run *flowRun, opts CompleteOptions) {
	for _, exec := range run.subFlows {
		a.launchSubFlow(ctx, run.instance, exec)
	}
	if run.completed && run.instance.ParentInstanceID != nil && run.instance.ParentStepID != nil {
		a.completeParentStep(ctx, run.instance)
	}
	if opts.SkipAutoExec || a.autoExec == nil {
		return
	}
	for _, exec := range run.activated {
		def := run.def.FindStep(exec.StepID)
		if def == nil || !a.registry.IsAutoCompleting(def.Type) {
			continue
		}
		if err := a.autoExec.MaybeAutoExecute(ctx, exec.ID, def, run.instance); err != nil {
			log.Printf("⚠️ Auto-execution of step %s failed: %v", exec.StepID, err)
		}
	}
}

func (a *FlowAdvancementService) launchSubFlow(ctx context.Context, parent *models.FlowInstance, exec *models.StepExecution) {
	def := parent.Template.Definition.FindStep(exec.StepID)
	if def == nil {
		return
	}
	if depth := a.subFlowDepth(ctx, parent); depth >= constants.SubFlowMaxDepth {
		a.failQuietly(ctx, exec.ID, fmt.Sprintf("sub-flow nesting exceeds %d levels", constants.SubFlowMaxDepth))
		return
	}

	kickoff := make(map[string]interface{}, len(parent.KickoffData))
	for k, v := range parent.KickoffData {
		kickoff[k] = v
	}
	if extra, ok := GetConfigMap(def.Config, "kickoffData"); ok {
		org, _ := a.store.GetOrganization(ctx, parent.OrganizationID)
		resolved := ddr.ResolveDeep(extra, ddr.BuildContext(parent, org)).(map[string]interface{})
		for k, v := range resolved {
			kickoff[k] = v
		}
	}

	parentID, stepExecID := parent.ID, exec.ID
	child, err := a.StartInstance(ctx, StartInstanceRequest{
		TemplateID:       def.SubFlowTemplateID,
		OrganizationID:   parent.OrganizationID,
		Name:             def.Name,
		RoleAssignments:  parent.RoleAssignments,
		KickoffData:      kickoff,
		TriggerSource:    constants.TriggerSourceSubFlow,
		StartedByID:      parent.StartedByID,
		ParentInstanceID: &parentID,
		ParentStepID:     &stepExecID,
	})
	if err != nil {
		log.Printf("❌ Sub-flow %s for step %s failed to start: %v", def.SubFlowTemplateID, exec.StepID, err)
		a.failQuietly(ctx, exec.ID, "sub-flow failed to start: "+err.Error())
		return
	}
	log.Printf("✅ Sub-flow %s started for step %s of instance %s", child.ID, exec.StepID, parent.ID)
}

func (a *FlowAdvancementService) completeParentStep(ctx context.Context, child *models.FlowInstance) {
	_, err := a.CompleteStep(ctx, *child.ParentStepID, CompleteStepRequest{
		ResultData: map[string]interface{}{constants.ResultKeyChildInstanceID: child.ID},
	})
	if err != nil {
		log.Printf("⚠️ Could not complete parent step %s for sub-flow %s: %v", *child.ParentStepID, child.ID, err)
	}
}

func (a *FlowAdvancementService) subFlowDepth(ctx context.Context, instance *models.FlowInstance) int {
	depth := 0
	current := instance
	for current.ParentInstanceID != nil && depth <= constants.SubFlowMaxDepth {
		parent, err := a.store.GetInstance(ctx, *current.ParentInstanceID)
		if err != nil {
			break
		}
		depth++
		current = parent
	}
	return depth
}

func (a *FlowAdvancementService) failQuietly(ctx context.Context, stepExecutionID, message string) {
	if err := a.FailStep(ctx, stepExecutionID, message); err != nil {
		log.Printf("⚠️ Could not mark step %s failed: %v", stepExecutionID, err)
	}
}

func (a *FlowAdvancementService) ensureRunning(instance *models.FlowInstance) error {
	switch instance.Status {
	case constants.FlowInstanceStatusInProgress:
		return nil
	case constants.FlowInstanceStatusCancelled:
		return apperrors.NewConflictError("FlowInstance", instance.Status, "instance is cancelled")
	case constants.FlowInstanceStatusPaused:
		return apperrors.NewConflictError("FlowInstance", instance.Status, "instance is paused")
	default:
		return apperrors.NewConflictError("FlowInstance", instance.Status, "instance is not running")
	}
}

func (a *FlowAdvancementService) transitionStep(exec *models.StepExecution, action domain.StepTransition) error {
	next, err := a.stateMachine.StepTransition(domain.StepState(exec.Status), action)
	if err != nil {
		return apperrors.NewConflictError("StepExecution", exec.Status, err.Error())
	}
	exec.Status = string(next)
	return nil
}

func (a *FlowAdvancementService) transitionInstance(instance *models.FlowInstance, action domain.FlowTransition) (domain.FlowState, error) {
	next, err := a.stateMachine.Transition(domain.FlowState(instance.Status), action)
	if err != nil {
		return next, apperrors.NewConflictError("FlowInstance", instance.Status, err.Error())
	}
	instance.Status = string(next)
	return next, nil
}
