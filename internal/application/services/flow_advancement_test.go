package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/infrastructure/persistence"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/expression"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

func auditCount(h *flowHarness, action string) int {
	n := 0
	for _, e := range h.store.AuditEntries() {
		if e.Action == action {
			n++
		}
	}
	return n
}

func TestStartInstance_ActivatesFirstStep(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t, humanStep("intake", "Client"), humanStep("review", "Manager"), humanStep("wrapup"))

	inst := h.start(t, tpl, map[string]interface{}{"Company": "Acme"})

	assert.Equal(t, constants.FlowInstanceStatusInProgress, inst.Status)
	assert.Equal(t, constants.TriggerSourceManual, inst.TriggerSource)
	require.NotNil(t, inst.CurrentStepID)
	assert.Equal(t, "intake", *inst.CurrentStepID)
	assert.Equal(t, map[string]string{
		"intake": constants.StepStatusInProgress,
		"review": constants.StepStatusPending,
		"wrapup": constants.StepStatusPending,
	}, statuses(inst))

	intake := stepExec(t, inst, "intake")
	assert.Equal(t, []string{"contact-1"}, intake.Assignees)
	assert.NotNil(t, intake.StartedAt)
	assert.Equal(t, []string{intake.ID}, h.reminders.armed)
	assert.Equal(t, 1, h.events.Count(events.RunStarted))
	assert.Equal(t, 1, auditCount(h, constants.AuditRunStarted))
}

func TestStartInstance_RejectsTemplatesThatCannotRun(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.FlowTemplate)
	}{
		{"draft", func(tpl *models.FlowTemplate) { tpl.Status = constants.TemplateStatusDraft }},
		{"no steps", func(tpl *models.FlowTemplate) { tpl.Definition.Steps = nil }},
		{"sub-flow without template", func(tpl *models.FlowTemplate) {
			tpl.Definition.Steps = append(tpl.Definition.Steps, models.StepDefinition{ID: "child", Type: constants.StepTypeSubFlow})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFlowHarness(t)
			tpl := h.saveTemplate(t, humanStep("intake"))
			tt.mutate(tpl)
			require.NoError(t, h.store.SaveTemplate(context.Background(), tpl))

			_, err := h.adv.StartInstance(context.Background(), StartInstanceRequest{TemplateID: tpl.ID, OrganizationID: testOrgID})
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Equal(t, 0, h.store.InstanceCount())
		})
	}
}

func TestStartInstance_OtherOrganizationCannotSeeTemplate(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t, humanStep("intake"))

	_, err := h.adv.StartInstance(context.Background(), StartInstanceRequest{TemplateID: tpl.ID, OrganizationID: "org-2"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompleteStep_LinearFlowRunsToCompletion(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t, humanStep("intake", "Client"), humanStep("review", "Manager"), humanStep("wrapup"))
	inst := h.start(t, tpl, nil)

	out := h.complete(t, inst, "intake", map[string]interface{}{"notes": "ok"})
	assert.True(t, out.StepCompleted)
	require.Len(t, out.Activated, 1)
	assert.Equal(t, "review", out.Activated[0].StepID)
	assert.Equal(t, []string{"user-1"}, out.Activated[0].Assignees)

	h.complete(t, inst, "review", nil)
	out = h.complete(t, inst, "wrapup", nil)
	assert.True(t, out.InstanceCompleted)

	final := h.reload(t, inst.ID)
	assert.Equal(t, constants.FlowInstanceStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.CurrentStepID)
	assert.Equal(t, "ok", stepExec(t, final, "intake").ResultData["notes"])
	assert.Equal(t, 1, h.events.Count(events.RunCompleted))
	assert.Equal(t, 3, h.events.Count(events.StepCompleted))
	assert.Equal(t, 1, auditCount(h, constants.AuditRunCompleted))
	assert.Contains(t, h.reminders.disarmed, stepExec(t, final, "wrapup").ID)
}

func TestCompleteStep_Conflicts(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t, humanStep("intake"), humanStep("review"))
	inst := h.start(t, tpl, nil)
	ctx := context.Background()

	pending := stepExec(t, inst, "review")
	_, err := h.adv.CompleteStep(ctx, pending.ID, CompleteStepRequest{})
	assert.True(t, apperrors.IsConflict(err), "pending step: %v", err)

	_, err = h.adv.CancelInstance(ctx, inst.ID, nil)
	require.NoError(t, err)

	intake := stepExec(t, inst, "intake")
	_, err = h.adv.CompleteStep(ctx, intake.ID, CompleteStepRequest{})
	assert.True(t, apperrors.IsConflict(err), "cancelled instance: %v", err)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "intake").Status)

	_, err = h.adv.CancelInstance(ctx, inst.ID, nil)
	assert.True(t, apperrors.IsConflict(err), "cancelled is terminal")

	_, err = h.adv.CompleteStep(ctx, "missing", CompleteStepRequest{})
	assert.True(t, apperrors.IsNotFound(err))
}

// FlakySaveStore fails the next SaveRun calls before they reach the store
type FlakySaveStore struct {
	*persistence.MemoryStore
	mu       sync.Mutex
	failures int
	saves    int
}

func (s *FlakySaveStore) FailNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *FlakySaveStore) SaveRun(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error {
	s.mu.Lock()
	s.saves++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.MemoryStore.SaveRun(ctx, instance, steps)
}

func TestCompleteStep_FailedSaveLeavesRunUntouched(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t, humanStep("a"), humanStep("b"))
	inst := h.start(t, tpl, nil)

	store := &FlakySaveStore{MemoryStore: h.store}
	h.adv = NewFlowAdvancementService(store, h.events, h.reminders, expression.NewEngine(), h.registry)
	ctx := context.Background()
	execA := stepExec(t, inst, "a")

	store.FailNextSaves(1)
	before := len(h.events.Types())
	_, err := h.adv.CompleteStep(ctx, execA.ID, CompleteStepRequest{CompletedBy: "user-1"})
	require.Error(t, err)

	after := h.reload(t, inst.ID)
	assert.Equal(t, map[string]string{"a": constants.StepStatusInProgress, "b": constants.StepStatusPending}, statuses(after))
	assert.Equal(t, constants.FlowInstanceStatusInProgress, after.Status)
	assert.Len(t, h.events.Types(), before, "nothing is published for an unsaved run")

	// The step is still awaiting completion, so the caller can simply retry
	out, err := h.adv.CompleteStep(ctx, execA.ID, CompleteStepRequest{CompletedBy: "user-1"})
	require.NoError(t, err)
	require.Len(t, out.Activated, 1)
	assert.Equal(t, "b", out.Activated[0].StepID)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "b").Status)
	assert.Equal(t, 2, store.saves)
}

func decisionTemplate(t *testing.T, h *flowHarness) *models.FlowTemplate {
	return h.saveTemplate(t,
		models.StepDefinition{ID: "decide", Name: "Decide", Type: constants.StepTypeDecision, Branches: []models.BranchDefinition{
			{ID: "approve", Label: "Approve", StepIDs: []string{"ship"}},
			{ID: "reject", Label: "Reject", StepIDs: []string{"notify"}},
		}},
		humanStep("ship"),
		humanStep("notify"),
		humanStep("wrapup"),
	)
}

func TestCompleteStep_DecisionSkipsOtherBranch(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, decisionTemplate(t, h), nil)

	assert.Equal(t, "decide:approve", stepExec(t, inst, "ship").BranchPath)
	assert.Equal(t, "decide:reject", stepExec(t, inst, "notify").BranchPath)
	assert.Empty(t, stepExec(t, inst, "wrapup").BranchPath)

	h.complete(t, inst, "decide", map[string]interface{}{"outcome": "APPROVE"})

	after := h.reload(t, inst.ID)
	assert.Equal(t, map[string]string{
		"decide": constants.StepStatusCompleted,
		"ship":   constants.StepStatusInProgress,
		"notify": constants.StepStatusSkipped,
		"wrapup": constants.StepStatusPending,
	}, statuses(after))
	assert.Equal(t, "approve", stepExec(t, after, "decide").ResultData["outcome"])
	assert.Equal(t, "decide:approve", stepExec(t, after, "ship").BranchPath)

	h.complete(t, inst, "ship", nil)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "wrapup").Status)
}

func TestCompleteStep_DecisionNeedsExactlyOneOutcome(t *testing.T) {
	for _, result := range []map[string]interface{}{nil, {"outcome": "maybe"}} {
		h := newFlowHarness(t)
		inst := h.start(t, decisionTemplate(t, h), nil)
		exec := stepExec(t, inst, "decide")

		_, err := h.adv.CompleteStep(context.Background(), exec.ID, CompleteStepRequest{ResultData: result})
		assert.True(t, apperrors.IsValidation(err), "result %v: %v", result, err)
		assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "decide").Status)
	}
}

func TestStartInstance_SingleChoiceBranchResolvesOnActivation(t *testing.T) {
	steps := []models.StepDefinition{
		{ID: "gate", Name: "Gate", Type: constants.StepTypeSingleChoiceBranch, Branches: []models.BranchDefinition{
			{ID: "big", Condition: "kickoff.Amount > 1000", StepIDs: []string{"exec-approval"}},
			{ID: "small", IsDefault: true, StepIDs: []string{"fast-track"}},
		}},
		humanStep("exec-approval"),
		humanStep("fast-track"),
	}
	tests := []struct {
		amount  int
		outcome string
		active  string
		skipped string
	}{
		{5000, "big", "exec-approval", "fast-track"},
		{10, "small", "fast-track", "exec-approval"},
	}
	for _, tt := range tests {
		h := newFlowHarness(t)
		inst := h.start(t, h.saveTemplate(t, steps...), map[string]interface{}{"Amount": tt.amount})

		gate := stepExec(t, inst, "gate")
		assert.Equal(t, constants.StepStatusCompleted, gate.Status)
		assert.Equal(t, tt.outcome, gate.ResultData["outcome"])
		assert.Equal(t, constants.StepStatusInProgress, stepExec(t, inst, tt.active).Status)
		assert.Equal(t, constants.StepStatusSkipped, stepExec(t, inst, tt.skipped).Status)
		assert.Equal(t, 1, auditCount(h, constants.AuditBranchResolved))
	}
}

func TestStartInstance_MultiChoiceBranchTakesEveryTrueBranch(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t,
		models.StepDefinition{ID: "gate", Type: constants.StepTypeMultiChoiceBranch, Branches: []models.BranchDefinition{
			{ID: "gold", Condition: `kickoff.Tier == "gold"`, StepIDs: []string{"concierge"}},
			{ID: "team", Condition: "kickoff.Seats > 3", StepIDs: []string{"team-setup"}},
			{ID: "huge", Condition: "kickoff.Seats > 100", StepIDs: []string{"enterprise"}},
		}},
		humanStep("concierge"),
		humanStep("team-setup"),
		humanStep("enterprise"),
		humanStep("join"),
	)
	inst := h.start(t, tpl, map[string]interface{}{"Tier": "gold", "Seats": 5})

	assert.ElementsMatch(t, []string{"gold", "team"}, stepExec(t, inst, "gate").ResultData["outcomes"])
	assert.Equal(t, map[string]string{
		"gate":       constants.StepStatusCompleted,
		"concierge":  constants.StepStatusInProgress,
		"team-setup": constants.StepStatusPending,
		"enterprise": constants.StepStatusSkipped,
		"join":       constants.StepStatusPending,
	}, statuses(inst))

	h.complete(t, inst, "concierge", nil)
	h.complete(t, inst, "team-setup", nil)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "join").Status)
}

func parallelStep(id, group, mode string) models.StepDefinition {
	s := humanStep(id)
	s.ParallelGroup = group
	s.GroupCompletionMode = mode
	return s
}

func TestCompleteStep_ParallelGroupAllWaitsForEveryMember(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t,
		parallelStep("legal", "checks", constants.CompletionModeAll),
		parallelStep("finance", "checks", constants.CompletionModeAll),
		humanStep("kickoff-call"),
	)
	inst := h.start(t, tpl, nil)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, inst, "legal").Status)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, inst, "finance").Status)
	assert.Equal(t, "checks", stepExec(t, inst, "finance").ParallelGroup)

	out := h.complete(t, inst, "legal", nil)
	assert.True(t, out.StepCompleted)
	assert.Empty(t, out.Activated)
	assert.Equal(t, constants.StepStatusPending, stepExec(t, h.reload(t, inst.ID), "kickoff-call").Status)

	out = h.complete(t, inst, "finance", nil)
	require.Len(t, out.Activated, 1)
	assert.Equal(t, "kickoff-call", out.Activated[0].StepID)
}

func TestCompleteStep_ParallelGroupAnyOneSkipsOutstandingMembers(t *testing.T) {
	h := newFlowHarness(t)
	tpl := h.saveTemplate(t,
		parallelStep("quote-a", "race", ""),
		parallelStep("quote-b", "race", ""),
		humanStep("pick"),
	)
	inst := h.start(t, tpl, nil)
	quoteB := stepExec(t, inst, "quote-b")

	h.complete(t, inst, "quote-a", nil)

	after := h.reload(t, inst.ID)
	assert.Equal(t, constants.StepStatusSkipped, stepExec(t, after, "quote-b").Status)
	assert.Equal(t, "parallel group satisfied", stepExec(t, after, "quote-b").ResultData["reason"])
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, after, "pick").Status)
	assert.Contains(t, h.reminders.disarmed, quoteB.ID)
}

func TestCompleteStep_MultiAssigneeCompletionModes(t *testing.T) {
	tests := []struct {
		mode   string
		roles  []string
		actors []string
		doneAt int
	}{
		{constants.CompletionModeAnyOne, []string{"Manager", "Legal"}, []string{"user-1"}, 1},
		{constants.CompletionModeAll, []string{"Manager", "Legal"}, []string{"user-1", "user-1", "user-2"}, 3},
		{constants.CompletionModeMajority, []string{"Manager", "Legal", "Client"}, []string{"user-1", "user-2"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			h := newFlowHarness(t)
			signoff := models.StepDefinition{ID: "signoff", Type: constants.StepTypeApproval, AssigneeRoles: tt.roles, CompletionMode: tt.mode}
			inst := h.start(t, h.saveTemplate(t, signoff, humanStep("after")), nil)
			exec := stepExec(t, inst, "signoff")
			assert.Len(t, exec.Assignees, len(tt.roles))

			for i, actor := range tt.actors {
				out, err := h.adv.CompleteStep(context.Background(), exec.ID, CompleteStepRequest{CompletedBy: actor})
				require.NoError(t, err)
				assert.Equal(t, i+1 == tt.doneAt, out.StepCompleted, "completion %d by %s", i+1, actor)
			}
			assert.Equal(t, constants.StepStatusCompleted, stepExec(t, h.reload(t, inst.ID), "signoff").Status)
		})
	}
}

func TestAssignStep_WaitingForAssignee(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, h.saveTemplate(t, humanStep("audit", "Auditor"), humanStep("after")), nil)
	exec := stepExec(t, inst, "audit")
	require.Equal(t, constants.StepStatusWaitingForAssignee, exec.Status)
	assert.Empty(t, exec.Assignees)

	actor := "user-1"
	assigned, err := h.adv.AssignStep(context.Background(), exec.ID, []string{"user-9"}, &actor)
	require.NoError(t, err)
	assert.Equal(t, constants.StepStatusInProgress, assigned.Status)
	assert.Equal(t, []string{"user-9"}, assigned.Assignees)
	assert.Equal(t, 1, auditCount(h, constants.AuditStepAssigned))

	_, err = h.adv.AssignStep(context.Background(), exec.ID, nil, &actor)
	assert.True(t, apperrors.IsValidation(err))

	h.complete(t, inst, "audit", nil)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, h.reload(t, inst.ID), "after").Status)
}

func TestFailAndRetryStep(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, h.saveTemplate(t, humanStep("intake"), humanStep("after")), nil)
	exec := stepExec(t, inst, "intake")
	ctx := context.Background()

	require.NoError(t, h.adv.FailStep(ctx, exec.ID, "boom"))
	failed := stepExec(t, h.reload(t, inst.ID), "intake")
	assert.Equal(t, constants.StepStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.ResultData["error"])
	assert.NotEmpty(t, failed.ResultData["failedAt"])
	assert.Equal(t, 1, h.events.Count(events.StepFailed))

	_, err := h.adv.CompleteStep(ctx, exec.ID, CompleteStepRequest{})
	assert.True(t, apperrors.IsConflict(err))

	retried, err := h.adv.RetryStep(ctx, exec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.StepStatusInProgress, retried.Status)
	assert.NotContains(t, retried.ResultData, "error")
	assert.Equal(t, 1, auditCount(h, constants.AuditStepRetried))

	_, err = h.adv.RetryStep(ctx, exec.ID, nil)
	assert.True(t, apperrors.IsConflict(err))
}

func TestPauseAndResumeInstance(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, h.saveTemplate(t, humanStep("intake"), humanStep("after")), nil)
	exec := stepExec(t, inst, "intake")
	ctx := context.Background()

	paused, err := h.adv.PauseInstance(ctx, inst.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.FlowInstanceStatusPaused, paused.Status)

	_, err = h.adv.CompleteStep(ctx, exec.ID, CompleteStepRequest{})
	assert.True(t, apperrors.IsConflict(err))
	_, err = h.adv.PauseInstance(ctx, inst.ID, nil)
	assert.True(t, apperrors.IsConflict(err))

	resumed, err := h.adv.ResumeInstance(ctx, inst.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.FlowInstanceStatusInProgress, resumed.Status)

	h.complete(t, inst, "intake", nil)
	assert.Equal(t, 1, auditCount(h, constants.AuditRunPaused))
	assert.Equal(t, 1, auditCount(h, constants.AuditRunResumed))
}

func TestSubFlow_ChildCompletionCompletesParentStep(t *testing.T) {
	h := newFlowHarness(t)
	child := h.saveTemplate(t, humanStep("child-task", "Client"))
	parent := h.saveTemplate(t,
		models.StepDefinition{ID: "run-child", Name: "Child flow", Type: constants.StepTypeSubFlow, SubFlowTemplateID: child.ID},
		humanStep("after"),
	)

	inst := h.start(t, parent, map[string]interface{}{"Company": "Acme"})
	parentStep := stepExec(t, inst, "run-child")
	assert.Equal(t, constants.StepStatusInProgress, parentStep.Status)

	var childInst *models.FlowInstance
	for _, candidate := range h.store.ListInstances() {
		if candidate.ParentInstanceID != nil {
			childInst = candidate
		}
	}
	require.NotNil(t, childInst, "child instance should be started")
	assert.Equal(t, inst.ID, *childInst.ParentInstanceID)
	assert.Equal(t, parentStep.ID, *childInst.ParentStepID)
	assert.Equal(t, constants.TriggerSourceSubFlow, childInst.TriggerSource)
	assert.Equal(t, "Acme", childInst.KickoffData["Company"])

	h.complete(t, childInst, "child-task", nil)

	assert.Equal(t, constants.FlowInstanceStatusCompleted, h.reload(t, childInst.ID).Status)
	after := h.reload(t, inst.ID)
	done := stepExec(t, after, "run-child")
	assert.Equal(t, constants.StepStatusCompleted, done.Status)
	assert.Equal(t, childInst.ID, done.ResultData["childInstanceId"])
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, after, "after").Status)
}

func TestSubFlow_StartFailureFailsParentStep(t *testing.T) {
	h := newFlowHarness(t)
	child := h.saveTemplate(t, humanStep("child-task"))
	child.Status = constants.TemplateStatusDraft
	require.NoError(t, h.store.SaveTemplate(context.Background(), child))
	parent := h.saveTemplate(t,
		models.StepDefinition{ID: "run-child", Type: constants.StepTypeSubFlow, SubFlowTemplateID: child.ID},
	)

	inst := h.start(t, parent, nil)

	step := stepExec(t, inst, "run-child")
	assert.Equal(t, constants.StepStatusFailed, step.Status)
	assert.Contains(t, step.ResultData["error"], "sub-flow failed to start")
	assert.Equal(t, 1, h.store.InstanceCount())
}

func TestCompleteStep_AIReviewHook(t *testing.T) {
	reviewed := humanStep("draft")
	reviewed.Config = map[string]interface{}{"aiReview": true}

	t.Run("records request", func(t *testing.T) {
		h := newFlowHarness(t)
		inst := h.start(t, h.saveTemplate(t, reviewed, humanStep("after")), nil)
		h.complete(t, inst, "draft", nil)
		assert.Equal(t, true, stepExec(t, h.reload(t, inst.ID), "draft").ResultData["aiReviewRequested"])
	})

	t.Run("suppressed", func(t *testing.T) {
		h := newFlowHarness(t)
		inst := h.start(t, h.saveTemplate(t, reviewed, humanStep("after")), nil)
		exec := stepExec(t, inst, "draft")
		_, err := h.adv.CompleteStep(context.Background(), exec.ID, CompleteStepRequest{Options: CompleteOptions{SkipAIReview: true}})
		require.NoError(t, err)
		assert.NotContains(t, stepExec(t, h.reload(t, inst.ID), "draft").ResultData, "aiReviewRequested")
	})
}

func TestStartInstance_UnknownStepTypeIsSkipped(t *testing.T) {
	h := newFlowHarness(t)
	logs := captureLog(t)
	tpl := h.saveTemplate(t, models.StepDefinition{ID: "warp", Type: "TELEPORT"}, humanStep("after"))

	inst := h.start(t, tpl, nil)

	assert.Equal(t, constants.StepStatusSkipped, stepExec(t, inst, "warp").Status)
	assert.Equal(t, constants.StepStatusInProgress, stepExec(t, inst, "after").Status)
	assert.Contains(t, logs.String(), "unknown type TELEPORT")
}

func TestCompleteStep_EmitsEventsAndStampsActivity(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, h.saveTemplate(t, humanStep("intake"), humanStep("after")), nil)
	before := len(h.events.Types())

	h.complete(t, inst, "intake", nil)

	emitted := h.events.Types()[before:]
	assert.Contains(t, emitted, events.StepCompleted)
	assert.Contains(t, emitted, events.RunUpdated)
	assert.Contains(t, emitted, events.AttentionChanged)

	after := h.reload(t, inst.ID)
	require.NotNil(t, after.LastActivityAt)
	assert.Equal(t, "after", *after.CurrentStepID)
}

func TestGetInstanceProgress(t *testing.T) {
	h := newFlowHarness(t)
	inst := h.start(t, decisionTemplate(t, h), nil)
	h.complete(t, inst, "decide", map[string]interface{}{"outcome": "reject"})

	progress, err := h.adv.GetInstanceProgress(context.Background(), inst.ID, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.TotalSteps)
	assert.Equal(t, 1, progress.CompletedSteps)
	assert.Equal(t, 33, progress.PercentComplete)
	assert.Equal(t, 3, progress.CurrentStepOrder)
	assert.Equal(t, "Decide", progress.Steps[0].StepName)

	_, err = h.adv.GetInstanceProgress(context.Background(), inst.ID, "org-2")
	assert.True(t, apperrors.IsNotFound(err))
}
