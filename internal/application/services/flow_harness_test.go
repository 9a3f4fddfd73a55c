package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/infrastructure/persistence"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/expression"
	"github.com/nexusflow/backend/pkg/utils"
)

const testOrgID = "org-1"

type flowHarness struct {
	store     *persistence.MemoryStore
	events    *RecordingPublisher
	reminders *RecordingReminders
	registry  *StepTypeRegistry
	adv       *FlowAdvancementService
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	store := persistence.NewMemoryStore()
	store.AddOrganization(&models.Organization{ID: testOrgID, Name: "Acme Workspace"})
	store.AddUser(&models.User{ID: "user-1", OrganizationID: testOrgID, Name: "Ada", Email: "ada@example.com", Role: models.UserRoleMember})

	h := &flowHarness{
		store:     store,
		events:    &RecordingPublisher{},
		reminders: &RecordingReminders{},
		registry:  NewStepTypeRegistry(),
	}
	h.adv = NewFlowAdvancementService(store, h.events, h.reminders, expression.NewEngine(), h.registry)
	fixed := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	h.adv.now = func() time.Time { return fixed }
	return h
}

func (h *flowHarness) saveTemplate(t *testing.T, steps ...models.StepDefinition) *models.FlowTemplate {
	t.Helper()
	tpl := &models.FlowTemplate{
		ID:             utils.GenerateID(),
		OrganizationID: testOrgID,
		Name:           "Onboarding",
		Status:         constants.TemplateStatusActive,
		Definition:     models.TemplateDefinition{Steps: steps},
	}
	require.NoError(t, h.store.SaveTemplate(context.Background(), tpl))
	return tpl
}

func (h *flowHarness) start(t *testing.T, tpl *models.FlowTemplate, kickoff map[string]interface{}) *models.FlowInstance {
	t.Helper()
	inst, err := h.adv.StartInstance(context.Background(), StartInstanceRequest{
		TemplateID:     tpl.ID,
		OrganizationID: testOrgID,
		KickoffData:    kickoff,
		RoleAssignments: map[string]models.RoleAssignment{
			"Client":  {ContactID: "contact-1", Name: "Grace", Email: "grace@example.com"},
			"Manager": {UserID: "user-1", Name: "Ada", Email: "ada@example.com"},
			"Legal":   {UserID: "user-2", Name: "Linus", Email: "linus@example.com"},
		},
	})
	require.NoError(t, err)
	return inst
}

func (h *flowHarness) reload(t *testing.T, instanceID string) *models.FlowInstance {
	t.Helper()
	inst, err := h.store.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	return inst
}

func (h *flowHarness) complete(t *testing.T, inst *models.FlowInstance, stepID string, result map[string]interface{}) *CompletionOutcome {
	t.Helper()
	exec := stepExec(t, h.reload(t, inst.ID), stepID)
	outcome, err := h.adv.CompleteStep(context.Background(), exec.ID, CompleteStepRequest{ResultData: result, CompletedBy: "user-1"})
	require.NoError(t, err)
	return outcome
}

func stepExec(t *testing.T, inst *models.FlowInstance, stepID string) *models.StepExecution {
	t.Helper()
	for _, s := range inst.Steps {
		if s.StepID == stepID {
			return s
		}
	}
	t.Fatalf("step %s not found in instance %s", stepID, inst.ID)
	return nil
}

func statuses(inst *models.FlowInstance) map[string]string {
	out := make(map[string]string, len(inst.Steps))
	for _, s := range inst.Steps {
		out[s.StepID] = s.Status
	}
	return out
}

func humanStep(id string, roles ...string) models.StepDefinition {
	return models.StepDefinition{ID: id, Name: id, Type: constants.StepTypeTodo, AssigneeRoles: roles}
}

func autoStep(id string) models.StepDefinition {
	return models.StepDefinition{ID: id, Name: id, Type: constants.StepTypeWebhook, Config: map[string]interface{}{"url": "http://hooks.test/" + id}}
}

// ScriptedDispatcher records dispatches and fails the step types it is told to
type ScriptedDispatcher struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	onCall  func(n int)
	results map[string]interface{}
}

func (d *ScriptedDispatcher) Dispatch(ctx context.Context, stepType string, config map[string]interface{}, instance *models.FlowInstance) (map[string]interface{}, error) {
	d.mu.Lock()
	url, _ := config["url"].(string)
	d.calls = append(d.calls, url)
	n := len(d.calls)
	hook := d.onCall
	d.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err, ok := d.failOn[url]; ok {
		return nil, err
	}
	out := map[string]interface{}{"statusCode": 200}
	for k, v := range d.results {
		out[k] = v
	}
	return out, nil
}

func (d *ScriptedDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
