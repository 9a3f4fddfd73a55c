package rest_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/infrastructure/notify"
	"github.com/nexusflow/backend/internal/infrastructure/persistence"
	"github.com/nexusflow/backend/internal/interfaces/rest"
	"github.com/nexusflow/backend/pkg/auth"
	"github.com/nexusflow/backend/pkg/constants"
)

const (
	orgID      = "org-1"
	otherOrgID = "org-2"
	templateID = "tpl-onboarding"
)

type apiHarness struct {
	router     *gin.Engine
	svc        *services.ServiceManager
	token      string
	otherToken string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := persistence.NewMemoryStore()
	store.AddOrganization(&models.Organization{ID: orgID, Name: "Acme Workspace"})
	store.AddUser(&models.User{ID: "user-1", OrganizationID: orgID, Name: "Ada", Email: "ada@example.com", Role: models.UserRoleAdmin})
	require.NoError(t, store.SaveTemplate(context.Background(), &models.FlowTemplate{
		ID:             templateID,
		OrganizationID: orgID,
		Name:           "Onboarding",
		Status:         constants.TemplateStatusActive,
		Definition: models.TemplateDefinition{Steps: []models.StepDefinition{
			{ID: "review", Name: "Review", Type: constants.StepTypeTodo, AssigneeRoles: []string{"Manager"}},
			{ID: "approve", Name: "Approve", Type: constants.StepTypeApproval, AssigneeRoles: []string{"Manager"}},
		}},
	}))

	svc := services.NewServiceManager(store, notify.NewLogSender(), services.ManagerOptions{
		HeartbeatInterval: time.Hour,
		Scheduler:         services.SchedulerOptions{Enabled: false},
	})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	authenticator := auth.NewAuthenticator("test-secret")
	token, err := authenticator.GenerateToken(auth.UserSession{ID: "user-1", OrganizationID: orgID})
	require.NoError(t, err)
	otherToken, err := authenticator.GenerateToken(auth.UserSession{ID: "user-9", OrganizationID: otherOrgID})
	require.NoError(t, err)

	return &apiHarness{
		router:     rest.NewRouter(svc, authenticator),
		svc:        svc,
		token:      token,
		otherToken: otherToken,
	}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if token != "" {
		req.Header.Set(constants.HeaderAuthorization, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (h *apiHarness) startRun(t *testing.T) (string, string) {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/api/runs", h.token, map[string]interface{}{
		"template_id":      templateID,
		"role_assignments": map[string]interface{}{"Manager": map[string]interface{}{"user_id": "user-1", "name": "Ada", "email": "ada@example.com"}},
		"kickoff_data":     map[string]interface{}{"company": "Globex"},
	})
	require.Equal(t, http.StatusCreated, code, body)
	run := body["run"].(map[string]interface{})
	steps := run["steps"].([]interface{})
	return run["id"].(string), steps[0].(map[string]interface{})["id"].(string)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	code, body := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["scheduler"])
}

func TestRequiresAuthentication(t *testing.T) {
	h := newAPIHarness(t)
	code, body := h.do(t, http.MethodPost, "/api/runs", "", map[string]interface{}{"template_id": templateID})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestRunLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	runID, reviewID := h.startRun(t)

	t.Run("Progress", func(t *testing.T) {
		code, body := h.do(t, http.MethodGet, "/api/runs/"+runID, h.token, nil)
		require.Equal(t, http.StatusOK, code)
		run := body["run"].(map[string]interface{})
		assert.Equal(t, constants.FlowInstanceStatusInProgress, run["status"])
		assert.EqualValues(t, 2, run["total_steps"])
	})

	t.Run("Other organization sees nothing", func(t *testing.T) {
		code, body := h.do(t, http.MethodGet, "/api/runs/"+runID, h.otherToken, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", body["code"])

		code, _ = h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/complete", h.otherToken, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("Complete step", func(t *testing.T) {
		code, body := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/complete", h.token, map[string]interface{}{
			"result_data": map[string]interface{}{"notes": "looks good"},
		})
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, true, body["step_completed"])
		assert.Equal(t, []interface{}{"approve"}, body["activated"])
		assert.Equal(t, false, body["run_completed"])
	})

	t.Run("Completing twice conflicts", func(t *testing.T) {
		code, _ := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/complete", h.token, nil)
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("Pause and resume", func(t *testing.T) {
		code, body := h.do(t, http.MethodPost, "/api/runs/"+runID+"/pause", h.token, nil)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, constants.FlowInstanceStatusPaused, body["run"].(map[string]interface{})["status"])

		code, body = h.do(t, http.MethodPost, "/api/runs/"+runID+"/resume", h.token, nil)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, constants.FlowInstanceStatusInProgress, body["run"].(map[string]interface{})["status"])
	})

	t.Run("Cancel", func(t *testing.T) {
		code, body := h.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", h.token, nil)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, constants.FlowInstanceStatusCancelled, body["run"].(map[string]interface{})["status"])

		code, _ = h.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", h.token, nil)
		assert.Equal(t, http.StatusConflict, code)
	})
}

func TestStartRunValidation(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/runs", h.token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	code, _ = h.do(t, http.MethodPost, "/api/runs", h.otherToken, map[string]interface{}{"template_id": templateID})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAutoExecuteRejectsHumanStep(t *testing.T) {
	h := newAPIHarness(t)
	_, reviewID := h.startRun(t)

	code, body := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/auto-execute", h.token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestAssignStep(t *testing.T) {
	h := newAPIHarness(t)
	_, reviewID := h.startRun(t)

	code, _ := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/assign", h.token, map[string]interface{}{"assignees": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/assign", h.token, map[string]interface{}{"assignees": []string{"user-7"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []interface{}{"user-7"}, body["step"].(map[string]interface{})["assignees"])
}

func TestRetryStepRequiresFailure(t *testing.T) {
	h := newAPIHarness(t)
	_, reviewID := h.startRun(t)

	code, _ := h.do(t, http.MethodPost, "/api/steps/"+reviewID+"/retry", h.token, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestSchedules(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/schedules", h.token, map[string]interface{}{
		"template_id":  templateID,
		"cron_pattern": "0 9 * * 1",
		"timezone":     "Europe/Berlin",
	})
	require.Equal(t, http.StatusCreated, code, body)
	schedule := body["schedule"].(map[string]interface{})
	scheduleID := schedule["id"].(string)
	assert.Equal(t, true, schedule["no_op"])

	code, body = h.do(t, http.MethodGet, "/api/schedules?template_id="+templateID, h.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["schedules"], 1)

	code, _ = h.do(t, http.MethodGet, "/api/schedules", h.token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/api/schedules", h.token, map[string]interface{}{
		"template_id":  templateID,
		"cron_pattern": "every tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodDelete, "/api/schedules/"+scheduleID, h.otherToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodDelete, "/api/schedules/"+scheduleID, h.token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = h.do(t, http.MethodDelete, "/api/schedules/"+scheduleID, h.token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResolveTokens(t *testing.T) {
	h := newAPIHarness(t)
	runID, _ := h.startRun(t)

	code, body := h.do(t, http.MethodPost, "/api/ddr/resolve", h.token, map[string]interface{}{
		"instance_id": runID,
		"value":       "Hi {Role:Manager / name}, welcome {Kickoff / company} ({Kickoff / missing})",
	})
	require.Equal(t, http.StatusOK, code, body)
	preview := body["preview"].(map[string]interface{})
	assert.Equal(t, "Hi Ada, welcome Globex ({Kickoff / missing})", preview["resolved"])
	assert.Equal(t, []interface{}{"{Kickoff / missing}"}, preview["unresolved"])

	code, _ = h.do(t, http.MethodPost, "/api/ddr/resolve", h.token, map[string]interface{}{"instance_id": runID})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/api/ddr/resolve", h.otherToken, map[string]interface{}{"instance_id": runID, "value": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEventStream(t *testing.T) {
	h := newAPIHarness(t)
	server := httptest.NewServer(h.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set(constants.HeaderAuthorization, "Bearer "+h.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(constants.HeaderContentType))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed while waiting for %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor(":connected")
	assert.Eventually(t, func() bool { return h.svc.Broadcaster.SubscriberCount(orgID) == 1 }, time.Second, 10*time.Millisecond)

	// Events of another organization never reach this stream
	h.svc.Broadcaster.Emit(otherOrgID, events.Event{Type: events.RunStarted, Data: map[string]interface{}{"instanceId": "foreign"}})
	runID, _ := h.startRun(t)

	waitFor("event: run.started")
	data := waitFor("data: ")
	assert.Contains(t, data, runID)

	cancel()
	assert.Eventually(t, func() bool { return h.svc.Broadcaster.SubscriberCount(orgID) == 0 }, 2*time.Second, 10*time.Millisecond)
}
