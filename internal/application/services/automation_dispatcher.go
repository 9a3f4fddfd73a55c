package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/ddr"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// maxResponseBytes caps how much of an outbound response body is kept
const maxResponseBytes = 1 << 20

// DispatcherOptions tunes outbound call defaults
type DispatcherOptions struct {
	WebhookTimeout time.Duration
	RestTimeout    time.Duration
	RestBackoff    time.Duration
	ToolTimeout    time.Duration
}

// AutomationDispatcherService executes the side effect of one automation step.
// It implements ports.AutomationDispatcher interface.
type AutomationDispatcherService struct {
	registry   *StepTypeRegistry
	httpClient *http.Client
	email      ports.EmailSender
	tools      ports.ToolInvoker
	directory  ports.DirectoryStore
	opts       DispatcherOptions

	// sleep waits between REST retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Ensure AutomationDispatcherService implements ports.AutomationDispatcher at compile time
var _ ports.AutomationDispatcher = (*AutomationDispatcherService)(nil)

// NewAutomationDispatcher creates a dispatcher. directory may be nil, in which
// case workspace tokens only resolve the organization id.
func NewAutomationDispatcher(registry *StepTypeRegistry, email ports.EmailSender, tools ports.ToolInvoker, directory ports.DirectoryStore, opts DispatcherOptions) *AutomationDispatcherService {
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = time.Duration(constants.WebhookDefaultTimeoutMs) * time.Millisecond
	}
	if opts.RestTimeout <= 0 {
		opts.RestTimeout = time.Duration(constants.RestDefaultTimeoutMs) * time.Millisecond
	}
	if opts.RestBackoff <= 0 {
		opts.RestBackoff = time.Duration(constants.RestDefaultBackoffMs) * time.Millisecond
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = time.Duration(constants.ToolDefaultTimeoutMs) * time.Millisecond
	}
	return &AutomationDispatcherService{
		registry:   registry,
		httpClient: &http.Client{},
		email:      email,
		tools:      tools,
		directory:  directory,
		opts:       opts,
		sleep:      sleepContext,
	}
}

// Dispatch runs one automation step and returns its result data
func (d *AutomationDispatcherService) Dispatch(ctx context.Context, stepType string, config map[string]interface{}, instance *models.FlowInstance) (map[string]interface{}, error) {
	if config == nil {
		config = map[string]interface{}{}
	}
	ddrCtx := d.buildContext(ctx, instance)

	switch d.registry.KindOf(stepType) {
	case KindWebhook:
		return d.executeWebhook(ctx, config, ddrCtx)
	case KindEmail:
		return d.executeSendEmail(ctx, config, ddrCtx)
	case KindRestCall:
		return d.executeRestCall(ctx, config, ddrCtx)
	case KindToolCall:
		return d.executeToolCall(ctx, config, ddrCtx)
	case KindAIAssist:
		log.Printf("⚠️ Automation %s is not implemented, skipping", stepType)
		return skippedResult("not implemented"), nil
	default: // KindUnrecognized
		log.Printf("⚠️ Unknown automation step type %q, skipping", stepType)
		return skippedResult("unknown step type"), nil
	}
}

func skippedResult(reason string) map[string]interface{} {
	return map[string]interface{}{
		constants.ResultKeySkipped: true,
		constants.ResultKeyReason:  reason,
	}
}

func (d *AutomationDispatcherService) buildContext(ctx context.Context, instance *models.FlowInstance) *ddr.Context {
	if instance == nil {
		return ddr.BuildContext(nil, nil)
	}
	var org *models.Organization
	if d.directory != nil {
		o, err := d.directory.GetOrganization(ctx, instance.OrganizationID)
		if err != nil {
			log.Printf("⚠️ Could not load organization %s for token resolution: %v", instance.OrganizationID, err)
		} else {
			org = o
		}
	}
	return ddr.BuildContext(instance, org)
}

// executeWebhook calls a webhook based on step configuration. No retry.
func (d *AutomationDispatcherService) executeWebhook(ctx context.Context, config map[string]interface{}, ddrCtx *ddr.Context) (map[string]interface{}, error) {
	url, err := GetConfigStringRequired(config, constants.ConfigURL, ddrCtx)
	if err != nil {
		return nil, apperrors.NewExecutionError(constants.StepTypeWebhook, err.Error(), nil)
	}

	method := strings.ToUpper(resolvedString(config, constants.ConfigMethod, ddrCtx))
	if method == "" {
		method = http.MethodPost
	}

	headers := resolvedHeaders(config, ddrCtx)
	if !hasHeader(headers, constants.HeaderContentType) {
		headers[constants.HeaderContentType] = constants.ContentTypeJSON
	}

	payload, ok := config[constants.ConfigPayload]
	if !ok {
		payload = config[constants.ConfigBody]
	}
	body, err := encodeBody(payload, ddrCtx)
	if err != nil {
		return nil, apperrors.NewExecutionError(constants.StepTypeWebhook, "failed to serialize webhook payload", err)
	}

	timeout := time.Duration(utils.ToInt(config[constants.ConfigTimeoutMs], int(d.opts.WebhookTimeout/time.Millisecond))) * time.Millisecond

	resp, err := d.doRequest(ctx, method, url, headers, body, timeout)
	if err != nil {
		log.Printf("⚠️ WEBHOOK FAILED: URL=%s Method=%s Error=%v", url, method, err)
		return nil, classifyCallError(constants.StepTypeWebhook, "webhook "+url, timeout, err)
	}

	if resp.statusCode >= 400 {
		log.Printf("⚠️ WEBHOOK ERROR RESPONSE: URL=%s Status=%d", url, resp.statusCode)
		return nil, apperrors.NewExecutionError(constants.StepTypeWebhook, fmt.Sprintf("webhook returned error status: %d", resp.statusCode), nil)
	}

	log.Printf("✅ WEBHOOK SUCCESS: URL=%s Method=%s Status=%d", url, method, resp.statusCode)
	return map[string]interface{}{
		constants.ResultKeyStatusCode: resp.statusCode,
		constants.ResultKeyResponse:   resp.body,
		constants.ResultKeyExecutedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// executeSendEmail sends one message per resolved recipient
func (d *AutomationDispatcherService) executeSendEmail(ctx context.Context, config map[string]interface{}, ddrCtx *ddr.Context) (map[string]interface{}, error) {
	if d.email == nil {
		return nil, apperrors.NewExecutionError(constants.StepTypeSendEmail, "no email sender configured", nil)
	}

	var recipients []string
	for _, r := range utils.ToStringSlice(ddr.ResolveDeep(config[constants.ConfigTo], ddrCtx)) {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, apperrors.NewExecutionError(constants.StepTypeSendEmail, "no recipients resolved", nil)
	}

	subject := ddr.Resolve(GetConfigString(config, constants.ConfigSubject), ddrCtx)
	body := ddr.Resolve(GetConfigString(config, constants.ConfigBody), ddrCtx)

	for _, to := range recipients {
		if err := d.email.Send(ctx, to, subject, body); err != nil {
			return nil, apperrors.NewExecutionError(constants.StepTypeSendEmail, "failed to send to "+to, err)
		}
	}

	log.Printf("📧 EMAIL SENT: To=%v Subject=%q", recipients, subject)
	return map[string]interface{}{
		constants.ResultKeySent:       true,
		constants.ResultKeyRecipients: recipients,
		constants.ResultKeySentAt:     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// executeToolCall invokes a tool on a remote tool server
func (d *AutomationDispatcherService) executeToolCall(ctx context.Context, config map[string]interface{}, ddrCtx *ddr.Context) (map[string]interface{}, error) {
	if d.tools == nil {
		return nil, apperrors.NewExecutionError(constants.StepTypeMCPTool, "no tool invoker configured", nil)
	}
	serverURL := resolvedString(config, constants.ConfigServerURL, ddrCtx)
	toolName := resolvedString(config, constants.ConfigToolName, ddrCtx)
	if serverURL == "" || toolName == "" {
		return nil, apperrors.NewExecutionError(constants.StepTypeMCPTool, "serverUrl and toolName are required", nil)
	}

	args := map[string]interface{}{}
	if raw, ok := GetConfigMap(config, constants.ConfigArguments); ok {
		args = ddr.ResolveDeep(raw, ddrCtx).(map[string]interface{})
	}

	timeout := time.Duration(utils.ToInt(config[constants.ConfigTimeoutMs], int(d.opts.ToolTimeout/time.Millisecond))) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := d.tools.CallTool(callCtx, serverURL, toolName, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = context.DeadlineExceeded
		}
		return nil, classifyCallError(constants.StepTypeMCPTool, "tool "+toolName, timeout, err)
	}
	if res.IsError {
		return nil, apperrors.NewExecutionError(constants.StepTypeMCPTool, "tool reported error: "+res.Text, nil)
	}

	var value interface{} = res.Structured
	if value == nil && res.Text != "" {
		var parsed interface{}
		if json.Unmarshal([]byte(res.Text), &parsed) == nil {
			value = parsed
		} else {
			value = res.Text
		}
	}

	result := map[string]interface{}{
		constants.ResultKeyToolResult: value,
		constants.ResultKeyExecutedAt: time.Now().UTC().Format(time.RFC3339),
	}
	applyOutputMapping(config, value, result)
	log.Printf("✅ TOOL CALL SUCCESS: Server=%s Tool=%s", serverURL, toolName)
	return result, nil
}

type callResponse struct {
	statusCode int
	body       interface{}
}

// doRequest issues one HTTP call bounded by timeout
func (d *AutomationDispatcherService) doRequest(ctx context.Context, method, url string, headers map[string]string, body []byte, timeout time.Duration) (*callResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &callResponse{statusCode: resp.StatusCode, body: decodeResponse(resp.Header.Get(constants.HeaderContentType), raw)}, nil
}

// decodeResponse parses JSON bodies when the content type says so, else returns text
func decodeResponse(contentType string, raw []byte) interface{} {
	if strings.Contains(strings.ToLower(contentType), "json") && len(raw) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
	}
	return string(raw)
}

// encodeBody resolves tokens in a payload and JSON-encodes it unless it is already a string
func encodeBody(payload interface{}, ddrCtx *ddr.Context) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if s, ok := payload.(string); ok {
		return []byte(ddr.Resolve(s, ddrCtx)), nil
	}
	return json.Marshal(ddr.ResolveDeep(payload, ddrCtx))
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// classifyCallError maps deadline expiry to a TimeoutError
func classifyCallError(stepType, operation string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(operation, timeout)
	}
	return apperrors.NewExecutionError(stepType, operation+" failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
