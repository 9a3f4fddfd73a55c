package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/ddr"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// executeRestCall performs a REST request with retry and exponential backoff.
// Each attempt has its own timeout; a non-2xx status counts as a failed attempt.
func (d *AutomationDispatcherService) executeRestCall(ctx context.Context, config map[string]interface{}, ddrCtx *ddr.Context) (map[string]interface{}, error) {
	url, err := GetConfigStringRequired(config, constants.ConfigURL, ddrCtx)
	if err != nil {
		return nil, apperrors.NewExecutionError(constants.StepTypeRestAPI, err.Error(), nil)
	}

	method := strings.ToUpper(resolvedString(config, constants.ConfigMethod, ddrCtx))
	if method == "" {
		method = http.MethodGet
	}

	headers := resolvedHeaders(config, ddrCtx)
	if auth, ok := GetConfigMap(config, constants.ConfigAuth); ok {
		if value := authorizationHeader(auth, ddrCtx); value != "" {
			headers[constants.HeaderAuthorization] = value
		}
	}

	var body []byte
	if isWriteMethod(method) {
		if !hasHeader(headers, constants.HeaderContentType) {
			headers[constants.HeaderContentType] = constants.ContentTypeJSON
		}
		encoded, err := encodeBody(config[constants.ConfigBody], ddrCtx)
		if err != nil {
			return nil, apperrors.NewExecutionError(constants.StepTypeRestAPI, "failed to serialize request body", err)
		}
		body = encoded
	}

	maxRetries := utils.ToInt(config[constants.ConfigMaxRetries], 0)
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > constants.RestMaxRetries {
		maxRetries = constants.RestMaxRetries
	}
	backoff := time.Duration(utils.ToInt(config[constants.ConfigBackoffMs], int(d.opts.RestBackoff/time.Millisecond))) * time.Millisecond
	timeout := time.Duration(utils.ToInt(config[constants.ConfigTimeoutMs], int(d.opts.RestTimeout/time.Millisecond))) * time.Millisecond

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, retryDelay(backoff, attempt)); err != nil {
				return nil, apperrors.NewExecutionError(constants.StepTypeRestAPI, "retry wait interrupted", err)
			}
		}
		attempts++

		resp, err := d.doRequest(ctx, method, url, headers, body, timeout)
		if err != nil {
			lastErr = classifyCallError(constants.StepTypeRestAPI, "rest "+url, timeout, err)
			log.Printf("⚠️ REST attempt %d/%d failed: URL=%s Error=%v", attempts, maxRetries+1, url, err)
			continue
		}
		if resp.statusCode < 200 || resp.statusCode >= 300 {
			lastErr = apperrors.NewExecutionError(constants.StepTypeRestAPI, fmt.Sprintf("request returned status %d", resp.statusCode), nil)
			log.Printf("⚠️ REST attempt %d/%d failed: URL=%s Status=%d", attempts, maxRetries+1, url, resp.statusCode)
			continue
		}

		result := map[string]interface{}{
			constants.ResultKeyStatusCode: resp.statusCode,
			constants.ResultKeyResponse:   resp.body,
			constants.ResultKeyAttempts:   attempts,
			constants.ResultKeyExecutedAt: time.Now().UTC().Format(time.RFC3339),
		}
		applyOutputMapping(config, resp.body, result)
		log.Printf("✅ REST SUCCESS: URL=%s Method=%s Status=%d Attempts=%d", url, method, resp.statusCode, attempts)
		return result, nil
	}

	log.Printf("❌ REST call exhausted %d attempt(s): URL=%s", attempts, url)
	return nil, lastErr
}

// authorizationHeader builds a bearer or basic Authorization value
func authorizationHeader(auth map[string]interface{}, ddrCtx *ddr.Context) string {
	switch strings.ToLower(GetConfigString(auth, constants.ConfigAuthType)) {
	case constants.AuthTypeBearer:
		token := resolvedString(auth, constants.ConfigAuthToken, ddrCtx)
		if token == "" {
			return ""
		}
		return "Bearer " + token
	case constants.AuthTypeBasic:
		user := resolvedString(auth, constants.ConfigAuthUsername, ddrCtx)
		pass := ddr.Resolve(GetConfigString(auth, constants.ConfigAuthPassword), ddrCtx)
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	default:
		return ""
	}
}

func isWriteMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// retryDelay is backoff * 2^(retry-1), capped at RestMaxBackoffMs
func retryDelay(backoff time.Duration, retry int) time.Duration {
	limit := time.Duration(constants.RestMaxBackoffMs) * time.Millisecond
	if backoff <= 0 {
		return 0
	}
	delay := backoff
	for i := 1; i < retry && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}
