package constants

// Configuration keys for automation step configs
const (
	ConfigURL           = "url"
	ConfigMethod        = "method"
	ConfigHeaders       = "headers"
	ConfigPayload       = "payload"
	ConfigBody          = "body"
	ConfigTo            = "to"
	ConfigSubject       = "subject"
	ConfigTimeoutMs     = "timeoutMs"
	ConfigAuth          = "auth"
	ConfigAuthType      = "type"
	ConfigAuthToken     = "token"
	ConfigAuthUsername  = "username"
	ConfigAuthPassword  = "password"
	ConfigMaxRetries    = "maxRetries"
	ConfigBackoffMs     = "backoffMs"
	ConfigOutputMapping = "outputMapping"
	ConfigServerURL     = "serverUrl"
	ConfigToolName      = "toolName"
	ConfigArguments     = "arguments"
	ConfigAIReview      = "aiReview"
)

// Auth types for REST_API steps
const (
	AuthTypeBearer = "bearer"
	AuthTypeBasic  = "basic"
)

// Result data keys written by the engine
const (
	ResultKeyOutcome           = "outcome"
	ResultKeyOutcomes          = "outcomes"
	ResultKeyError             = "error"
	ResultKeyFailedAt          = "failedAt"
	ResultKeySkipped           = "skipped"
	ResultKeyReason            = "reason"
	ResultKeyStatusCode        = "statusCode"
	ResultKeyResponse          = "response"
	ResultKeyExecutedAt        = "executedAt"
	ResultKeyAttempts          = "attempts"
	ResultKeySent              = "sent"
	ResultKeyRecipients        = "recipients"
	ResultKeySentAt            = "sentAt"
	ResultKeyToolResult        = "result"
	ResultKeyChildInstanceID   = "childInstanceId"
	ResultKeyAIReviewRequested = "aiReviewRequested"
)

// Context Keys
const (
	ContextKeyUser       = "user"
	ContextKeyToken      = "token"
	ContextKeyAPIVersion = "api_version"
)

// HTTP headers and content types
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	ContentTypeJSON     = "application/json"
)

// Response keys
const (
	ResponseError = "error"
	FieldMessage  = "message"
)
