package constants

// Template status constants
const (
	TemplateStatusDraft    = "DRAFT"
	TemplateStatusActive   = "ACTIVE"
	TemplateStatusArchived = "ARCHIVED"
)

// Flow instance status constants
const (
	FlowInstanceStatusInProgress = "IN_PROGRESS"
	FlowInstanceStatusCompleted  = "COMPLETED"
	FlowInstanceStatusCancelled  = "CANCELLED"
	FlowInstanceStatusPaused     = "PAUSED"
)

// Step execution status constants
const (
	StepStatusPending            = "PENDING"
	StepStatusWaitingForAssignee = "WAITING_FOR_ASSIGNEE"
	StepStatusInProgress         = "IN_PROGRESS"
	StepStatusCompleted          = "COMPLETED"
	StepStatusSkipped            = "SKIPPED"
	StepStatusFailed             = "FAILED"
)

// Completion modes for multi-assignee steps and parallel groups
const (
	CompletionModeAnyOne   = "ANY_ONE"
	CompletionModeAll      = "ALL"
	CompletionModeMajority = "MAJORITY"
)

// Flow trigger sources
const (
	TriggerSourceManual   = "manual"
	TriggerSourceSchedule = "schedule"
	TriggerSourceSubFlow  = "subflow"
	TriggerSourceAPI      = "api"
)

// Schedule-related constants
const (
	ScheduleDefaultTimezone = "UTC"
	ScheduleMaxRuntimeMins  = 30 // Maximum execution time of one scheduled run (minutes)
	ScheduleDefaultAttempts = 3
	ScheduleDefaultBackoff  = 2000 // Milliseconds before the first retry of a failed run
)

// Auto-execution and outbound call defaults
const (
	AutoExecMaxIterations   = 50
	WebhookDefaultTimeoutMs = 30000
	RestDefaultTimeoutMs    = 30000
	RestDefaultBackoffMs    = 1000
	RestMaxRetries          = 10
	RestMaxBackoffMs        = 60000 // Upper bound of a single wait between REST retries
	ToolDefaultTimeoutMs    = 60000
	HeartbeatIntervalSecs   = 30
	SubFlowMaxDepth         = 5
	ReminderDefaultMax      = 3
)

// Audit actions
const (
	AuditRunStarted     = "run.started"
	AuditRunCompleted   = "run.completed"
	AuditRunCancelled   = "run.cancelled"
	AuditRunPaused      = "run.paused"
	AuditRunResumed     = "run.resumed"
	AuditStepCompleted  = "step.completed"
	AuditStepFailed     = "step.failed"
	AuditStepSkipped    = "step.skipped"
	AuditStepRetried    = "step.retried"
	AuditScheduledRun   = "schedule.triggered"
	AuditBranchResolved = "branch.resolved"
	AuditStepAssigned   = "step.assigned"
	AuditStepProgress   = "step.progress"
	AuditReminderSent   = "step.reminder"
	AuditStepOverdue    = "step.overdue"
	AuditStepEscalated  = "step.escalated"
)
