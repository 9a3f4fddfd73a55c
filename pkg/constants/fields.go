package constants

// Shared column names
const (
	FieldID             = "id"
	FieldOrganizationID = "organization_id"
	FieldName           = "name"
	FieldEmail          = "email"
	FieldRole           = "role"
	FieldStatus         = "status"
	FieldTemplateID     = "template_id"
	FieldInstanceID     = "instance_id"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
)

// _System_FlowTemplate columns
const (
	FieldFlowTemplate_Description = "description"
	FieldFlowTemplate_Definition  = "definition"
)

// _System_FlowInstance columns
const (
	FieldFlowInstance_CurrentStepID    = "current_step_id"
	FieldFlowInstance_RoleAssignments  = "role_assignments"
	FieldFlowInstance_KickoffData      = "kickoff_data"
	FieldFlowInstance_TriggerSource    = "trigger_source"
	FieldFlowInstance_StartedByID      = "started_by_id"
	FieldFlowInstance_StartedAt        = "started_at"
	FieldFlowInstance_CompletedAt      = "completed_at"
	FieldFlowInstance_DueAt            = "due_at"
	FieldFlowInstance_LastActivityAt   = "last_activity_at"
	FieldFlowInstance_ParentInstanceID = "parent_instance_id"
	FieldFlowInstance_ParentStepID     = "parent_step_id"
)

// _System_StepExecution columns
const (
	FieldStepExecution_StepID         = "step_id"
	FieldStepExecution_Position       = "position"
	FieldStepExecution_Assignees      = "assignees"
	FieldStepExecution_CompletionMode = "completion_mode"
	FieldStepExecution_CompletedBy    = "completed_by"
	FieldStepExecution_ResultData     = "result_data"
	FieldStepExecution_BranchPath     = "branch_path"
	FieldStepExecution_ParallelGroup  = "parallel_group"
	FieldStepExecution_StartedAt      = "started_at"
	FieldStepExecution_CompletedAt    = "completed_at"
	FieldStepExecution_DueAt          = "due_at"
	FieldStepExecution_EscalateAt     = "escalate_at"
	FieldStepExecution_ReminderCount  = "reminder_count"
	FieldStepExecution_LastReminderAt = "last_reminder_at"
)

// _System_RecurringSchedule columns
const (
	FieldSchedule_CronPattern     = "cron_pattern"
	FieldSchedule_Timezone        = "timezone"
	FieldSchedule_RoleAssignments = "role_assignments"
	FieldSchedule_KickoffData     = "kickoff_data"
	FieldSchedule_Enabled         = "enabled"
	FieldSchedule_LastRunAt       = "last_run_at"
	FieldSchedule_NextRunAt       = "next_run_at"
)

// _System_AuditLog columns
const (
	FieldAudit_StepExecutionID = "step_execution_id"
	FieldAudit_Action          = "action"
	FieldAudit_ActorID         = "actor_id"
	FieldAudit_Details         = "details"
)
