package models

import (
	"time"
)

// FlowTemplate is the reusable blueprint of a workflow
type FlowTemplate struct {
	ID             string             `json:"id" yaml:"id"`
	OrganizationID string             `json:"organization_id" yaml:"organization_id"`
	Name           string             `json:"name" yaml:"name"`
	Description    *string            `json:"description,omitempty" yaml:"description,omitempty"`
	Status         string             `json:"status" yaml:"status"` // DRAFT, ACTIVE, ARCHIVED
	Definition     TemplateDefinition `json:"definition" yaml:"definition"`
	CreatedAt      time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time          `json:"updated_at" yaml:"-"`
}

// TemplateDefinition holds the step graph of a template
type TemplateDefinition struct {
	Steps      []StepDefinition `json:"steps" yaml:"steps"`
	Milestones []Milestone      `json:"milestones,omitempty" yaml:"milestones,omitempty"`
	Roles      []RoleDefinition `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// FindStep returns the step definition with the given ID, or nil
func (d *TemplateDefinition) FindStep(stepID string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i]
		}
	}
	return nil
}

// Milestone groups steps for progress display
type Milestone struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RoleDefinition names a role that instances assign to a contact or user
type RoleDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// StepDefinition is one step of a template
type StepDefinition struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Type        string                 `json:"type" yaml:"type"`
	Config      map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	MilestoneID *string                `json:"milestone_id,omitempty" yaml:"milestone_id,omitempty"`

	// Assignment
	AssigneeRoles  []string `json:"assignee_roles,omitempty" yaml:"assignee_roles,omitempty"`
	CompletionMode string   `json:"completion_mode,omitempty" yaml:"completion_mode,omitempty"` // ANY_ONE, ALL, MAJORITY

	// Branching (DECISION, SINGLE_CHOICE_BRANCH, MULTI_CHOICE_BRANCH)
	Branches []BranchDefinition `json:"branches,omitempty" yaml:"branches,omitempty"`

	// Parallel groups: adjacent steps sharing a group name run concurrently
	ParallelGroup       string `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`
	GroupCompletionMode string `json:"group_completion_mode,omitempty" yaml:"group_completion_mode,omitempty"`

	// Timing
	DueInHours         int `json:"due_in_hours,omitempty" yaml:"due_in_hours,omitempty"`
	EscalateInHours    int `json:"escalate_in_hours,omitempty" yaml:"escalate_in_hours,omitempty"`
	ReminderEveryHours int `json:"reminder_every_hours,omitempty" yaml:"reminder_every_hours,omitempty"`
	MaxReminders       int `json:"max_reminders,omitempty" yaml:"max_reminders,omitempty"`

	// SUB_FLOW
	SubFlowTemplateID string `json:"sub_flow_template_id,omitempty" yaml:"sub_flow_template_id,omitempty"`
}

// BranchDefinition is one outcome of a branching step
type BranchDefinition struct {
	ID        string   `json:"id" yaml:"id"`
	Label     string   `json:"label" yaml:"label"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"` // expr expression
	StepIDs   []string `json:"step_ids" yaml:"step_ids"`
	IsDefault bool     `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// RoleAssignment binds a template role to a contact or user within an instance
type RoleAssignment struct {
	ContactID string `json:"contact_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// FlowInstance is one execution of a template
type FlowInstance struct {
	ID              string                    `json:"id"`
	OrganizationID  string                    `json:"organization_id"`
	TemplateID      string                    `json:"template_id"`
	Name            string                    `json:"name"`
	Status          string                    `json:"status"` // IN_PROGRESS, COMPLETED, CANCELLED, PAUSED
	CurrentStepID   *string                   `json:"current_step_id,omitempty"`
	RoleAssignments map[string]RoleAssignment `json:"role_assignments,omitempty"`
	KickoffData     map[string]interface{}    `json:"kickoff_data,omitempty"`
	TriggerSource   string                    `json:"trigger_source,omitempty"`
	StartedByID     *string                   `json:"started_by_id,omitempty"`
	StartedAt       time.Time                 `json:"started_at"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	DueAt           *time.Time                `json:"due_at,omitempty"`
	LastActivityAt  *time.Time                `json:"last_activity_at,omitempty"`

	// Sub-flow linkage
	ParentInstanceID *string `json:"parent_instance_id,omitempty"`
	ParentStepID     *string `json:"parent_step_id,omitempty"`

	// Loaded with the instance
	Template *FlowTemplate    `json:"template,omitempty"`
	Steps    []*StepExecution `json:"steps,omitempty"`
}

// FindStepExecution returns the step execution with the given ID, or nil
func (i *FlowInstance) FindStepExecution(id string) *StepExecution {
	for _, s := range i.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepExecution is the runtime record of one step within one instance
type StepExecution struct {
	ID             string                 `json:"id"`
	InstanceID     string                 `json:"instance_id"`
	StepID         string                 `json:"step_id"`
	Position       int                    `json:"position"`
	Status         string                 `json:"status"`
	Assignees      []string               `json:"assignees,omitempty"`
	CompletionMode string                 `json:"completion_mode,omitempty"`
	CompletedBy    []string               `json:"completed_by,omitempty"`
	ResultData     map[string]interface{} `json:"result_data,omitempty"`
	BranchPath     string                 `json:"branch_path,omitempty"`
	ParallelGroup  string                 `json:"parallel_group,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	DueAt          *time.Time             `json:"due_at,omitempty"`
	EscalateAt     *time.Time             `json:"escalate_at,omitempty"`
	ReminderCount  int                    `json:"reminder_count"`
	LastReminderAt *time.Time             `json:"last_reminder_at,omitempty"`
}

// RecurringSchedule is a cron-driven trigger bound to a template
type RecurringSchedule struct {
	ID              string                    `json:"id"`
	OrganizationID  string                    `json:"organization_id"`
	TemplateID      string                    `json:"template_id"`
	Name            string                    `json:"name"`
	CronPattern     string                    `json:"cron_pattern"`
	Timezone        string                    `json:"timezone"`
	RoleAssignments map[string]RoleAssignment `json:"role_assignments,omitempty"`
	KickoffData     map[string]interface{}    `json:"kickoff_data,omitempty"`
	Enabled         bool                      `json:"enabled"`
	LastRunAt       *time.Time                `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time                `json:"next_run_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// AuditEntry is an append-only record of an engine action
type AuditEntry struct {
	ID              string                 `json:"id"`
	OrganizationID  string                 `json:"organization_id"`
	InstanceID      *string                `json:"instance_id,omitempty"`
	StepExecutionID *string                `json:"step_execution_id,omitempty"`
	Action          string                 `json:"action"`
	ActorID         *string                `json:"actor_id,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Organization is the tenant that owns templates and instances
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a member of an organization
type User struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"` // ADMIN, MEMBER
}

// User roles
const (
	UserRoleAdmin  = "ADMIN"
	UserRoleMember = "MEMBER"
)
