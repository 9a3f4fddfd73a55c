package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

// MemoryStore is an in-process FlowStore. Rows are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	organizations map[string]*models.Organization
	users         []*models.User
	templates     map[string]*models.FlowTemplate
	instances     map[string]*models.FlowInstance
	steps         map[string]*models.StepExecution
	stepsByInst   map[string][]string
	schedules     map[string]*models.RecurringSchedule
	scheduleOrder []string
	audit         []*models.AuditEntry
}

// Ensure MemoryStore implements ports.FlowStore at compile time
var _ ports.FlowStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		organizations: make(map[string]*models.Organization),
		templates:     make(map[string]*models.FlowTemplate),
		instances:     make(map[string]*models.FlowInstance),
		steps:         make(map[string]*models.StepExecution),
		stepsByInst:   make(map[string][]string),
		schedules:     make(map[string]*models.RecurringSchedule),
	}
}

// AddOrganization seeds an organization
func (s *MemoryStore) AddOrganization(org *models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *org
	s.organizations[org.ID] = &o
}

// AddUser seeds a user. Insertion order decides the attributing user.
func (s *MemoryStore) AddUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users = append(s.users, &u)
}

// GetOrganization returns an organization by id
func (s *MemoryStore) GetOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[organizationID]
	if !ok {
		return nil, apperrors.NewNotFoundError("Organization", organizationID)
	}
	o := *org
	return &o, nil
}

// FindAttributingUser returns the first admin, else the first user of the organization
func (s *MemoryStore) FindAttributingUser(ctx context.Context, organizationID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var fallback *models.User
	for _, u := range s.users {
		if u.OrganizationID != organizationID {
			continue
		}
		if u.Role == models.UserRoleAdmin {
			found := *u
			return &found, nil
		}
		if fallback == nil {
			fallback = u
		}
	}
	if fallback == nil {
		return nil, apperrors.NewNotFoundError("User", "organization "+organizationID)
	}
	found := *fallback
	return &found, nil
}

// GetTemplate returns a template by id
func (s *MemoryStore) GetTemplate(ctx context.Context, templateID string) (*models.FlowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, apperrors.NewNotFoundError("FlowTemplate", templateID)
	}
	return cloneTemplate(tpl), nil
}

// SaveTemplate inserts or replaces a template
func (s *MemoryStore) SaveTemplate(ctx context.Context, template *models.FlowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	tpl := cloneTemplate(template)
	if existing, ok := s.templates[tpl.ID]; ok {
		tpl.CreatedAt = existing.CreatedAt
	} else if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	s.templates[tpl.ID] = tpl
	return nil
}

// CreateInstance inserts an instance and its step executions
func (s *MemoryStore) CreateInstance(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[instance.ID]; exists {
		return apperrors.NewConflictError("FlowInstance", instance.ID, "instance already exists")
	}
	s.instances[instance.ID] = cloneInstanceRow(instance)
	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		s.steps[step.ID] = cloneStep(step)
		ids = append(ids, step.ID)
	}
	s.stepsByInst[instance.ID] = ids
	return nil
}

// GetInstance returns an instance with its template and steps ordered by position
func (s *MemoryStore) GetInstance(ctx context.Context, instanceID string) (*models.FlowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.instances[instanceID]
	if !ok {
		return nil, apperrors.NewNotFoundError("FlowInstance", instanceID)
	}
	inst := cloneInstanceRow(row)
	if tpl, ok := s.templates[inst.TemplateID]; ok {
		inst.Template = cloneTemplate(tpl)
	}
	for _, id := range s.stepsByInst[instanceID] {
		inst.Steps = append(inst.Steps, cloneStep(s.steps[id]))
	}
	sort.SliceStable(inst.Steps, func(i, j int) bool { return inst.Steps[i].Position < inst.Steps[j].Position })
	return inst, nil
}

// UpdateInstance persists the mutable columns of an instance
func (s *MemoryStore) UpdateInstance(ctx context.Context, instance *models.FlowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; !ok {
		return apperrors.NewNotFoundError("FlowInstance", instance.ID)
	}
	s.instances[instance.ID] = cloneInstanceRow(instance)
	return nil
}

// GetStepExecution returns a step execution by id
func (s *MemoryStore) GetStepExecution(ctx context.Context, stepExecutionID string) (*models.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[stepExecutionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	return cloneStep(step), nil
}

// UpdateStepExecution persists a step execution. Creation-time columns are kept.
func (s *MemoryStore) UpdateStepExecution(ctx context.Context, step *models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.steps[step.ID]
	if !ok {
		return apperrors.NewNotFoundError("StepExecution", step.ID)
	}
	s.steps[step.ID] = mergeStep(existing, step)
	return nil
}

// SaveRun checks every row exists before writing any of them
func (s *MemoryStore) SaveRun(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; !ok {
		return apperrors.NewNotFoundError("FlowInstance", instance.ID)
	}
	for _, step := range steps {
		if _, ok := s.steps[step.ID]; !ok {
			return apperrors.NewNotFoundError("StepExecution", step.ID)
		}
	}
	for _, step := range steps {
		s.steps[step.ID] = mergeStep(s.steps[step.ID], step)
	}
	s.instances[instance.ID] = cloneInstanceRow(instance)
	return nil
}

func mergeStep(existing, step *models.StepExecution) *models.StepExecution {
	updated := cloneStep(step)
	updated.InstanceID = existing.InstanceID
	updated.StepID = existing.StepID
	updated.Position = existing.Position
	updated.BranchPath = existing.BranchPath
	updated.ParallelGroup = existing.ParallelGroup
	return updated
}

// CreateSchedule inserts a schedule
func (s *MemoryStore) CreateSchedule(ctx context.Context, schedule *models.RecurringSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; !exists {
		s.scheduleOrder = append(s.scheduleOrder, schedule.ID)
	}
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

// GetSchedule returns a schedule by id
func (s *MemoryStore) GetSchedule(ctx context.Context, scheduleID string) (*models.RecurringSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	return cloneSchedule(sched), nil
}

// DeleteSchedule removes a schedule
func (s *MemoryStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[scheduleID]; !ok {
		return apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	delete(s.schedules, scheduleID)
	for i, id := range s.scheduleOrder {
		if id == scheduleID {
			s.scheduleOrder = append(s.scheduleOrder[:i], s.scheduleOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ListSchedules returns the schedules of a template in creation order
func (s *MemoryStore) ListSchedules(ctx context.Context, templateID string) ([]*models.RecurringSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RecurringSchedule
	for _, id := range s.scheduleOrder {
		if sched := s.schedules[id]; sched.TemplateID == templateID {
			out = append(out, cloneSchedule(sched))
		}
	}
	return out, nil
}

// ListEnabledSchedules returns every enabled schedule
func (s *MemoryStore) ListEnabledSchedules(ctx context.Context) ([]*models.RecurringSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RecurringSchedule
	for _, id := range s.scheduleOrder {
		if sched := s.schedules[id]; sched.Enabled {
			out = append(out, cloneSchedule(sched))
		}
	}
	return out, nil
}

// UpdateScheduleRun stamps last and next run times. Nil leaves a column unchanged.
func (s *MemoryStore) UpdateScheduleRun(ctx context.Context, scheduleID string, lastRun *time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	if lastRun != nil {
		t := *lastRun
		sched.LastRunAt = &t
	}
	if nextRun != nil {
		t := *nextRun
		sched.NextRunAt = &t
	}
	return nil
}

// AppendAudit appends an audit row
func (s *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.Details = cloneMap(entry.Details)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, &e)
	return nil
}

// AuditEntries returns a copy of the audit log
func (s *MemoryStore) AuditEntries() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, 0, len(s.audit))
	for _, e := range s.audit {
		out = append(out, *e)
	}
	return out
}

// InstanceCount returns the number of stored instances
func (s *MemoryStore) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// ListInstances returns every instance row (without steps or template) in start order
func (s *MemoryStore) ListInstances() []*models.FlowInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.FlowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, cloneInstanceRow(inst))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func cloneInstanceRow(in *models.FlowInstance) *models.FlowInstance {
	out := *in
	out.Template = nil
	out.Steps = nil
	out.KickoffData = cloneMap(in.KickoffData)
	if in.RoleAssignments != nil {
		out.RoleAssignments = make(map[string]models.RoleAssignment, len(in.RoleAssignments))
		for k, v := range in.RoleAssignments {
			out.RoleAssignments[k] = v
		}
	}
	return &out
}

func cloneStep(in *models.StepExecution) *models.StepExecution {
	out := *in
	out.Assignees = append([]string(nil), in.Assignees...)
	out.CompletedBy = append([]string(nil), in.CompletedBy...)
	out.ResultData = cloneMap(in.ResultData)
	return &out
}

func cloneSchedule(in *models.RecurringSchedule) *models.RecurringSchedule {
	out := *in
	out.KickoffData = cloneMap(in.KickoffData)
	if in.RoleAssignments != nil {
		out.RoleAssignments = make(map[string]models.RoleAssignment, len(in.RoleAssignments))
		for k, v := range in.RoleAssignments {
			out.RoleAssignments[k] = v
		}
	}
	return &out
}

// cloneTemplate deep-copies a template through its JSON form
func cloneTemplate(in *models.FlowTemplate) *models.FlowTemplate {
	var out models.FlowTemplate
	raw, err := json.Marshal(in)
	if err != nil || json.Unmarshal(raw, &out) != nil {
		c := *in
		return &c
	}
	// JSON drops monotonic clock readings only
	out.CreatedAt, out.UpdatedAt = in.CreatedAt, in.UpdatedAt
	return &out
}

// cloneMap deep-copies a JSON-shaped map
func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
