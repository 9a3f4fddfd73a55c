package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nexusflow/backend/internal/domain"
	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/utils"
)

// ReminderRecorder counts a sent reminder against a step
type ReminderRecorder interface {
	RecordReminder(ctx context.Context, stepExecutionID string) (*models.StepExecution, *models.FlowInstance, bool, error)
}

// ReminderService keeps in-process timers for human steps: periodic
// reminders to assignees, an overdue marker and an escalation notice.
// Timers are lost on restart; steps are re-armed when they are next touched.
type ReminderService struct {
	mu       sync.Mutex
	timers   map[string][]*time.Timer
	stopped  bool
	unit     time.Duration
	recorder ReminderRecorder
	store    ports.InstanceStore
	audit    ports.AuditLog
	email    ports.EmailSender
	events   ports.EventPublisher
}

var _ ports.ReminderScheduler = (*ReminderService)(nil)

// NewReminderService creates the timer service. unit is the length of one
// configured "hour" and is shortened in tests.
func NewReminderService(store ports.InstanceStore, audit ports.AuditLog, email ports.EmailSender, publisher ports.EventPublisher, unit time.Duration) *ReminderService {
	if unit <= 0 {
		unit = time.Hour
	}
	return &ReminderService{
		timers: make(map[string][]*time.Timer),
		unit:   unit,
		store:  store,
		audit:  audit,
		email:  email,
		events: publisher,
	}
}

// SetRecorder wires the service that persists reminder counts
func (r *ReminderService) SetRecorder(recorder ReminderRecorder) {
	r.recorder = recorder
}

// Arm replaces any timers of the step with fresh ones for its definition
func (r *ReminderService) Arm(instance *models.FlowInstance, step *models.StepExecution, def *models.StepDefinition) {
	if def == nil {
		r.Disarm(step.ID)
		return
	}

	var elapsed time.Duration
	if step.StartedAt != nil {
		elapsed = time.Since(*step.StartedAt)
	}
	instanceID, stepID := instance.ID, step.ID
	recipients := reminderRecipients(instance, def)

	var timers []*time.Timer
	if def.ReminderEveryHours > 0 && len(recipients) > 0 {
		limit := def.MaxReminders
		if limit <= 0 {
			limit = constants.ReminderDefaultMax
		}
		if step.ReminderCount < limit {
			every := time.Duration(def.ReminderEveryHours) * r.unit
			timers = append(timers, time.AfterFunc(every, func() {
				r.remind(stepID, def, recipients, every, limit)
			}))
		}
	}
	if def.DueInHours > 0 {
		delay := positive(time.Duration(def.DueInHours)*r.unit - elapsed)
		timers = append(timers, time.AfterFunc(delay, func() {
			r.markDeadline(instanceID, stepID, constants.AuditStepOverdue, nil)
		}))
	}
	if def.EscalateInHours > 0 {
		delay := positive(time.Duration(def.EscalateInHours)*r.unit - elapsed)
		timers = append(timers, time.AfterFunc(delay, func() {
			r.markDeadline(instanceID, stepID, constants.AuditStepEscalated, func(inst *models.FlowInstance, exec *models.StepExecution) {
				r.notify(recipients, fmt.Sprintf("Escalated: %s", def.Name),
					fmt.Sprintf("The step %q in %q has passed its escalation deadline.", def.Name, inst.Name))
			})
		}))
	}
	// old timers are stopped and replaced under one lock
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers[stepID] {
		t.Stop()
	}
	delete(r.timers, stepID)
	if r.stopped {
		for _, t := range timers {
			t.Stop()
		}
		return
	}
	if len(timers) > 0 {
		r.timers[stepID] = timers
	}
}

// Disarm stops every timer of the step
func (r *ReminderService) Disarm(stepExecutionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers[stepExecutionID] {
		t.Stop()
	}
	delete(r.timers, stepExecutionID)
}

// Armed reports how many steps currently hold timers
func (r *ReminderService) Armed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels all timers. Later Arm calls are ignored.
func (r *ReminderService) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, timers := range r.timers {
		for _, t := range timers {
			t.Stop()
		}
		delete(r.timers, id)
	}
}

func (r *ReminderService) remind(stepExecutionID string, def *models.StepDefinition, recipients []string, every time.Duration, limit int) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exec, instance, ok, err := r.recorder.RecordReminder(ctx, stepExecutionID)
	if err != nil {
		log.Printf("⚠️ Reminder for step %s failed: %v", stepExecutionID, err)
		return
	}
	if !ok {
		r.Disarm(stepExecutionID)
		return
	}

	r.notify(recipients, fmt.Sprintf("Reminder: %s", def.Name),
		fmt.Sprintf("The step %q in %q is waiting for you.", def.Name, instance.Name))
	log.Printf("📧 Reminder %d/%d sent for step %s of instance %s", exec.ReminderCount, limit, def.ID, instance.ID)

	if exec.ReminderCount >= limit {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, armed := r.timers[stepExecutionID]; !armed {
		return
	}
	r.timers[stepExecutionID] = append(r.timers[stepExecutionID], time.AfterFunc(every, func() {
		r.remind(stepExecutionID, def, recipients, every, limit)
	}))
}

// markDeadline records an overdue or escalation marker if the step is still active
func (r *ReminderService) markDeadline(instanceID, stepExecutionID, action string, after func(*models.FlowInstance, *models.StepExecution)) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	instance, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		log.Printf("⚠️ Deadline check for step %s failed: %v", stepExecutionID, err)
		return
	}
	exec := instance.FindStepExecution(stepExecutionID)
	if exec == nil || instance.Status != constants.FlowInstanceStatusInProgress || !domain.IsStepActive(domain.StepState(exec.Status)) {
		return
	}

	id := instance.ID
	entry := &models.AuditEntry{
		ID:              utils.GenerateID(),
		OrganizationID:  instance.OrganizationID,
		InstanceID:      &id,
		StepExecutionID: &stepExecutionID,
		Action:          action,
		Details:         map[string]interface{}{"step_id": exec.StepID},
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.audit.AppendAudit(ctx, entry); err != nil {
		log.Printf("⚠️ Failed to write %s audit for step %s: %v", action, stepExecutionID, err)
	}
	if r.events != nil {
		r.events.Emit(instance.OrganizationID, events.Event{
			Type: events.AttentionChanged,
			Data: map[string]interface{}{
				"instanceId":      instance.ID,
				"stepExecutionId": exec.ID,
				"stepId":          exec.StepID,
				"reason":          action,
			},
		})
	}
	if after != nil {
		after(instance, exec)
	}
}

func (r *ReminderService) notify(recipients []string, subject, body string) {
	if r.email == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, to := range recipients {
		if err := r.email.Send(ctx, to, subject, body); err != nil {
			log.Printf("⚠️ Failed to send %q to %s: %v", subject, to, err)
		}
	}
}

// reminderRecipients returns the email addresses bound to the step's assignee roles
func reminderRecipients(instance *models.FlowInstance, def *models.StepDefinition) []string {
	var out []string
	for _, role := range def.AssigneeRoles {
		if ra, ok := instance.RoleAssignments[role]; ok && ra.Email != "" {
			out = appendUnique(out, ra.Email)
		}
	}
	return out
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
