package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nexusflow/backend/internal/domain"
	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// flowRun is the working set of one locked mutation. Changes are collected
// here, committed together, and events are published only after the commit.
type flowRun struct {
	instance *models.FlowInstance
	def      *models.TemplateDefinition
	org      *models.Organization
	now      time.Time

	dirty     []*models.StepExecution
	dirtySet  map[string]bool
	activated []*models.StepExecution
	subFlows  []*models.StepExecution
	armed     []*models.StepExecution
	disarmed  []string
	audits    []*models.AuditEntry
	events    []events.Event
	completed bool
}

func (a *FlowAdvancementService) newRun(ctx context.Context, instance *models.FlowInstance) *flowRun {
	org, err := a.store.GetOrganization(ctx, instance.OrganizationID)
	if err != nil {
		org = nil
	}
	return &flowRun{
		instance: instance,
		def:      &instance.Template.Definition,
		org:      org,
		now:      a.now(),
		dirtySet: make(map[string]bool),
	}
}

func (a *FlowAdvancementService) load(ctx context.Context, instanceID string) (*flowRun, error) {
	instance, err := a.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Template == nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("instance %s has no template loaded", instanceID), nil)
	}
	return a.newRun(ctx, instance), nil
}

// commit writes the working set. A new instance is inserted with all of its
// steps; otherwise touched steps and the instance row are saved together.
func (a *FlowAdvancementService) commit(ctx context.Context, run *flowRun, create bool) error {
	if create {
		if err := a.store.CreateInstance(ctx, run.instance, run.instance.Steps); err != nil {
			return err
		}
	} else if err := a.store.SaveRun(ctx, run.instance, run.dirty); err != nil {
		return fmt.Errorf("failed to save instance %s: %w", run.instance.ID, err)
	}

	for _, entry := range run.audits {
		if err := a.store.AppendAudit(ctx, entry); err != nil {
			log.Printf("⚠️ Failed to write audit %s for instance %s: %v", entry.Action, run.instance.ID, err)
		}
	}
	return nil
}

// publish delivers events and reminder changes of a committed run
func (a *FlowAdvancementService) publish(run *flowRun) {
	if a.reminders != nil {
		for _, id := range run.disarmed {
			a.reminders.Disarm(id)
		}
		for _, exec := range run.armed {
			if domain.IsStepActive(domain.StepState(exec.Status)) {
				a.reminders.Arm(run.instance, exec, run.def.FindStep(exec.StepID))
			}
		}
	}
	if a.publisher == nil {
		return
	}
	for _, event := range run.events {
		a.publisher.Emit(run.instance.OrganizationID, event)
	}
}

func (r *flowRun) touch(exec *models.StepExecution) {
	if r.dirtySet[exec.ID] {
		return
	}
	r.dirtySet[exec.ID] = true
	r.dirty = append(r.dirty, exec)
}

func (r *flowRun) stampActivity() {
	now := r.now
	r.instance.LastActivityAt = &now
}

func (r *flowRun) audit(action string, exec *models.StepExecution, actorID *string, details map[string]interface{}) {
	instanceID := r.instance.ID
	entry := &models.AuditEntry{
		ID:             utils.GenerateID(),
		OrganizationID: r.instance.OrganizationID,
		InstanceID:     &instanceID,
		Action:         action,
		ActorID:        actorID,
		Details:        details,
		CreatedAt:      r.now,
	}
	if exec != nil {
		execID := exec.ID
		entry.StepExecutionID = &execID
		if entry.Details == nil {
			entry.Details = map[string]interface{}{}
		}
		entry.Details["step_id"] = exec.StepID
	}
	r.audits = append(r.audits, entry)
}

func (r *flowRun) emit(eventType events.EventType, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["instanceId"] = r.instance.ID
	data["status"] = r.instance.Status
	if r.instance.CurrentStepID != nil {
		data["currentStepId"] = *r.instance.CurrentStepID
	}
	r.events = append(r.events, events.Event{Type: eventType, Data: data})
}

func stepEventData(exec *models.StepExecution) map[string]interface{} {
	return map[string]interface{}{
		"stepExecutionId": exec.ID,
		"stepId":          exec.StepID,
		"stepStatus":      exec.Status,
	}
}

func hasActiveStep(steps []*models.StepExecution) bool {
	for _, s := range steps {
		if domain.IsStepActive(domain.StepState(s.Status)) {
			return true
		}
	}
	return false
}

func firstPendingIndex(steps []*models.StepExecution) int {
	for i, s := range steps {
		if s.Status == constants.StepStatusPending {
			return i
		}
	}
	return -1
}

// groupMembers returns the contiguous run of steps sharing exec's parallel group
func groupMembers(steps []*models.StepExecution, exec *models.StepExecution) []*models.StepExecution {
	idx := -1
	for i, s := range steps {
		if s.ID == exec.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []*models.StepExecution{exec}
	}
	start, end := idx, idx
	for start > 0 && steps[start-1].ParallelGroup == exec.ParallelGroup {
		start--
	}
	for end < len(steps)-1 && steps[end+1].ParallelGroup == exec.ParallelGroup {
		end++
	}
	return steps[start : end+1]
}

// resolveAssignees maps the assignee roles of a step to the identities bound
// on the instance: user id, else contact id, else email.
func resolveAssignees(instance *models.FlowInstance, def *models.StepDefinition) []string {
	var out []string
	for _, role := range def.AssigneeRoles {
		ra, ok := instance.RoleAssignments[role]
		if !ok {
			for name, candidate := range instance.RoleAssignments {
				if strings.EqualFold(name, role) {
					ra, ok = candidate, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		for _, identity := range []string{ra.UserID, ra.ContactID, ra.Email} {
			if strings.TrimSpace(identity) != "" {
				out = appendUnique(out, identity)
				break
			}
		}
	}
	return out
}

func completionModeOf(mode string) string {
	switch mode {
	case constants.CompletionModeAll, constants.CompletionModeMajority:
		return mode
	default:
		return constants.CompletionModeAnyOne
	}
}

func mergeResult(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
