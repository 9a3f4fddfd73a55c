package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

var instanceColumns = []string{
	constants.FieldID,
	constants.FieldOrganizationID,
	constants.FieldTemplateID,
	constants.FieldName,
	constants.FieldStatus,
	constants.FieldFlowInstance_CurrentStepID,
	constants.FieldFlowInstance_RoleAssignments,
	constants.FieldFlowInstance_KickoffData,
	constants.FieldFlowInstance_TriggerSource,
	constants.FieldFlowInstance_StartedByID,
	constants.FieldFlowInstance_StartedAt,
	constants.FieldFlowInstance_CompletedAt,
	constants.FieldFlowInstance_DueAt,
	constants.FieldFlowInstance_LastActivityAt,
	constants.FieldFlowInstance_ParentInstanceID,
	constants.FieldFlowInstance_ParentStepID,
}

// Columns rewritten by UpdateInstance
var instanceMutableColumns = []string{
	constants.FieldName,
	constants.FieldStatus,
	constants.FieldFlowInstance_CurrentStepID,
	constants.FieldFlowInstance_RoleAssignments,
	constants.FieldFlowInstance_KickoffData,
	constants.FieldFlowInstance_CompletedAt,
	constants.FieldFlowInstance_DueAt,
	constants.FieldFlowInstance_LastActivityAt,
}

var stepColumns = []string{
	constants.FieldID,
	constants.FieldInstanceID,
	constants.FieldStepExecution_StepID,
	constants.FieldStepExecution_Position,
	constants.FieldStatus,
	constants.FieldStepExecution_Assignees,
	constants.FieldStepExecution_CompletionMode,
	constants.FieldStepExecution_CompletedBy,
	constants.FieldStepExecution_ResultData,
	constants.FieldStepExecution_BranchPath,
	constants.FieldStepExecution_ParallelGroup,
	constants.FieldStepExecution_StartedAt,
	constants.FieldStepExecution_CompletedAt,
	constants.FieldStepExecution_DueAt,
	constants.FieldStepExecution_EscalateAt,
	constants.FieldStepExecution_ReminderCount,
	constants.FieldStepExecution_LastReminderAt,
}

// Columns rewritten by UpdateStepExecution. Branch path, parallel group and
// position are fixed at creation.
var stepMutableColumns = []string{
	constants.FieldStatus,
	constants.FieldStepExecution_Assignees,
	constants.FieldStepExecution_CompletionMode,
	constants.FieldStepExecution_CompletedBy,
	constants.FieldStepExecution_ResultData,
	constants.FieldStepExecution_StartedAt,
	constants.FieldStepExecution_CompletedAt,
	constants.FieldStepExecution_DueAt,
	constants.FieldStepExecution_EscalateAt,
	constants.FieldStepExecution_ReminderCount,
	constants.FieldStepExecution_LastReminderAt,
}

var (
	queryInsertInstance = fmt.Sprintf("%s %s (%s) %s (%s)",
		KeywordInsertInto, constants.TableFlowInstance, columnList(instanceColumns), KeywordValues, placeholders(len(instanceColumns)))
	querySelectInstance = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordSelect, columnList(instanceColumns), KeywordFrom, constants.TableFlowInstance, KeywordWhere, constants.FieldID)
	queryUpdateInstance = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordUpdate, constants.TableFlowInstance, KeywordSet, assignments(instanceMutableColumns), KeywordWhere, constants.FieldID)

	queryInsertStep = fmt.Sprintf("%s %s (%s) %s (%s)",
		KeywordInsertInto, constants.TableStepExecution, columnList(stepColumns), KeywordValues, placeholders(len(stepColumns)))
	querySelectStep = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordSelect, columnList(stepColumns), KeywordFrom, constants.TableStepExecution, KeywordWhere, constants.FieldID)
	querySelectInstanceSteps = fmt.Sprintf("%s %s %s %s %s %s = ? %s %s %s",
		KeywordSelect, columnList(stepColumns), KeywordFrom, constants.TableStepExecution, KeywordWhere, constants.FieldInstanceID,
		KeywordOrderBy, constants.FieldStepExecution_Position, KeywordAsc)
	queryUpdateStep = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordUpdate, constants.TableStepExecution, KeywordSet, assignments(stepMutableColumns), KeywordWhere, constants.FieldID)
)

// GetInstance returns an instance with its template and steps ordered by position
func (s *SQLStore) GetInstance(ctx context.Context, instanceID string) (*models.FlowInstance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx, querySelectInstance, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("FlowInstance", instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	tpl, err := s.GetTemplate(ctx, inst.TemplateID)
	switch {
	case err == nil:
		inst.Template = tpl
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, querySelectInstanceSteps, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		inst.Steps = append(inst.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inst, nil
}

// CreateInstance inserts an instance and its step executions in one transaction
func (s *SQLStore) CreateInstance(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error {
	instArgs, err := instanceInsertArgs(instance)
	if err != nil {
		return err
	}

	return s.tm.WithRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryInsertInstance, instArgs...); err != nil {
			return fmt.Errorf("failed to insert instance %s: %w", instance.ID, err)
		}
		for _, step := range steps {
			args, err := stepInsertArgs(step)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, queryInsertStep, args...); err != nil {
				return fmt.Errorf("failed to insert step execution %s: %w", step.ID, err)
			}
		}
		return nil
	}, 3)
}

// UpdateInstance persists the mutable columns of an instance
func (s *SQLStore) UpdateInstance(ctx context.Context, instance *models.FlowInstance) error {
	return updateInstance(ctx, s.db, instance)
}

// SaveRun writes the touched step executions and the instance row in one transaction
func (s *SQLStore) SaveRun(ctx context.Context, instance *models.FlowInstance, steps []*models.StepExecution) error {
	return s.tm.WithRetry(ctx, func(tx *sql.Tx) error {
		for _, step := range steps {
			if err := updateStep(ctx, tx, step); err != nil {
				return err
			}
		}
		return updateInstance(ctx, tx, instance)
	}, 3)
}

func updateInstance(ctx context.Context, exec execer, instance *models.FlowInstance) error {
	roles, err := rolesJSON(instance.RoleAssignments)
	if err != nil {
		return err
	}
	kickoff, err := toJSON(instance.KickoffData)
	if err != nil {
		return err
	}

	res, err := exec.ExecContext(ctx, queryUpdateInstance,
		instance.Name,
		instance.Status,
		nullableString(instance.CurrentStepID),
		roles,
		kickoff,
		nullableTime(instance.CompletedAt),
		nullableTime(instance.DueAt),
		nullableTime(instance.LastActivityAt),
		instance.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}
	found, err := checkAffected(res)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFoundError("FlowInstance", instance.ID)
	}
	return nil
}

// GetStepExecution returns a step execution by id
func (s *SQLStore) GetStepExecution(ctx context.Context, stepExecutionID string) (*models.StepExecution, error) {
	step, err := scanStep(s.db.QueryRowContext(ctx, querySelectStep, stepExecutionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("StepExecution", stepExecutionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load step execution %s: %w", stepExecutionID, err)
	}
	return step, nil
}

// UpdateStepExecution persists the mutable columns of a step execution
func (s *SQLStore) UpdateStepExecution(ctx context.Context, step *models.StepExecution) error {
	return updateStep(ctx, s.db, step)
}

func updateStep(ctx context.Context, exec execer, step *models.StepExecution) error {
	assignees, err := toJSON(step.Assignees)
	if err != nil {
		return err
	}
	completedBy, err := toJSON(step.CompletedBy)
	if err != nil {
		return err
	}
	result, err := toJSON(step.ResultData)
	if err != nil {
		return err
	}

	res, err := exec.ExecContext(ctx, queryUpdateStep,
		step.Status,
		assignees,
		emptyAsNull(step.CompletionMode),
		completedBy,
		result,
		nullableTime(step.StartedAt),
		nullableTime(step.CompletedAt),
		nullableTime(step.DueAt),
		nullableTime(step.EscalateAt),
		step.ReminderCount,
		nullableTime(step.LastReminderAt),
		step.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", step.ID, err)
	}
	found, err := checkAffected(res)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFoundError("StepExecution", step.ID)
	}
	return nil
}

func instanceInsertArgs(instance *models.FlowInstance) ([]interface{}, error) {
	roles, err := rolesJSON(instance.RoleAssignments)
	if err != nil {
		return nil, err
	}
	kickoff, err := toJSON(instance.KickoffData)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		instance.ID,
		instance.OrganizationID,
		instance.TemplateID,
		instance.Name,
		instance.Status,
		nullableString(instance.CurrentStepID),
		roles,
		kickoff,
		emptyAsNull(instance.TriggerSource),
		nullableString(instance.StartedByID),
		instance.StartedAt.UTC(),
		nullableTime(instance.CompletedAt),
		nullableTime(instance.DueAt),
		nullableTime(instance.LastActivityAt),
		nullableString(instance.ParentInstanceID),
		nullableString(instance.ParentStepID),
	}, nil
}

func stepInsertArgs(step *models.StepExecution) ([]interface{}, error) {
	assignees, err := toJSON(step.Assignees)
	if err != nil {
		return nil, err
	}
	completedBy, err := toJSON(step.CompletedBy)
	if err != nil {
		return nil, err
	}
	result, err := toJSON(step.ResultData)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		step.ID,
		step.InstanceID,
		step.StepID,
		step.Position,
		step.Status,
		assignees,
		emptyAsNull(step.CompletionMode),
		completedBy,
		result,
		emptyAsNull(step.BranchPath),
		emptyAsNull(step.ParallelGroup),
		nullableTime(step.StartedAt),
		nullableTime(step.CompletedAt),
		nullableTime(step.DueAt),
		nullableTime(step.EscalateAt),
		step.ReminderCount,
		nullableTime(step.LastReminderAt),
	}, nil
}

// rolesJSON encodes role assignments; an empty map is stored as NULL
func rolesJSON(roles map[string]models.RoleAssignment) (interface{}, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	return toJSON(roles)
}

func scanInstance(row rowScanner) (*models.FlowInstance, error) {
	var (
		inst                             models.FlowInstance
		currentStep, trigger, startedBy  sql.NullString
		parentInstance, parentStep       sql.NullString
		roles, kickoff                   []byte
		completedAt, dueAt, lastActivity sql.NullTime
	)
	err := row.Scan(
		&inst.ID,
		&inst.OrganizationID,
		&inst.TemplateID,
		&inst.Name,
		&inst.Status,
		&currentStep,
		&roles,
		&kickoff,
		&trigger,
		&startedBy,
		&inst.StartedAt,
		&completedAt,
		&dueAt,
		&lastActivity,
		&parentInstance,
		&parentStep,
	)
	if err != nil {
		return nil, err
	}

	inst.CurrentStepID = stringPtr(currentStep)
	inst.TriggerSource = trigger.String
	inst.StartedByID = stringPtr(startedBy)
	inst.StartedAt = inst.StartedAt.UTC()
	inst.CompletedAt = timePtr(completedAt)
	inst.DueAt = timePtr(dueAt)
	inst.LastActivityAt = timePtr(lastActivity)
	inst.ParentInstanceID = stringPtr(parentInstance)
	inst.ParentStepID = stringPtr(parentStep)
	if err := fromJSON(roles, &inst.RoleAssignments); err != nil {
		return nil, err
	}
	if err := fromJSON(kickoff, &inst.KickoffData); err != nil {
		return nil, err
	}
	return &inst, nil
}

func scanStep(row rowScanner) (*models.StepExecution, error) {
	var (
		step                           models.StepExecution
		mode, branch, group            sql.NullString
		assignees, completedBy, result []byte
		startedAt, completedAt, dueAt  sql.NullTime
		escalateAt, lastReminder       sql.NullTime
	)
	err := row.Scan(
		&step.ID,
		&step.InstanceID,
		&step.StepID,
		&step.Position,
		&step.Status,
		&assignees,
		&mode,
		&completedBy,
		&result,
		&branch,
		&group,
		&startedAt,
		&completedAt,
		&dueAt,
		&escalateAt,
		&step.ReminderCount,
		&lastReminder,
	)
	if err != nil {
		return nil, err
	}

	step.CompletionMode = mode.String
	step.BranchPath = branch.String
	step.ParallelGroup = group.String
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)
	step.DueAt = timePtr(dueAt)
	step.EscalateAt = timePtr(escalateAt)
	step.LastReminderAt = timePtr(lastReminder)
	if err := fromJSON(assignees, &step.Assignees); err != nil {
		return nil, err
	}
	if err := fromJSON(completedBy, &step.CompletedBy); err != nil {
		return nil, err
	}
	if err := fromJSON(result, &step.ResultData); err != nil {
		return nil, err
	}
	return &step, nil
}
