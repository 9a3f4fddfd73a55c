package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

var scheduleColumns = []string{
	constants.FieldID,
	constants.FieldOrganizationID,
	constants.FieldTemplateID,
	constants.FieldName,
	constants.FieldSchedule_CronPattern,
	constants.FieldSchedule_Timezone,
	constants.FieldSchedule_RoleAssignments,
	constants.FieldSchedule_KickoffData,
	constants.FieldSchedule_Enabled,
	constants.FieldSchedule_LastRunAt,
	constants.FieldSchedule_NextRunAt,
	constants.FieldCreatedAt,
}

var (
	queryInsertSchedule = fmt.Sprintf("%s %s (%s) %s (%s)",
		KeywordInsertInto, constants.TableRecurringSchedule, columnList(scheduleColumns), KeywordValues, placeholders(len(scheduleColumns)))
	querySelectSchedule = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordSelect, columnList(scheduleColumns), KeywordFrom, constants.TableRecurringSchedule, KeywordWhere, constants.FieldID)
	queryDeleteSchedule = fmt.Sprintf("%s %s %s %s = ?",
		KeywordDeleteFrom, constants.TableRecurringSchedule, KeywordWhere, constants.FieldID)
	querySelectTemplateSchedules = fmt.Sprintf("%s %s %s %s %s %s = ? %s %s %s",
		KeywordSelect, columnList(scheduleColumns), KeywordFrom, constants.TableRecurringSchedule, KeywordWhere, constants.FieldTemplateID,
		KeywordOrderBy, constants.FieldCreatedAt, KeywordAsc)
	querySelectEnabledSchedules = fmt.Sprintf("%s %s %s %s %s %s = ? %s %s %s",
		KeywordSelect, columnList(scheduleColumns), KeywordFrom, constants.TableRecurringSchedule, KeywordWhere, constants.FieldSchedule_Enabled,
		KeywordOrderBy, constants.FieldCreatedAt, KeywordAsc)
)

// CreateSchedule inserts a schedule
func (s *SQLStore) CreateSchedule(ctx context.Context, schedule *models.RecurringSchedule) error {
	roles, err := rolesJSON(schedule.RoleAssignments)
	if err != nil {
		return err
	}
	kickoff, err := toJSON(schedule.KickoffData)
	if err != nil {
		return err
	}
	createdAt := schedule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, queryInsertSchedule,
		schedule.ID,
		schedule.OrganizationID,
		schedule.TemplateID,
		schedule.Name,
		schedule.CronPattern,
		schedule.Timezone,
		roles,
		kickoff,
		schedule.Enabled,
		nullableTime(schedule.LastRunAt),
		nullableTime(schedule.NextRunAt),
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule %s: %w", schedule.ID, err)
	}
	return nil
}

// GetSchedule returns a schedule by id
func (s *SQLStore) GetSchedule(ctx context.Context, scheduleID string) (*models.RecurringSchedule, error) {
	sched, err := scanSchedule(s.db.QueryRowContext(ctx, querySelectSchedule, scheduleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", scheduleID, err)
	}
	return sched, nil
}

// DeleteSchedule removes a schedule
func (s *SQLStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx, queryDeleteSchedule, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", scheduleID, err)
	}
	found, err := checkAffected(res)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	return nil
}

// ListSchedules returns the schedules of a template in creation order
func (s *SQLStore) ListSchedules(ctx context.Context, templateID string) ([]*models.RecurringSchedule, error) {
	return s.querySchedules(ctx, querySelectTemplateSchedules, templateID)
}

// ListEnabledSchedules returns every enabled schedule
func (s *SQLStore) ListEnabledSchedules(ctx context.Context) ([]*models.RecurringSchedule, error) {
	return s.querySchedules(ctx, querySelectEnabledSchedules, true)
}

// UpdateScheduleRun stamps last and next run times. Nil leaves a column unchanged.
func (s *SQLStore) UpdateScheduleRun(ctx context.Context, scheduleID string, lastRun *time.Time, nextRun *time.Time) error {
	var (
		setClauses []string
		args       []interface{}
	)
	if lastRun != nil {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", constants.FieldSchedule_LastRunAt))
		args = append(args, lastRun.UTC())
	}
	if nextRun != nil {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", constants.FieldSchedule_NextRunAt))
		args = append(args, nextRun.UTC())
	}
	if len(setClauses) == 0 {
		return nil
	}

	query := fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordUpdate, constants.TableRecurringSchedule, KeywordSet, strings.Join(setClauses, ", "), KeywordWhere, constants.FieldID)
	args = append(args, scheduleID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", scheduleID, err)
	}
	found, err := checkAffected(res)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFoundError("RecurringSchedule", scheduleID)
	}
	return nil
}

func (s *SQLStore) querySchedules(ctx context.Context, query string, arg interface{}) ([]*models.RecurringSchedule, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []*models.RecurringSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*models.RecurringSchedule, error) {
	var (
		sched            models.RecurringSchedule
		roles, kickoff   []byte
		lastRun, nextRun sql.NullTime
	)
	err := row.Scan(
		&sched.ID,
		&sched.OrganizationID,
		&sched.TemplateID,
		&sched.Name,
		&sched.CronPattern,
		&sched.Timezone,
		&roles,
		&kickoff,
		&sched.Enabled,
		&lastRun,
		&nextRun,
		&sched.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.LastRunAt = timePtr(lastRun)
	sched.NextRunAt = timePtr(nextRun)
	sched.CreatedAt = sched.CreatedAt.UTC()
	if err := fromJSON(roles, &sched.RoleAssignments); err != nil {
		return nil, err
	}
	if err := fromJSON(kickoff, &sched.KickoffData); err != nil {
		return nil, err
	}
	return &sched, nil
}
