package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/utils"
)

var auditColumns = []string{
	constants.FieldID,
	constants.FieldOrganizationID,
	constants.FieldInstanceID,
	constants.FieldAudit_StepExecutionID,
	constants.FieldAudit_Action,
	constants.FieldAudit_ActorID,
	constants.FieldAudit_Details,
	constants.FieldCreatedAt,
}

var queryInsertAudit = fmt.Sprintf("%s %s (%s) %s (%s)",
	KeywordInsertInto, constants.TableAuditLog, columnList(auditColumns), KeywordValues, placeholders(len(auditColumns)))

// AppendAudit appends an audit row
func (s *SQLStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	details, err := toJSON(entry.Details)
	if err != nil {
		return err
	}

	id := entry.ID
	if id == "" {
		id = utils.GenerateID()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, queryInsertAudit,
		id,
		entry.OrganizationID,
		nullableString(entry.InstanceID),
		nullableString(entry.StepExecutionID),
		entry.Action,
		nullableString(entry.ActorID),
		details,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit %s: %w", entry.Action, err)
	}
	return nil
}
