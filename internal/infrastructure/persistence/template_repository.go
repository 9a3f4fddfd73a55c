package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

var templateColumns = []string{
	constants.FieldID,
	constants.FieldOrganizationID,
	constants.FieldName,
	constants.FieldFlowTemplate_Description,
	constants.FieldStatus,
	constants.FieldFlowTemplate_Definition,
	constants.FieldCreatedAt,
	constants.FieldUpdatedAt,
}

// Columns replaced when an existing template is saved again
var templateUpsertColumns = []string{
	constants.FieldName,
	constants.FieldFlowTemplate_Description,
	constants.FieldStatus,
	constants.FieldFlowTemplate_Definition,
	constants.FieldUpdatedAt,
}

var (
	querySelectTemplate = fmt.Sprintf("%s %s %s %s %s %s = ?",
		KeywordSelect, columnList(templateColumns), KeywordFrom, constants.TableFlowTemplate, KeywordWhere, constants.FieldID)
	queryUpsertTemplate = fmt.Sprintf("%s %s (%s) %s (%s) %s %s",
		KeywordInsertInto, constants.TableFlowTemplate, columnList(templateColumns), KeywordValues, placeholders(len(templateColumns)),
		KeywordOnDuplicate, valuesAssignments(templateUpsertColumns))
)

// GetTemplate returns a template by id
func (s *SQLStore) GetTemplate(ctx context.Context, templateID string) (*models.FlowTemplate, error) {
	var (
		tpl         models.FlowTemplate
		description sql.NullString
		definition  []byte
	)
	err := s.db.QueryRowContext(ctx, querySelectTemplate, templateID).Scan(
		&tpl.ID,
		&tpl.OrganizationID,
		&tpl.Name,
		&description,
		&tpl.Status,
		&definition,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("FlowTemplate", templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	tpl.Description = stringPtr(description)
	if err := fromJSON(definition, &tpl.Definition); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// SaveTemplate inserts a template or replaces the definition of an existing one.
// created_at is kept on replace.
func (s *SQLStore) SaveTemplate(ctx context.Context, template *models.FlowTemplate) error {
	definition, err := json.Marshal(template.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode template definition: %w", err)
	}

	now := time.Now().UTC()
	createdAt := template.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, queryUpsertTemplate,
		template.ID,
		template.OrganizationID,
		template.Name,
		nullableString(template.Description),
		template.Status,
		string(definition),
		createdAt.UTC(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}
	return nil
}

func valuesAssignments(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = %s(%s)", c, KeywordValues, c)
	}
	return strings.Join(parts, ", ")
}
