package persistence

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nexusflow/backend/pkg/constants"
)

type columnDefinition struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

type indexDefinition struct {
	Name    string
	Columns []string
}

type tableDefinition struct {
	TableName string
	Columns   []columnDefinition
	Indices   []indexDefinition
}

func idColumn() columnDefinition {
	return columnDefinition{Name: constants.FieldID, Type: SQLTypeVarchar36}
}

func col(name, sqlType string) columnDefinition {
	return columnDefinition{Name: name, Type: sqlType}
}

func nullCol(name, sqlType string) columnDefinition {
	return columnDefinition{Name: name, Type: sqlType, Nullable: true}
}

// engineTables lists the tables the engine owns, in creation order
var engineTables = []tableDefinition{
	{
		TableName: constants.TableOrganization,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldName, SQLTypeVarchar255),
		},
	},
	{
		TableName: constants.TableUser,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldOrganizationID, SQLTypeVarchar36),
			col(constants.FieldName, SQLTypeVarchar255),
			col(constants.FieldEmail, SQLTypeVarchar255),
			col(constants.FieldRole, SQLTypeVarchar50),
			{Name: constants.FieldCreatedAt, Type: SQLTypeDateTime, Default: FuncCurrentTimestamp},
		},
		Indices: []indexDefinition{{Name: "idx_user_org", Columns: []string{constants.FieldOrganizationID}}},
	},
	{
		TableName: constants.TableFlowTemplate,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldOrganizationID, SQLTypeVarchar36),
			col(constants.FieldName, SQLTypeVarchar255),
			nullCol(constants.FieldFlowTemplate_Description, SQLTypeText),
			col(constants.FieldStatus, SQLTypeVarchar50),
			col(constants.FieldFlowTemplate_Definition, SQLTypeJSON),
			col(constants.FieldCreatedAt, SQLTypeDateTime),
			col(constants.FieldUpdatedAt, SQLTypeDateTime),
		},
		Indices: []indexDefinition{{Name: "idx_template_org", Columns: []string{constants.FieldOrganizationID}}},
	},
	{
		TableName: constants.TableFlowInstance,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldOrganizationID, SQLTypeVarchar36),
			col(constants.FieldTemplateID, SQLTypeVarchar36),
			col(constants.FieldName, SQLTypeVarchar255),
			col(constants.FieldStatus, SQLTypeVarchar50),
			nullCol(constants.FieldFlowInstance_CurrentStepID, SQLTypeVarchar100),
			nullCol(constants.FieldFlowInstance_RoleAssignments, SQLTypeJSON),
			nullCol(constants.FieldFlowInstance_KickoffData, SQLTypeJSON),
			nullCol(constants.FieldFlowInstance_TriggerSource, SQLTypeVarchar50),
			nullCol(constants.FieldFlowInstance_StartedByID, SQLTypeVarchar36),
			col(constants.FieldFlowInstance_StartedAt, SQLTypeDateTime),
			nullCol(constants.FieldFlowInstance_CompletedAt, SQLTypeDateTime),
			nullCol(constants.FieldFlowInstance_DueAt, SQLTypeDateTime),
			nullCol(constants.FieldFlowInstance_LastActivityAt, SQLTypeDateTime),
			nullCol(constants.FieldFlowInstance_ParentInstanceID, SQLTypeVarchar36),
			nullCol(constants.FieldFlowInstance_ParentStepID, SQLTypeVarchar36),
		},
		Indices: []indexDefinition{
			{Name: "idx_instance_org_status", Columns: []string{constants.FieldOrganizationID, constants.FieldStatus}},
			{Name: "idx_instance_parent", Columns: []string{constants.FieldFlowInstance_ParentInstanceID}},
		},
	},
	{
		TableName: constants.TableStepExecution,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldInstanceID, SQLTypeVarchar36),
			col(constants.FieldStepExecution_StepID, SQLTypeVarchar100),
			col(constants.FieldStepExecution_Position, SQLTypeInt),
			col(constants.FieldStatus, SQLTypeVarchar50),
			nullCol(constants.FieldStepExecution_Assignees, SQLTypeJSON),
			nullCol(constants.FieldStepExecution_CompletionMode, SQLTypeVarchar50),
			nullCol(constants.FieldStepExecution_CompletedBy, SQLTypeJSON),
			nullCol(constants.FieldStepExecution_ResultData, SQLTypeJSON),
			nullCol(constants.FieldStepExecution_BranchPath, SQLTypeVarchar255),
			nullCol(constants.FieldStepExecution_ParallelGroup, SQLTypeVarchar100),
			nullCol(constants.FieldStepExecution_StartedAt, SQLTypeDateTime),
			nullCol(constants.FieldStepExecution_CompletedAt, SQLTypeDateTime),
			nullCol(constants.FieldStepExecution_DueAt, SQLTypeDateTime),
			nullCol(constants.FieldStepExecution_EscalateAt, SQLTypeDateTime),
			{Name: constants.FieldStepExecution_ReminderCount, Type: SQLTypeInt, Default: "0"},
			nullCol(constants.FieldStepExecution_LastReminderAt, SQLTypeDateTime),
		},
		Indices: []indexDefinition{{Name: "idx_step_instance_position", Columns: []string{constants.FieldInstanceID, constants.FieldStepExecution_Position}}},
	},
	{
		TableName: constants.TableRecurringSchedule,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldOrganizationID, SQLTypeVarchar36),
			col(constants.FieldTemplateID, SQLTypeVarchar36),
			col(constants.FieldName, SQLTypeVarchar255),
			col(constants.FieldSchedule_CronPattern, SQLTypeVarchar100),
			col(constants.FieldSchedule_Timezone, SQLTypeVarchar100),
			nullCol(constants.FieldSchedule_RoleAssignments, SQLTypeJSON),
			nullCol(constants.FieldSchedule_KickoffData, SQLTypeJSON),
			{Name: constants.FieldSchedule_Enabled, Type: SQLTypeBoolean, Default: "TRUE"},
			nullCol(constants.FieldSchedule_LastRunAt, SQLTypeDateTime),
			nullCol(constants.FieldSchedule_NextRunAt, SQLTypeDateTime),
			col(constants.FieldCreatedAt, SQLTypeDateTime),
		},
		Indices: []indexDefinition{{Name: "idx_schedule_template", Columns: []string{constants.FieldTemplateID}}},
	},
	{
		TableName: constants.TableAuditLog,
		Columns: []columnDefinition{
			idColumn(),
			col(constants.FieldOrganizationID, SQLTypeVarchar36),
			nullCol(constants.FieldInstanceID, SQLTypeVarchar36),
			nullCol(constants.FieldAudit_StepExecutionID, SQLTypeVarchar36),
			col(constants.FieldAudit_Action, SQLTypeVarchar100),
			nullCol(constants.FieldAudit_ActorID, SQLTypeVarchar36),
			nullCol(constants.FieldAudit_Details, SQLTypeJSON),
			col(constants.FieldCreatedAt, SQLTypeDateTime),
		},
		Indices: []indexDefinition{{Name: "idx_audit_instance", Columns: []string{constants.FieldInstanceID}}},
	},
}

// EnsureSchema creates the engine tables that do not exist yet
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, def := range engineTables {
		if _, err := s.db.ExecContext(ctx, buildCreateTableDDL(def)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.TableName, err)
		}
	}
	log.Printf("📐 Engine schema ready (%d tables)", len(engineTables))
	return nil
}

// DropSchema drops every engine table, dependents first
func (s *SQLStore) DropSchema(ctx context.Context) error {
	for i := len(engineTables) - 1; i >= 0; i-- {
		if err := s.dropTable(ctx, engineTables[i].TableName); err != nil {
			return err
		}
	}

	// Tables left behind by older releases share the engine prefix
	leftovers, err := s.listSystemTables(ctx)
	if err != nil {
		return err
	}
	for _, name := range leftovers {
		if err := s.dropTable(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) dropTable(ctx context.Context, name string) error {
	log.Printf("🔥 Dropping table: %s", name)
	if _, err := s.db.ExecContext(ctx, buildDropTableDDL(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) listSystemTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, KeywordShowTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if constants.IsSystemTable(name) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func buildDropTableDDL(table string) string {
	return fmt.Sprintf("%s %s `%s`", KeywordDropTable, KeywordIfExists, table)
}

// buildCreateTableDDL renders an idempotent CREATE TABLE statement with inline indexes
func buildCreateTableDDL(def tableDefinition) string {
	var ddl strings.Builder
	ddl.WriteString(fmt.Sprintf("%s %s `%s` (\n", KeywordCreateTable, KeywordIfNotExists, def.TableName))

	for _, c := range def.Columns {
		ddl.WriteString("  ")
		ddl.WriteString(buildColumnDDL(c))
		ddl.WriteString(",\n")
	}
	for _, idx := range def.Indices {
		ddl.WriteString(fmt.Sprintf("  %s `%s` (`%s`),\n", KeywordIndex, idx.Name, strings.Join(idx.Columns, "`, `")))
	}
	ddl.WriteString(fmt.Sprintf("  %s (`%s`)\n", KeywordPrimaryKey, constants.FieldID))
	ddl.WriteString(") ")
	ddl.WriteString(TableCharsetClause)
	return ddl.String()
}

func buildColumnDDL(c columnDefinition) string {
	parts := []string{fmt.Sprintf("`%s`", c.Name), c.Type}
	if c.Nullable {
		parts = append(parts, KeywordNull)
	} else {
		parts = append(parts, KeywordNotNull)
	}
	if c.Default != "" {
		parts = append(parts, KeywordDefault, c.Default)
	}
	return strings.Join(parts, " ")
}
