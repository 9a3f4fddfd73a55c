package constants

import "strings"

// Engine table names.
const (
	SystemTablePrefix = "_System_"

	TableOrganization      = "_System_Organization"
	TableUser              = "_System_User"
	TableFlowTemplate      = "_System_FlowTemplate"
	TableFlowInstance      = "_System_FlowInstance"
	TableStepExecution     = "_System_StepExecution"
	TableRecurringSchedule = "_System_RecurringSchedule"
	TableAuditLog          = "_System_AuditLog"
)

// IsSystemTable checks if a table name is an engine-owned table
func IsSystemTable(tableName string) bool {
	return strings.HasPrefix(tableName, SystemTablePrefix)
}
