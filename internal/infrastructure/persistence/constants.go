package persistence

// SQL type definitions used by the schema
const (
	SQLTypeVarchar36  = "VARCHAR(36)"
	SQLTypeVarchar50  = "VARCHAR(50)"
	SQLTypeVarchar100 = "VARCHAR(100)"
	SQLTypeVarchar255 = "VARCHAR(255)"
	SQLTypeText       = "TEXT"
	SQLTypeInt        = "INT"
	SQLTypeBoolean    = "BOOLEAN"
	SQLTypeDateTime   = "DATETIME(6)"
	SQLTypeJSON       = "JSON"
)

// SQL keyword constants
const (
	KeywordInsertInto  = "INSERT INTO"
	KeywordValues      = "VALUES"
	KeywordOnDuplicate = "ON DUPLICATE KEY UPDATE"
	KeywordUpdate      = "UPDATE"
	KeywordSet         = "SET"
	KeywordWhere       = "WHERE"
	KeywordFrom        = "FROM"
	KeywordSelect      = "SELECT"
	KeywordDeleteFrom  = "DELETE FROM"
	KeywordLimit       = "LIMIT"
	KeywordOrderBy     = "ORDER BY"
	KeywordAsc         = "ASC"
	KeywordCreateTable = "CREATE TABLE"
	KeywordIfNotExists = "IF NOT EXISTS"
	KeywordDropTable   = "DROP TABLE"
	KeywordIfExists    = "IF EXISTS"
	KeywordShowTables  = "SHOW TABLES"
	KeywordPrimaryKey  = "PRIMARY KEY"
	KeywordNotNull     = "NOT NULL"
	KeywordNull        = "NULL"
	KeywordDefault     = "DEFAULT"
	KeywordIndex       = "INDEX"
	KeywordCase        = "CASE"
	KeywordWhen        = "WHEN"
	KeywordThen        = "THEN"
	KeywordElse        = "ELSE"
	KeywordEnd         = "END"
)

// Table options and SQL functions
const (
	FuncCurrentTimestamp = "CURRENT_TIMESTAMP(6)"
	TableCharsetClause   = "DEFAULT CHARSET=utf8mb4"
)

// MySQL error codes
const (
	ErrCodeDeadlock = "1213"
	ErrCodeLockWait = "1205"
)
