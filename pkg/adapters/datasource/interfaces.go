package datasource

import "context"

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// SchemaExtractor reads column and foreign key metadata for one table.
type SchemaExtractor interface {
	// GetColumns returns columns for a table, in column order. An unknown
	// table yields an empty slice, not an error.
	GetColumns(ctx context.Context, table string) ([]Column, error)

	// GetForeignKeys returns the foreign keys declared on a table.
	GetForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
}

// Column represents a database column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// MaxQueryLimit is the hard cap on rows returned by Query methods.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 1000

// QueryExecutor runs read-only SQL against a datasource.
// Each implementation owns its connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	// The query is ALWAYS wrapped with a row limit:
	//   - Oracle: SELECT * FROM (query) FETCH FIRST n ROWS ONLY
	//
	// Limit behavior:
	//   - limit <= 0: uses MaxQueryLimit (1000)
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit (1000)
	//   - otherwise: uses specified limit
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// QueryWithParams runs a SELECT using positional :1, :2 binds.
	// See Query for limit behavior.
	QueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// Exists reports whether the query returns at least one row.
	Exists(ctx context.Context, sqlQuery string, params ...any) (bool, error)

	// Count returns the number of rows the query produces.
	Count(ctx context.Context, sqlQuery string, params ...any) (int64, error)

	// ValidateQuery asks the server to parse a statement without running it.
	// Returns nil if valid, error with details if invalid.
	ValidateQuery(ctx context.Context, sqlQuery string) error

	// QuoteIdentifier safely quotes a SQL identifier (table, column, schema name).
	QuoteIdentifier(name string) string

	// Close releases any resources held by the executor.
	Close() error
}

// Datasource is a connected database that can describe and query itself.
type Datasource interface {
	SchemaExtractor
	QueryExecutor
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "VARCHAR2", "NUMBER", "DATE")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryExecutionResult) ColumnNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// EffectiveLimit clamps a requested row limit to (0, MaxQueryLimit].
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
