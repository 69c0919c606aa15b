package datasource

import (
	"context"
	"strings"
	"sync"
)

// MockDatasource is an in-memory Datasource for tests. Tables and
// ForeignKeys are keyed by upper-case table name. Set the function fields
// to script probe and query results. Safe for concurrent use.
type MockDatasource struct {
	Tables      map[string][]Column
	ForeignKeys map[string][]ForeignKey

	// ExistsFunc answers Exists. If nil, Exists returns false.
	ExistsFunc func(ctx context.Context, sqlQuery string, params ...any) (bool, error)

	// QueryFunc answers Query and QueryWithParams. If nil, an empty result is returned.
	QueryFunc func(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// CountFunc answers Count. If nil, Count returns 0.
	CountFunc func(ctx context.Context, sqlQuery string, params ...any) (int64, error)

	// ValidateFunc answers ValidateQuery. If nil, every statement is valid.
	ValidateFunc func(ctx context.Context, sqlQuery string) error

	// ColumnsErr is returned by GetColumns when set.
	ColumnsErr error

	mu             sync.Mutex
	getColumnsCall int
	getFKCall      int
	queries        []string
}

// NewMockDatasource creates a mock holding the given tables.
func NewMockDatasource(tables map[string][]Column) *MockDatasource {
	return &MockDatasource{
		Tables:      tables,
		ForeignKeys: map[string][]ForeignKey{},
	}
}

func (m *MockDatasource) record(q string) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
}

// GetColumns implements SchemaExtractor.
func (m *MockDatasource) GetColumns(ctx context.Context, table string) ([]Column, error) {
	m.mu.Lock()
	m.getColumnsCall++
	m.mu.Unlock()

	if m.ColumnsErr != nil {
		return nil, m.ColumnsErr
	}
	return m.Tables[strings.ToUpper(table)], nil
}

// GetForeignKeys implements SchemaExtractor.
func (m *MockDatasource) GetForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	m.mu.Lock()
	m.getFKCall++
	m.mu.Unlock()
	return m.ForeignKeys[strings.ToUpper(table)], nil
}

// Query implements QueryExecutor.
func (m *MockDatasource) Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error) {
	return m.QueryWithParams(ctx, sqlQuery, nil, limit)
}

// QueryWithParams implements QueryExecutor.
func (m *MockDatasource) QueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error) {
	m.record(sqlQuery)
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sqlQuery, params, limit)
	}
	return &QueryExecutionResult{}, nil
}

// Exists implements QueryExecutor.
func (m *MockDatasource) Exists(ctx context.Context, sqlQuery string, params ...any) (bool, error) {
	m.record(sqlQuery)
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, sqlQuery, params...)
	}
	return false, nil
}

// Count implements QueryExecutor.
func (m *MockDatasource) Count(ctx context.Context, sqlQuery string, params ...any) (int64, error) {
	m.record(sqlQuery)
	if m.CountFunc != nil {
		return m.CountFunc(ctx, sqlQuery, params...)
	}
	return 0, nil
}

// ValidateQuery implements QueryExecutor.
func (m *MockDatasource) ValidateQuery(ctx context.Context, sqlQuery string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, sqlQuery)
	}
	return nil
}

// QuoteIdentifier implements QueryExecutor.
func (m *MockDatasource) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Close implements QueryExecutor.
func (m *MockDatasource) Close() error {
	return nil
}

// GetColumnsCalls returns how many times GetColumns was called.
func (m *MockDatasource) GetColumnsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getColumnsCall
}

// GetForeignKeysCalls returns how many times GetForeignKeys was called.
func (m *MockDatasource) GetForeignKeysCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getFKCall
}

// Queries returns every statement sent to Query, Exists or Count, in order.
func (m *MockDatasource) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// Ensure MockDatasource implements Datasource at compile time.
var _ Datasource = (*MockDatasource)(nil)
