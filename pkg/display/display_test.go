package display

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
)

type fakeExecutor struct {
	result  *datasource.QueryExecutionResult
	err     error
	queries []string
	limits  []int
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, query string, limit int) (*datasource.QueryExecutionResult, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	return f.result, f.err
}

func rowsOf(cols []string, rows ...[]any) *datasource.QueryExecutionResult {
	r := &datasource.QueryExecutionResult{}
	for _, c := range cols {
		r.Columns = append(r.Columns, datasource.ColumnInfo{Name: c})
	}
	for _, vals := range rows {
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		r.Rows = append(r.Rows, row)
	}
	r.RowCount = len(r.Rows)
	return r
}

func TestDetermineDisplayMode(t *testing.T) {
	tests := []struct {
		query string
		rows  int
		want  Mode
	}{
		{"show production for May", 10, ModeTable},
		{"give me a summary of defects", 10, ModeSummary},
		{"list floors and give a status report", 10, ModeBoth},
		{"which floor had the highest DHU", 5, ModeSummary},
		{"who is the supervisor of floor 3", 1, ModeBoth},
		{"what is the joining date of Rahim", 1, ModeBoth},
		{"how many employees joined", 1, ModeSummary},
		{"when was the salary last revised", 1, ModeBoth},
		{"production by floor", 12, ModeTable},
		{"production by floor", 1, ModeBoth},
		{"production by floor", 0, ModeSummary},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineDisplayMode(tt.query, tt.rows))
		})
	}
}

func TestIsGenericBrowse(t *testing.T) {
	p := NewPolicy(&fakeExecutor{}, nil, nil, zap.NewNop())
	tests := []struct {
		query string
		sql   string
		want  bool
	}{
		{"list employees", "SELECT emp_id, name FROM EMP", true},
		{"show all suppliers", "SELECT SUPPLIER_NAME FROM T_SUPPLIER", true},
		{"employees", "SELECT emp_id FROM EMP", true},
		{"list employees in knitting", "SELECT emp_id FROM EMP", false},
		{"total employees", "SELECT COUNT(*) FROM EMP", false},
		{"list employees", "SELECT DEPT, COUNT(*) FROM EMP GROUP BY DEPT", false},
		{"list employees joined May 2024", "SELECT emp_id FROM EMP", false},
		{"list CTL-24-00123", "SELECT * FROM T_TNA", false},
		{"list active permanent senior knitting machine operators", "SELECT * FROM EMP", false},
		{"employee", "SELECT emp_id FROM EMP", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsGenericBrowse(tt.query, tt.sql))
		})
	}
}

func TestWidenResultsIfNeeded_GenericBrowse(t *testing.T) {
	original := rowsOf([]string{"EMP_ID", "NAME"}, []any{int64(1), "Rahim"})
	widened := rowsOf([]string{"EMP_ID", "NAME", "DEPT"}, []any{int64(1), "Rahim", "Knitting"}, []any{int64(2), "Karim", "Sewing"})
	exec := &fakeExecutor{result: widened}
	p := NewPolicy(exec, nil, nil, zap.NewNop())

	got, sqlText, ok := p.WidenResultsIfNeeded(context.Background(), "list employees", "SELECT emp_id, name FROM EMP", "erp", original)

	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM EMP FETCH FIRST 200 ROWS ONLY", sqlText)
	assert.Same(t, widened, got)
	assert.Equal(t, []int{WidenLimit}, exec.limits)
}

func TestWidenResultsIfNeeded_FallsBack(t *testing.T) {
	original := rowsOf([]string{"EMP_ID"}, []any{int64(1)})

	t.Run("no widened rows", func(t *testing.T) {
		p := NewPolicy(&fakeExecutor{result: &datasource.QueryExecutionResult{}}, nil, nil, zap.NewNop())
		got, sqlText, ok := p.WidenResultsIfNeeded(context.Background(), "list employees", "SELECT emp_id FROM EMP", "erp", original)
		assert.False(t, ok)
		assert.Same(t, original, got)
		assert.Equal(t, "SELECT emp_id FROM EMP", sqlText)
	})

	t.Run("widened query fails", func(t *testing.T) {
		p := NewPolicy(&fakeExecutor{err: errors.New("ORA-00942: table or view does not exist")}, nil, nil, zap.NewNop())
		got, _, ok := p.WidenResultsIfNeeded(context.Background(), "list employees", "SELECT emp_id FROM EMP", "erp", original)
		assert.False(t, ok)
		assert.Same(t, original, got)
	})

	t.Run("not a browse", func(t *testing.T) {
		exec := &fakeExecutor{}
		p := NewPolicy(exec, nil, nil, zap.NewNop())
		got, _, ok := p.WidenResultsIfNeeded(context.Background(), "total salary by department", "SELECT DEPT, SUM(SALARY) FROM EMP GROUP BY DEPT", "erp", original)
		assert.False(t, ok)
		assert.Same(t, original, got)
		assert.Empty(t, exec.queries)
	})
}

func TestWidenedStatement(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"SELECT emp_id, name FROM EMP", "SELECT * FROM EMP FETCH FIRST 200 ROWS ONLY", true},
		{"SELECT e.name FROM EMP e WHERE e.STATUS = 'A' ORDER BY e.name", "SELECT * FROM EMP e WHERE e.STATUS = 'A' FETCH FIRST 200 ROWS ONLY", true},
		{"SELECT * FROM EMP", "", false},
		{"SELECT e.name, d.name FROM EMP e JOIN DEPT d ON e.DEPT_ID = d.ID", "", false},
		{"SELECT 1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := WidenedStatement(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeResults(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		result *datasource.QueryExecutionResult
		want   string
	}{
		{"empty", "list employees", &datasource.QueryExecutionResult{}, "No matching records found."},
		{"nil", "list employees", nil, "No matching records found."},
		{"scalar", "total production in May", rowsOf([]string{"TOTAL_QTY"}, []any{float64(1250)}), "Total Qty: 1250"},
		{"scalar string", "who is the supervisor", rowsOf([]string{"SUPERVISOR_NAME"}, []any{"Rahim"}), "Supervisor Name: Rahim"},
		{
			"average prefers efficiency",
			"average efficiency by floor",
			rowsOf([]string{"FLOOR_NAME", "PRODUCTION_QTY", "EFFICIENCY"},
				[]any{"North", int64(100), float64(60)},
				[]any{"South", int64(300), float64(80)}),
			"Average Efficiency: 70.00 (lowest: North at 60.00, highest: South at 80.00).",
		},
		{
			"average without label",
			"avg output",
			rowsOf([]string{"OUTPUT"}, []any{int64(10)}, []any{int64(20)}),
			"Average Output: 15.00.",
		},
		{
			"row count",
			"production by floor",
			rowsOf([]string{"FLOOR_NAME", "QTY"}, []any{"North", int64(1)}, []any{"South", int64(2)}),
			"Found 2 matching records.",
		},
		{
			"single row",
			"details of order 5",
			rowsOf([]string{"ORDER_NO", "BUYER"}, []any{"5", "H&M"}),
			"Found 1 matching record.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SummarizeResults(tt.query, tt.result))
		})
	}
}
