package oracle

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	return a.QueryWithParams(ctx, sqlQuery, nil, limit)
}

// QueryWithParams runs a SELECT with positional :1, :2 binds and bounded results.
func (a *Adapter) QueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	queryToRun := fmt.Sprintf("SELECT * FROM (%s) FETCH FIRST %d ROWS ONLY", sqlQuery, datasource.EffectiveLimit(limit))

	a.logger.Debug("Executing query", zap.String("sql", logging.SanitizeQuery(sqlQuery)))

	rows, err := a.db.QueryContext(ctx, queryToRun, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*datasource.QueryExecutionResult, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: normalizeTypeName(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Exists reports whether the query returns at least one row.
func (a *Adapter) Exists(ctx context.Context, sqlQuery string, params ...any) (bool, error) {
	var one int
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM (%s) WHERE ROWNUM = 1", sqlQuery), params...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence probe failed: %w", err)
	}
	return true, nil
}

// Count returns the number of rows the query produces.
func (a *Adapter) Count(ctx context.Context, sqlQuery string, params ...any) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s)", sqlQuery), params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count probe failed: %w", err)
	}
	return n, nil
}

// parseBlock hard-parses a statement server-side without executing it.
const parseBlock = `DECLARE
  c INTEGER := DBMS_SQL.OPEN_CURSOR;
BEGIN
  DBMS_SQL.PARSE(c, :1, DBMS_SQL.NATIVE);
  DBMS_SQL.CLOSE_CURSOR(c);
EXCEPTION
  WHEN OTHERS THEN
    DBMS_SQL.CLOSE_CURSOR(c);
    RAISE;
END;`

// ValidateQuery has Oracle parse the statement without running it. Only
// read-only statements are sent; DBMS_SQL executes DDL at parse time.
func (a *Adapter) ValidateQuery(ctx context.Context, sqlQuery string) error {
	if err := sqlutil.CheckReadOnlyStatement(sqlQuery); err != nil {
		return fmt.Errorf("invalid SQL: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, parseBlock, sqlQuery); err != nil {
		return fmt.Errorf("invalid SQL: %w", err)
	}
	return nil
}

// QuoteIdentifier safely quotes an Oracle identifier.
func (a *Adapter) QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}
