package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
)

const userColumnsQuery = `
SELECT column_name, data_type, nullable
FROM user_tab_columns
WHERE table_name = :1
ORDER BY column_id`

const ownerColumnsQuery = `
SELECT column_name, data_type, nullable
FROM all_tab_columns
WHERE owner = :1 AND table_name = :2
ORDER BY column_id`

const foreignKeysQuery = `
SELECT a.column_name, pk.table_name, b.column_name
FROM all_constraints c
JOIN all_cons_columns a
  ON a.owner = c.owner AND a.constraint_name = c.constraint_name
JOIN all_constraints pk
  ON pk.owner = c.r_owner AND pk.constraint_name = c.r_constraint_name
JOIN all_cons_columns b
  ON b.owner = pk.owner AND b.constraint_name = pk.constraint_name AND b.position = a.position
WHERE c.constraint_type = 'R'
  AND c.owner = NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA'))
  AND c.table_name = :2
ORDER BY c.constraint_name, a.position`

// GetColumns returns the columns of a table in column order. Tables are
// resolved in the configured owner's schema, else the connecting user's.
func (a *Adapter) GetColumns(ctx context.Context, table string) ([]datasource.Column, error) {
	owner, name := parseOwnerTable(table, a.config.Owner)

	var (
		query string
		args  []any
	)
	if owner == "" {
		query, args = userColumnsQuery, []any{name}
	} else {
		query, args = ownerColumnsQuery, []any{owner, name}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []datasource.Column
	for rows.Next() {
		var col datasource.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.IsNullable = nullable == "Y"
		col.DataType = normalizeTypeName(col.DataType)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	a.logger.Debug("Loaded column metadata",
		zap.String("table", name),
		zap.Int("columns", len(columns)))

	return columns, nil
}

// GetForeignKeys returns the foreign keys declared on a table.
func (a *Adapter) GetForeignKeys(ctx context.Context, table string) ([]datasource.ForeignKey, error) {
	owner, name := parseOwnerTable(table, a.config.Owner)

	var ownerArg any
	if owner != "" {
		ownerArg = owner
	}

	rows, err := a.db.QueryContext(ctx, foreignKeysQuery, ownerArg, name)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys for %s: %w", table, err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKey
	for rows.Next() {
		var fk datasource.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}
