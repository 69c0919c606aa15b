package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
)

// SchemaContext is the schema shown to generators and used by the scorer.
type SchemaContext struct {
	// Text lists one table per line: NAME(COL TYPE, ...).
	Text string
	// Tables maps upper-case table names to their upper-case column names.
	Tables map[string][]string
}

// SchemaContextProvider builds the schema context for a database.
type SchemaContextProvider interface {
	SchemaContext(ctx context.Context, db string) (*SchemaContext, error)
}

// ColumnLister reads column metadata. *schema.Introspector implements it.
type ColumnLister interface {
	Columns(ctx context.Context, db, table string) ([]schema.ColumnMeta, error)
}

type schemaContextBuilder struct {
	catalog ColumnLister
	tables  []string
	logger  *zap.Logger
}

// NewSchemaContextBuilder creates a provider describing the given tables.
// Metadata is read through catalog on every call, so its cache governs cost.
func NewSchemaContextBuilder(catalog ColumnLister, tables []string, logger *zap.Logger) SchemaContextProvider {
	seen := make(map[string]bool)
	var names []string
	for _, t := range tables {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		names = append(names, t)
	}
	sort.Strings(names)
	return &schemaContextBuilder{
		catalog: catalog,
		tables:  names,
		logger:  logger.Named("schema-context"),
	}
}

// SchemaContext describes every configured table whose metadata can be read.
// Unreadable tables are skipped. An error is returned only when ctx ends.
func (b *schemaContextBuilder) SchemaContext(ctx context.Context, db string) (*SchemaContext, error) {
	sc := &SchemaContext{Tables: make(map[string][]string, len(b.tables))}
	var lines []string
	for _, table := range b.tables {
		cols, err := b.catalog.Columns(ctx, db, table)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("describe %s: %w", table, ctx.Err())
			}
			b.logger.Warn("Skipping table in schema context",
				zap.String("table", table),
				zap.Error(err))
			continue
		}
		if len(cols) == 0 {
			continue
		}
		names := make([]string, len(cols))
		parts := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
			parts[i] = c.Name + " " + c.OracleType
		}
		sc.Tables[table] = names
		lines = append(lines, table+"("+strings.Join(parts, ", ")+")")
	}
	sc.Text = strings.Join(lines, "\n")
	return sc, nil
}
