// Package schema caches Oracle column metadata and answers the type questions
// SQL assembly and predicate guards ask. It also fronts the probe and
// execution calls those components make against the live database.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
)

// ErrUnknownDatabase is returned when no datasource is registered under a name.
var ErrUnknownDatabase = errors.New("unknown database")

// DefaultCacheSize bounds the number of cached tables when none is configured.
const DefaultCacheSize = 512

// ColumnMeta describes one column. Name and OracleType are upper-case.
type ColumnMeta struct {
	Name       string `json:"name"`
	OracleType string `json:"oracle_type"`
	Nullable   bool   `json:"nullable"`
}

// Family returns the column's type family.
func (c ColumnMeta) Family() TypeFamily { return FamilyOf(c.OracleType) }

// IsNumeric reports whether the column holds numbers.
func (c ColumnMeta) IsNumeric() bool { return c.Family() == FamilyNumeric }

// IsDate reports whether the column is DATE or TIMESTAMP typed.
func (c ColumnMeta) IsDate() bool { return c.Family() == FamilyDate }

// IsChar reports whether the column is character typed, LOBs included.
func (c ColumnMeta) IsChar() bool { return c.Family() == FamilyChar }

// ForeignKey is a child column pointing at a parent table's column.
type ForeignKey struct {
	Column       string `json:"column"`
	ParentTable  string `json:"parent_table"`
	ParentColumn string `json:"parent_column"`
}

type cacheKey struct {
	db    string
	table string
}

// Introspector is a process-wide read-through cache of column and foreign
// key metadata, keyed by upper-case (database, table). Entries are never
// mutated after they are stored, and concurrent misses for one key share a
// single metadata round trip.
type Introspector struct {
	mu      sync.RWMutex
	sources map[string]datasource.Datasource

	columns *lru.Cache[cacheKey, []ColumnMeta]
	fks     *lru.Cache[cacheKey, []ForeignKey]
	group   singleflight.Group

	logger *zap.Logger
}

// NewIntrospector creates an introspector holding at most size tables per cache.
func NewIntrospector(size int, logger *zap.Logger) (*Introspector, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	columns, err := lru.New[cacheKey, []ColumnMeta](size)
	if err != nil {
		return nil, fmt.Errorf("create column cache: %w", err)
	}
	fks, err := lru.New[cacheKey, []ForeignKey](size)
	if err != nil {
		return nil, fmt.Errorf("create foreign key cache: %w", err)
	}
	return &Introspector{
		sources: make(map[string]datasource.Datasource),
		columns: columns,
		fks:     fks,
		logger:  logger.Named("schema"),
	}, nil
}

// Register makes a datasource available under a database name.
func (i *Introspector) Register(db string, ds datasource.Datasource) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sources[normalizeName(db)] = ds
}

// Databases returns the registered database names.
func (i *Introspector) Databases() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	names := make([]string, 0, len(i.sources))
	for name := range i.sources {
		names = append(names, name)
	}
	return names
}

func (i *Introspector) source(db string) (datasource.Datasource, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ds, ok := i.sources[normalizeName(db)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, db)
	}
	return ds, nil
}

// normalizeName upper-cases an identifier and drops double quotes.
func normalizeName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), `"`, ""))
}

// bareColumn strips a table qualifier from a column reference.
func bareColumn(col string) string {
	col = normalizeName(col)
	if dot := strings.LastIndex(col, "."); dot != -1 {
		return col[dot+1:]
	}
	return col
}

// Columns returns a table's columns in column order. An unknown table yields
// an empty slice. The returned slice is shared and must not be modified.
func (i *Introspector) Columns(ctx context.Context, db, table string) ([]ColumnMeta, error) {
	key := cacheKey{db: normalizeName(db), table: normalizeName(table)}
	if cols, ok := i.columns.Get(key); ok {
		return cols, nil
	}

	ds, err := i.source(db)
	if err != nil {
		return nil, err
	}

	v, err, _ := i.group.Do("columns:"+key.db+"."+key.table, func() (any, error) {
		if cols, ok := i.columns.Get(key); ok {
			return cols, nil
		}
		raw, err := ds.GetColumns(ctx, key.table)
		if err != nil {
			return nil, err
		}
		cols := make([]ColumnMeta, len(raw))
		for n, c := range raw {
			cols[n] = ColumnMeta{
				Name:       strings.ToUpper(c.Name),
				OracleType: strings.ToUpper(c.DataType),
				Nullable:   c.IsNullable,
			}
		}
		i.columns.Add(key, cols)
		i.logger.Debug("Cached column metadata",
			zap.String("db", key.db),
			zap.String("table", key.table),
			zap.Int("columns", len(cols)))
		return cols, nil
	})
	if err != nil {
		i.logger.Warn("Column metadata lookup failed",
			zap.String("table", key.table),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("columns for %s: %w", key.table, err)
	}
	return v.([]ColumnMeta), nil
}

// Column looks up one column. A qualifier such as "p.PROD_DATE" is ignored.
func (i *Introspector) Column(ctx context.Context, db, table, column string) (ColumnMeta, bool, error) {
	cols, err := i.Columns(ctx, db, table)
	if err != nil {
		return ColumnMeta{}, false, err
	}
	name := bareColumn(column)
	for _, c := range cols {
		if c.Name == name {
			return c, true, nil
		}
	}
	return ColumnMeta{}, false, nil
}

// HasColumn reports whether the table has the column. Lookup errors read as false.
func (i *Introspector) HasColumn(ctx context.Context, db, table, column string) bool {
	_, ok, err := i.Column(ctx, db, table, column)
	return err == nil && ok
}

// ColumnType returns the column's Oracle type, or "" when unknown.
func (i *Introspector) ColumnType(ctx context.Context, db, table, column string) string {
	c, ok, err := i.Column(ctx, db, table, column)
	if err != nil || !ok {
		return ""
	}
	return c.OracleType
}

// IsNumeric reports whether the column is confirmed numeric.
func (i *Introspector) IsNumeric(ctx context.Context, db, table, column string) bool {
	return FamilyOf(i.ColumnType(ctx, db, table, column)) == FamilyNumeric
}

// IsDate reports whether the column is confirmed DATE or TIMESTAMP typed.
func (i *Introspector) IsDate(ctx context.Context, db, table, column string) bool {
	return FamilyOf(i.ColumnType(ctx, db, table, column)) == FamilyDate
}

// IsChar reports whether the column is confirmed character typed.
func (i *Introspector) IsChar(ctx context.Context, db, table, column string) bool {
	return FamilyOf(i.ColumnType(ctx, db, table, column)) == FamilyChar
}

// DateColumns returns the table's date and timestamp columns in column order.
func (i *Introspector) DateColumns(ctx context.Context, db, table string) ([]string, error) {
	return i.columnsOf(ctx, db, table, FamilyDate)
}

// TextColumns returns the table's character columns in column order.
func (i *Introspector) TextColumns(ctx context.Context, db, table string) ([]string, error) {
	return i.columnsOf(ctx, db, table, FamilyChar)
}

func (i *Introspector) columnsOf(ctx context.Context, db, table string, family TypeFamily) ([]string, error) {
	cols, err := i.Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range cols {
		if c.Family() == family {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// ForeignKeys returns the foreign keys declared on a table.
func (i *Introspector) ForeignKeys(ctx context.Context, db, table string) ([]ForeignKey, error) {
	key := cacheKey{db: normalizeName(db), table: normalizeName(table)}
	if fks, ok := i.fks.Get(key); ok {
		return fks, nil
	}

	ds, err := i.source(db)
	if err != nil {
		return nil, err
	}

	v, err, _ := i.group.Do("fks:"+key.db+"."+key.table, func() (any, error) {
		if fks, ok := i.fks.Get(key); ok {
			return fks, nil
		}
		raw, err := ds.GetForeignKeys(ctx, key.table)
		if err != nil {
			return nil, err
		}
		fks := make([]ForeignKey, len(raw))
		for n, fk := range raw {
			fks[n] = ForeignKey{
				Column:       strings.ToUpper(fk.Column),
				ParentTable:  strings.ToUpper(fk.ReferencedTable),
				ParentColumn: strings.ToUpper(fk.ReferencedColumn),
			}
		}
		i.fks.Add(key, fks)
		return fks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys for %s: %w", key.table, err)
	}
	return v.([]ForeignKey), nil
}

// Probe reports whether a query returns at least one row. Callers pass
// values as :1, :2 binds.
func (i *Introspector) Probe(ctx context.Context, db, query string, args ...any) (bool, error) {
	ds, err := i.source(db)
	if err != nil {
		return false, err
	}
	ok, err := ds.Exists(ctx, query, args...)
	if err != nil {
		i.logger.Debug("Probe failed",
			zap.String("query", logging.SanitizeQuery(query)),
			zap.String("error", logging.SanitizeError(err)))
		return false, err
	}
	return ok, nil
}

// Count returns the number of rows a query produces.
func (i *Introspector) Count(ctx context.Context, db, query string, args ...any) (int64, error) {
	ds, err := i.source(db)
	if err != nil {
		return 0, err
	}
	return ds.Count(ctx, query, args...)
}

// Execute runs a validated SELECT and returns at most limit rows.
func (i *Introspector) Execute(ctx context.Context, db, query string, limit int) (*datasource.QueryExecutionResult, error) {
	ds, err := i.source(db)
	if err != nil {
		return nil, err
	}
	return ds.Query(ctx, query, limit)
}

// Validate has the server parse a statement without running it.
func (i *Introspector) Validate(ctx context.Context, db, query string) error {
	ds, err := i.source(db)
	if err != nil {
		return err
	}
	return ds.ValidateQuery(ctx, query)
}

// CachedTables returns how many tables have column metadata cached.
func (i *Introspector) CachedTables() int {
	return i.columns.Len()
}
