package guard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// InvalidSQLError explains why a statement was refused before execution.
type InvalidSQLError struct {
	Reason string
	Err    error
}

func (e *InvalidSQLError) Error() string {
	if e.Err == nil {
		return "invalid SQL: " + e.Reason
	}
	return fmt.Sprintf("invalid SQL: %s: %v", e.Reason, e.Err)
}

func (e *InvalidSQLError) Unwrap() error { return e.Err }

// ValidateSQL runs the static read-only checks and then has the server parse
// the statement without executing it. A trailing semicolon is tolerated.
func (g *Guard) ValidateSQL(ctx context.Context, sqlText, db string) error {
	norm := sqlutil.ValidateAndNormalize(sqlText)
	if norm.Error != nil {
		return &InvalidSQLError{Reason: "static check", Err: norm.Error}
	}
	stmt := norm.NormalizedSQL

	if kind := DetectStatementType(stmt); kind != StatementSelect {
		return &InvalidSQLError{Reason: "statement type " + string(kind), Err: sqlutil.ErrNotSelect}
	}
	if err := sqlutil.CheckReadOnlyStatement(stmt); err != nil {
		return &InvalidSQLError{Reason: "static check", Err: err}
	}

	if err := g.catalog.Validate(ctx, db, stmt); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		g.logger.Debug("Server rejected statement",
			zap.String("sql", logging.SanitizeQuery(stmt)),
			zap.String("error", logging.SanitizeError(err)))
		return &InvalidSQLError{Reason: "rejected by server", Err: err}
	}
	return nil
}

// IsValidSQL reports whether ValidateSQL accepts the statement.
func (g *Guard) IsValidSQL(ctx context.Context, sqlText, db string) bool {
	return g.ValidateSQL(ctx, sqlText, db) == nil
}
