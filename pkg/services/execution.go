package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/display"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/guard"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
)

// ResultRowLimit caps the rows returned for one answer.
const ResultRowLimit = 500

// ExecutionResult is an executed statement and how to present it.
type ExecutionResult struct {
	// SQL is the statement that produced Rows; it differs from the selected
	// statement when a browse request was widened.
	SQL         string                           `json:"sql"`
	Rows        *datasource.QueryExecutionResult `json:"rows"`
	Widened     bool                             `json:"widened"`
	DisplayMode display.Mode                     `json:"display_mode"`
	Summary     string                           `json:"summary"`
}

// QueryExecutionService checks, runs and presents selected statements.
type QueryExecutionService interface {
	// Execute guards, validates and runs sqlText for question.
	Execute(ctx context.Context, question, sqlText string) (*ExecutionResult, error)

	// Answer executes the statement a HybridProcessor selected and marks the
	// result displayed. It returns apperrors.ErrNoResponse when nothing was
	// selected.
	Answer(ctx context.Context, result *ProcessingResult) (*ExecutionResult, error)
}

type queryExecutionService struct {
	guard    *guard.Guard
	executor display.Executor
	policy   *display.Policy
	db       string
	logger   *zap.Logger
}

// NewQueryExecutionService creates the execution service for database db.
func NewQueryExecutionService(g *guard.Guard, executor display.Executor, policy *display.Policy, db string, logger *zap.Logger) QueryExecutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryExecutionService{
		guard:    g,
		executor: executor,
		policy:   policy,
		db:       db,
		logger:   logger.Named("query-execution"),
	}
}

// Execute runs the pipeline: predicate type guard, static and server-side
// validation, execution, browse widening, display mode and summary. Guard
// and validation errors are returned as they are; execution failures are
// logged and returned as apperrors.ErrExecution without detail.
func (s *queryExecutionService) Execute(ctx context.Context, question, sqlText string) (*ExecutionResult, error) {
	if err := s.guard.EnforcePredicateTypeCompat(ctx, sqlText, s.db); err != nil {
		s.logger.Info("Predicate guard refused statement",
			zap.String("sql", logging.SanitizeQuery(sqlText)),
			zap.Error(err))
		return nil, err
	}
	if err := s.guard.ValidateSQL(ctx, sqlText, s.db); err != nil {
		s.logger.Info("Statement failed validation",
			zap.String("sql", logging.SanitizeQuery(sqlText)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	rows, err := s.executor.Execute(ctx, s.db, sqlText, ResultRowLimit)
	if err != nil {
		s.logger.Error("Query execution failed",
			zap.String("sql", logging.SanitizeQuery(sqlText)),
			zap.String("error", logging.SanitizeError(err)))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrExecution, err)
		}
		return nil, apperrors.ErrExecution
	}

	rows, ranSQL, widened := s.policy.WidenResultsIfNeeded(ctx, question, sqlText, s.db, rows)
	rowCount := 0
	if rows != nil {
		rowCount = len(rows.Rows)
	}

	return &ExecutionResult{
		SQL:         ranSQL,
		Rows:        rows,
		Widened:     widened,
		DisplayMode: display.DetermineDisplayMode(question, rowCount),
		Summary:     display.SummarizeResults(question, rows),
	}, nil
}

func (s *queryExecutionService) Answer(ctx context.Context, result *ProcessingResult) (*ExecutionResult, error) {
	if result == nil || !result.Succeeded() {
		return nil, apperrors.ErrNoResponse
	}
	res, err := s.Execute(ctx, result.Question, result.SelectedSQL)
	if err != nil {
		return nil, err
	}
	result.advance(StateDisplayed)
	return res, nil
}

// UserMessage turns an error from the hybrid pipeline into the single
// message shown to a user. It never includes SQL or driver text.
func UserMessage(err error) string {
	var violation *guard.TypeGuardViolation
	var invalid *guard.InvalidSQLError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrNoResponse):
		return noResponseMessage
	case errors.As(err, &violation), errors.As(err, &invalid):
		return "That question produced a query I can't run safely. Please try rephrasing it."
	default:
		return "I couldn't process that query. Please try again or rephrase it."
	}
}
