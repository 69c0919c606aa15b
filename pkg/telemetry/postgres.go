package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
)

// Execer is the subset of *pgxpool.Pool the Postgres recorder needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const (
	defaultQueueSize  = 256
	writeTimeout      = 5 * time.Second
	maxQuestionLength = 2000
)

const (
	insertModelStatus = `
		INSERT INTO model_status
			(id, role, model, endpoint, available, message, error_type, response_time_ms, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertTokenUsage = `
		INSERT INTO token_usage
			(id, turn_id, role, model, prompt_tokens, completion_tokens, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertSelection = `
		INSERT INTO selection_decisions
			(turn_id, question, intent, processing_mode, source, local_score, api_score,
			 local_model, api_model, reasoning, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (turn_id) DO NOTHING`
)

type write struct {
	kind  string
	query string
	args  []any
}

// PostgresRecorder persists telemetry to the engine database from a single
// background writer. Events are dropped, not blocked on, when the queue is full.
type PostgresRecorder struct {
	db     Execer
	queue  chan write
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewPostgresRecorder starts the writer. Call Close to flush and stop it.
func NewPostgresRecorder(db Execer, queueSize int, logger *zap.Logger) *PostgresRecorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &PostgresRecorder{
		db:     db,
		queue:  make(chan write, queueSize),
		logger: logger.Named("telemetry-postgres"),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *PostgresRecorder) RecordModelStatus(_ context.Context, s *llm.ModelStatus) {
	if s == nil {
		return
	}
	r.enqueue(write{kind: "model_status", query: insertModelStatus, args: []any{
		uuid.New(), s.Role, s.Model, s.Endpoint, s.Available, s.Message, string(s.ErrorType),
		s.ResponseTimeMs, time.Now().UTC(),
	}})
}

func (r *PostgresRecorder) RecordTokenUsage(_ context.Context, u TokenUsage) {
	r.enqueue(write{kind: "token_usage", query: insertTokenUsage, args: []any{
		uuid.New(), u.TurnID, u.Role, u.Model, u.PromptTokens, u.CompletionTokens, stamp(u.RecordedAt),
	}})
}

func (r *PostgresRecorder) RecordSelection(_ context.Context, d SelectionDecision) {
	question := truncateUTF8(d.Question, maxQuestionLength)
	reasoning := d.Reasoning
	if reasoning == nil {
		reasoning = []string{}
	}
	r.enqueue(write{kind: "selection", query: insertSelection, args: []any{
		d.TurnID, question, d.Intent, d.ProcessingMode, d.Source, d.LocalScore, d.APIScore,
		d.LocalModel, d.APIModel, reasoning, d.Duration.Milliseconds(), stamp(d.RecordedAt),
	}})
}

// Dropped returns how many events were discarded because the queue was full
// or the recorder was closed.
func (r *PostgresRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to end.
func (r *PostgresRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *PostgresRecorder) enqueue(w write) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- w:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Telemetry queue full, dropping event", zap.String("kind", w.kind))
	}
}

func (r *PostgresRecorder) run() {
	defer close(r.done)
	for w := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if _, err := r.db.Exec(ctx, w.query, w.args...); err != nil {
			r.logger.Warn("Failed to persist telemetry event",
				zap.String("kind", w.kind),
				zap.Error(err))
		}
		cancel()
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ Recorder = (*PostgresRecorder)(nil)

// truncateUTF8 cuts s to at most n bytes without splitting a rune, since
// Postgres rejects invalid UTF-8 in text columns.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
