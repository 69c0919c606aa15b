// Package telemetry records model status, token usage and selection
// decisions. Recording is best effort: no Recorder method returns an error,
// and a failing sink never affects the question being answered.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
)

// TokenUsage is the token count of one generation call.
type TokenUsage struct {
	TurnID           uuid.UUID
	Role             string // "local" or "api"
	Model            string
	PromptTokens     int
	CompletionTokens int
	RecordedAt       time.Time
}

// SelectionDecision is the outcome of one question.
type SelectionDecision struct {
	TurnID         uuid.UUID
	Question       string
	Intent         string
	ProcessingMode string
	Source         string // "local", "api" or "none"
	LocalScore     float64
	APIScore       float64
	LocalModel     string
	APIModel       string
	Reasoning      []string
	Duration       time.Duration
	RecordedAt     time.Time
}

// Recorder receives telemetry events.
type Recorder interface {
	RecordModelStatus(ctx context.Context, status *llm.ModelStatus)
	RecordTokenUsage(ctx context.Context, usage TokenUsage)
	RecordSelection(ctx context.Context, decision SelectionDecision)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordModelStatus(context.Context, *llm.ModelStatus) {}
func (Nop) RecordTokenUsage(context.Context, TokenUsage)        {}
func (Nop) RecordSelection(context.Context, SelectionDecision)  {}

// Multi fans events out to several recorders. A panicking sink is logged and
// skipped.
type Multi struct {
	recorders []Recorder
	logger    *zap.Logger
}

// NewMulti creates a fan-out recorder. Nil recorders are dropped.
func NewMulti(logger *zap.Logger, recorders ...Recorder) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger.Named("telemetry")}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

func (m *Multi) RecordModelStatus(ctx context.Context, status *llm.ModelStatus) {
	if status == nil {
		return
	}
	for _, r := range m.recorders {
		m.safely("model_status", func() { r.RecordModelStatus(ctx, status) })
	}
}

func (m *Multi) RecordTokenUsage(ctx context.Context, usage TokenUsage) {
	for _, r := range m.recorders {
		m.safely("token_usage", func() { r.RecordTokenUsage(ctx, usage) })
	}
}

func (m *Multi) RecordSelection(ctx context.Context, decision SelectionDecision) {
	for _, r := range m.recorders {
		m.safely("selection", func() { r.RecordSelection(ctx, decision) })
	}
}

func (m *Multi) safely(event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Telemetry recorder panicked",
				zap.String("event", event),
				zap.Any("panic", rec))
		}
	}()
	fn()
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Multi)(nil)
)
