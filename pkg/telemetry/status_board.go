package telemetry

import (
	"context"
	"sort"
	"sync"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
)

// StatusBoard keeps the latest model status per role for health reporting.
// Token usage and selections are ignored.
type StatusBoard struct {
	mu       sync.RWMutex
	statuses map[string]llm.ModelStatus
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{statuses: make(map[string]llm.ModelStatus)}
}

func (b *StatusBoard) RecordModelStatus(_ context.Context, status *llm.ModelStatus) {
	if status == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[status.Role] = *status
}

func (b *StatusBoard) RecordTokenUsage(context.Context, TokenUsage)       {}
func (b *StatusBoard) RecordSelection(context.Context, SelectionDecision) {}

// Statuses returns copies of the latest statuses ordered by role.
func (b *StatusBoard) Statuses() []llm.ModelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]llm.ModelStatus, 0, len(b.statuses))
	for _, s := range b.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// AllAvailable reports whether every probed model answered. An empty board
// is not available.
func (b *StatusBoard) AllAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.statuses) == 0 {
		return false
	}
	for _, s := range b.statuses {
		if !s.Available {
			return false
		}
	}
	return true
}
