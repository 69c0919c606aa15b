package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
)

// ModelStatus is the outcome of probing one configured model.
type ModelStatus struct {
	Role           string    `json:"role"` // "local" or "api"
	Model          string    `json:"model"`
	Endpoint       string    `json:"endpoint"`
	Available      bool      `json:"available"`
	Message        string    `json:"message"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
}

// ConnectionTester probes model availability.
// This interface enables mocking in tests.
type ConnectionTester interface {
	Test(ctx context.Context, role string, client LLMClient) *ModelStatus
}

// connectionTester sends a tiny completion through the real client.
type connectionTester struct {
	timeout time.Duration
}

// NewConnectionTester creates a tester with a 30s per-probe timeout.
func NewConnectionTester() ConnectionTester {
	return &connectionTester{timeout: 30 * time.Second}
}

// Test asks the model for a one-word reply and reports how that went.
func (t *connectionTester) Test(ctx context.Context, role string, client LLMClient) *ModelStatus {
	status := &ModelStatus{
		Role:     role,
		Model:    client.GetModel(),
		Endpoint: client.GetEndpoint(),
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.GenerateResponse(ctx, "Say 'ok' and nothing else.", "You are a connectivity check.", 0)
	status.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		status.Message, status.ErrorType = categorizeError(role, err)
		return status
	}
	if strings.TrimSpace(resp.Content) == "" {
		status.Message = fmt.Sprintf("%s: model returned no text", role)
		status.ErrorType = ErrorTypeUnknown
		return status
	}

	status.Available = true
	status.Message = fmt.Sprintf("%s model reachable (model: %s, %dms)", role, status.Model, status.ResponseTimeMs)
	return status
}

func categorizeError(prefix string, err error) (string, ErrorType) {
	llmErr := ClassifyError(err)
	switch llmErr.Type {
	case ErrorTypeAuth:
		return fmt.Sprintf("%s: Invalid API key", prefix), ErrorTypeAuth
	case ErrorTypeModel:
		return fmt.Sprintf("%s: Model not found", prefix), ErrorTypeModel
	case ErrorTypeRateLimit:
		return fmt.Sprintf("%s: Rate limited", prefix), ErrorTypeRateLimit
	case ErrorTypeEndpoint:
		return fmt.Sprintf("%s: %s - check base URL", prefix, llmErr.Message), ErrorTypeEndpoint
	}
	return fmt.Sprintf("%s: %s", prefix, logging.SanitizeError(err)), ErrorTypeUnknown
}

// Ensure connectionTester implements ConnectionTester at compile time.
var _ ConnectionTester = (*connectionTester)(nil)
