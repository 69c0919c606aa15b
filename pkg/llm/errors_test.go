package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/retry"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "minimal",
			err:      &Error{Type: ErrorTypeUnknown, Message: "llm error"},
			expected: "unknown llm error",
		},
		{
			name:     "status and model",
			err:      &Error{Type: ErrorTypeEndpoint, Message: "server error", StatusCode: 503, Model: "sqlcoder"},
			expected: "endpoint HTTP 503 model=sqlcoder server error",
		},
		{
			name:     "with cause",
			err:      &Error{Type: ErrorTypeAuth, Message: "authentication failed", Cause: errors.New("bad key")},
			expected: "auth authentication failed: bad key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		errType    ErrorType
		retryable  bool
		statusCode int
	}{
		{"openai 401", errors.New("error, status code: 401, message: Incorrect API key"), ErrorTypeAuth, false, 401},
		{"anthropic auth", errors.New("anthropic api error type: authentication_error, message: invalid x-api-key"), ErrorTypeAuth, false, 0},
		{"anthropic permission", errors.New("anthropic api error type: permission_error, message: no access"), ErrorTypeAuth, false, 0},
		{"model missing", errors.New("model 'sqlcoder:99b' not found"), ErrorTypeModel, false, 0},
		{"endpoint 404", errors.New("status code: 404, page not found"), ErrorTypeEndpoint, false, 404},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ErrorTypeEndpoint, true, 0},
		{"caller deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrorTypeEndpoint, false, 0},
		{"caller cancel", fmt.Errorf("post: %w", context.Canceled), ErrorTypeEndpoint, false, 0},
		{"server timeout", errors.New("net/http: timeout awaiting response headers"), ErrorTypeEndpoint, true, 0},
		{"rate limited", errors.New("status code: 429, rate limit reached"), ErrorTypeRateLimit, true, 429},
		{"anthropic rate limit", errors.New("anthropic api error type: rate_limit_error, message: slow down"), ErrorTypeRateLimit, true, 0},
		{"anthropic overloaded", errors.New("anthropic api error type: overloaded_error, message: Overloaded"), ErrorTypeEndpoint, true, 0},
		{"gpu", errors.New("CUDA error: out of memory"), ErrorTypeEndpoint, true, 0},
		{"server 503", errors.New("status code: 503, service unavailable"), ErrorTypeEndpoint, true, 503},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.errType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.statusCode, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := NewErrorWithContext(ErrorTypeModel, "model not found", false, nil, "m", "http://e", 404)
	wrapped := fmt.Errorf("generate: %w", original)
	assert.Same(t, original, ClassifyError(wrapped))
}

func TestIsRetryableAndGetErrorType(t *testing.T) {
	retryable := NewError(ErrorTypeEndpoint, "server error", true, nil)
	permanent := NewError(ErrorTypeAuth, "authentication failed", false, nil)

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(permanent))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorTypeAuth, GetErrorType(fmt.Errorf("x: %w", permanent)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
}

// The retry package decides through the RetryableError interface, so a
// permanent llm.Error whose text looks transient must not be retried.
func TestRetryPackageHonoursErrorRetryability(t *testing.T) {
	permanent := NewError(ErrorTypeAuth, "authentication failed", false, errors.New("HTTP 503"))
	assert.False(t, retry.IsRetryable(permanent))

	transient := NewError(ErrorTypeEndpoint, "server error", true, errors.New("boom"))
	assert.True(t, retry.IsRetryable(fmt.Errorf("wrapped: %w", transient)))
}
