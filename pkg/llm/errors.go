package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType indicates which part of the model configuration caused an error.
type ErrorType string

const (
	ErrorTypeNone      ErrorType = ""
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
	Endpoint   string    // Endpoint URL if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with model and endpoint context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

// errorRule maps error text to a classification. Rules are checked in order.
type errorRule struct {
	matches   func(raw, lower string) bool
	errType   ErrorType
	message   string
	retryable bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Both OpenAI-compatible servers and the Anthropic API are covered; the
// latter reports types such as "authentication_error" and "overloaded_error".
var errorRules = []errorRule{
	{
		matches: func(raw, lower string) bool {
			return strings.Contains(raw, "401") || containsAny(lower, "unauthorized", "invalid api key", "authentication_error", "invalid x-api-key")
		},
		errType: ErrorTypeAuth, message: "authentication failed",
	},
	{
		matches: func(raw, lower string) bool {
			return strings.Contains(raw, "403") || strings.Contains(lower, "permission_error")
		},
		errType: ErrorTypeAuth, message: "permission denied",
	},
	{
		matches: func(_, lower string) bool {
			return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist", "not_found_error")
		},
		errType: ErrorTypeModel, message: "model not found",
	},
	{
		matches: func(raw, lower string) bool {
			return strings.Contains(raw, "404") || strings.Contains(lower, "not_found_error")
		},
		errType: ErrorTypeEndpoint, message: "endpoint not found",
	},
	{
		matches: func(_, lower string) bool {
			return containsAny(lower, "connection refused", "no such host", "connection reset")
		},
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		// The caller's budget ran out; retrying cannot help.
		matches: func(_, lower string) bool {
			return containsAny(lower, "deadline exceeded", "context canceled")
		},
		errType: ErrorTypeEndpoint, message: "request cancelled",
	},
	{
		matches: func(_, lower string) bool {
			return containsAny(lower, "timeout", "timed out")
		},
		errType: ErrorTypeEndpoint, message: "request timeout", retryable: true,
	},
	{
		matches: func(raw, lower string) bool {
			return strings.Contains(raw, "429") || containsAny(lower, "rate limit", "rate_limit_error")
		},
		errType: ErrorTypeRateLimit, message: "rate limited", retryable: true,
	},
	{
		matches: func(raw, lower string) bool {
			return strings.Contains(raw, "529") || strings.Contains(lower, "overloaded")
		},
		errType: ErrorTypeEndpoint, message: "provider overloaded", retryable: true,
	},
	{
		matches: func(_, lower string) bool {
			return containsAny(lower, "cuda error", "gpu error", "out of memory")
		},
		errType: ErrorTypeEndpoint, message: "GPU error", retryable: true,
	},
	{
		matches: func(raw, lower string) bool {
			return containsAny(raw, "500", "502", "503", "504") || strings.Contains(lower, "api_error")
		},
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

var knownStatusCodes = []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529}

// ClassifyError categorizes an error and returns a structured Error.
// An error that already is (or wraps) an *Error is returned as is.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	statusCode := 0
	for _, code := range knownStatusCodes {
		if strings.Contains(raw, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	for _, rule := range errorRules {
		if rule.matches(raw, lower) {
			llmErr = NewError(rule.errType, rule.message, rule.retryable, err)
			llmErr.StatusCode = statusCode
			return llmErr
		}
	}

	llmErr = NewError(ErrorTypeUnknown, "llm error", false, err)
	llmErr.StatusCode = statusCode
	return llmErr
}

// IsRetryable returns true if the error is a retryable *Error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
