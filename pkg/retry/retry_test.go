package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 0.1, cfg.JitterFactor)
	assert.Equal(t, 5, cfg.MaxSameErrorType)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	expected := errors.New("persistent error")
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return expected
	})
	assert.Equal(t, expected, err)
	// initial attempt + 2 retries
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("error")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestDo_NilConfigUsesDefaults(t *testing.T) {
	calls := 0
	require.NoError(t, Do(context.Background(), nil, func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestDoWithResult_KeepsLastResultOnFailure(t *testing.T) {
	got, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		return 7, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 7, got)
}

type declaredErr struct{ retry bool }

func (e declaredErr) Error() string     { return "declared 503" }
func (e declaredErr) IsRetryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"uppercase", errors.New("Connection Reset by peer"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"anthropic overloaded", errors.New("529 overloaded_error"), true},
		{"cuda", errors.New("CUDA error: device-side assert"), true},
		{"oracle no listener", errors.New("ORA-12541: TNS:no listener"), true},
		{"oracle eof on channel", errors.New("ORA-03113: end-of-file on communication channel"), true},
		{"oracle deadlock", errors.New("ORA-00060: deadlock detected while waiting for resource"), true},
		{"oracle missing table", errors.New("ORA-00942: table or view does not exist"), false},
		{"oracle invalid identifier", errors.New("ORA-00904: \"COMPANY\": invalid identifier"), false},
		{"oracle bad login", errors.New("ORA-01017: invalid username/password; logon denied"), false},
		{"declared retryable", declaredErr{retry: true}, true},
		{"declared permanent", declaredErr{retry: false}, false},
		{"wrapped declared permanent", fmt.Errorf("generate: %w", declaredErr{retry: false}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestClassifyErrorType(t *testing.T) {
	assert.Equal(t, "nil", classifyErrorType(nil))
	assert.Equal(t, "ora-12541", classifyErrorType(errors.New("ORA-12541: TNS:no listener")))
	assert.Equal(t, "503", classifyErrorType(errors.New("HTTP 503")))
	assert.Equal(t, "connection", classifyErrorType(errors.New("connection refused")))
	assert.Equal(t, "timeout", classifyErrorType(errors.New("request timed out")))
	assert.Equal(t, "gpu", classifyErrorType(errors.New("CUDA out of memory")))
	assert.Equal(t, "oom", classifyErrorType(errors.New("out of memory")))
	assert.Equal(t, "unknown", classifyErrorType(errors.New("weird")))
}

func TestDoIfRetryable_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		return errors.New("ORA-01017: invalid username/password")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryable_RetriesTransient(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("ORA-12541: TNS:no listener")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("HTTP 503 service unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error (3 times, type=503)")
	assert.Equal(t, 3, calls)
}
