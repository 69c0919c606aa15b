package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/retry"
)

// GuardedClient wraps an LLMClient with a circuit breaker and transient-error
// retries. Retries run inside the caller's context, so a generation path's
// timeout bounds them too.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

// NewGuardedClient wraps inner. A nil retryCfg uses retry.DefaultConfig.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, retryCfg *retry.Config, logger *zap.Logger) *GuardedClient {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedClient{
		inner:   inner,
		breaker: breaker,
		retry:   retryCfg,
		logger:  logger.Named("guarded-llm"),
	}
}

// GenerateResponse checks the breaker, then calls the inner client with
// retries. Only the final outcome is reported to the breaker. A call
// abandoned because the caller's context ended is not counted as a model failure.
func (c *GuardedClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := c.breaker.Allow(); !ok {
		c.logger.Warn("Skipping model call", zap.String("model", c.inner.GetModel()), zap.Error(err))
		return nil, err
	}

	var result *GenerateResponseResult
	attempt := 0
	err := retry.DoIfRetryable(ctx, c.retry, func() error {
		attempt++
		r, err := c.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
		if err != nil {
			if attempt > 1 || IsRetryable(err) {
				c.logger.Debug("Model call failed",
					zap.String("model", c.inner.GetModel()),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return err
		}
		result = r
		return nil
	})

	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.breaker.RecordAbandoned()
	default:
		c.breaker.RecordFailure()
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetModel returns the inner client's model name.
func (c *GuardedClient) GetModel() string {
	return c.inner.GetModel()
}

// GetEndpoint returns the inner client's endpoint.
func (c *GuardedClient) GetEndpoint() string {
	return c.inner.GetEndpoint()
}

// Breaker exposes the circuit breaker for status reporting.
func (c *GuardedClient) Breaker() *CircuitBreaker {
	return c.breaker
}
