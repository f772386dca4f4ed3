package reconcile

import (
	"time"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

// RetryConfig configures per-item retry behavior.
type RetryConfig struct {
	// MaxAttempts bounds attempts per item, the first try included.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; later waits grow
	// linearly (delay * attempt) unless the remote asked for more.
	InitialDelay time.Duration
}

// DefaultRetryConfig returns the connector's default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
	}
}

// RetryPolicy decides whether and when a failed item is retried. Only
// rate-limit failures qualify; auth expiry is handled separately through a
// one-shot credential refresh, and everything else is terminal for the item.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, normalizing non-positive settings
// to defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 2 * time.Second
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether the item should be attempted again after
// attempt failures.
func (p *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if attempt >= p.config.MaxAttempts {
		return false
	}
	return remote.IsRateLimited(err)
}

// NextDelay returns the wait before the next attempt. The remote's
// Retry-After wins when it asks for longer than the linear schedule.
func (p *RetryPolicy) NextDelay(attempt int, err error) time.Duration {
	delay := p.config.InitialDelay * time.Duration(attempt)
	if requested := remote.RetryAfterOf(err); requested > delay {
		delay = requested
	}
	return delay
}
