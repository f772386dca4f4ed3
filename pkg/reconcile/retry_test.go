package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

func TestNewRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, 3, p.config.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.config.InitialDelay)
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Second})
	rateLimited := &remote.Error{Kind: remote.KindRateLimited}

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, rateLimited))
	assert.True(t, p.ShouldRetry(2, rateLimited))
	assert.False(t, p.ShouldRetry(3, rateLimited), "attempt budget exhausted")

	assert.False(t, p.ShouldRetry(1, errors.New("plain")))
	assert.False(t, p.ShouldRetry(1, &remote.Error{Kind: remote.KindNotFound}))
	assert.False(t, p.ShouldRetry(1, &remote.Error{Kind: remote.KindAuthExpired}))
}

func TestNextDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: 2 * time.Second})
	rateLimited := &remote.Error{Kind: remote.KindRateLimited}

	assert.Equal(t, 2*time.Second, p.NextDelay(1, rateLimited))
	assert.Equal(t, 4*time.Second, p.NextDelay(2, rateLimited))

	asked := &remote.Error{Kind: remote.KindRateLimited, RetryAfter: 30 * time.Second}
	assert.Equal(t, 30*time.Second, p.NextDelay(1, asked))

	shortAsk := &remote.Error{Kind: remote.KindRateLimited, RetryAfter: time.Second}
	assert.Equal(t, 4*time.Second, p.NextDelay(2, shortAsk), "linear schedule wins when longer")
}
