package remote

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := &Error{Kind: KindRateLimited, Op: "createUser"}
		assert.Equal(t, KindRateLimited, KindOf(err))
		assert.True(t, IsRateLimited(err))
		assert.False(t, IsAuthExpired(err))
	})

	t.Run("wrapped error keeps its kind", func(t *testing.T) {
		inner := &Error{Kind: KindAuthExpired, Op: "token"}
		wrapped := fmt.Errorf("pass item failed: %w", inner)
		assert.True(t, IsAuthExpired(wrapped))
	})

	t.Run("plain errors are permanent", func(t *testing.T) {
		assert.Equal(t, KindPermanent, KindOf(errors.New("boom")))
		assert.Equal(t, KindPermanent, KindOf(nil))
	})
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindRateLimited, RetryAfter: 7 * time.Second}
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("boom")))
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindNotFound, Op: "findUser", Status: 404, Message: "missing"}
	assert.Equal(t, "findUser: missing (status 404, not_found)", err.Error())

	noStatus := &Error{Kind: KindAuthExpired, Op: "token", Message: "expired"}
	assert.Equal(t, "token: expired (auth_expired)", noStatus.Error())
}
