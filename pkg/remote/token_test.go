package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeTokenSource struct {
	calls  int
	token  *oauth2.Token
	err    error
}

func (f *fakeTokenSource) Token() (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func TestCredentialCacheToken(t *testing.T) {
	t.Run("caches until expiry", func(t *testing.T) {
		source := &fakeTokenSource{token: &oauth2.Token{
			AccessToken: "tok",
			Expiry:      time.Now().Add(time.Hour),
		}}
		cache := NewCredentialCacheWithSource(source)

		first, err := cache.Token(context.Background())
		require.NoError(t, err)
		second, err := cache.Token(context.Background())
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, source.calls)
		assert.False(t, cache.Expired())
	})

	t.Run("refreshes inside the expiry skew", func(t *testing.T) {
		source := &fakeTokenSource{token: &oauth2.Token{
			AccessToken: "tok",
			Expiry:      time.Now().Add(10 * time.Second),
		}}
		cache := NewCredentialCacheWithSource(source)

		_, err := cache.Token(context.Background())
		require.NoError(t, err)
		_, err = cache.Token(context.Background())
		require.NoError(t, err)

		// Within the 30s skew the cached token is treated as expired.
		assert.Equal(t, 2, source.calls)
	})

	t.Run("invalidate forces a refresh", func(t *testing.T) {
		source := &fakeTokenSource{token: &oauth2.Token{
			AccessToken: "tok",
			Expiry:      time.Now().Add(time.Hour),
		}}
		cache := NewCredentialCacheWithSource(source)

		_, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.False(t, cache.Expired())

		cache.Invalidate()
		assert.True(t, cache.Expired())

		_, err = cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, source.calls)
	})

	t.Run("acquisition failure is classified as auth expired", func(t *testing.T) {
		source := &fakeTokenSource{err: errors.New("invalid_client")}
		cache := NewCredentialCacheWithSource(source)

		_, err := cache.Token(context.Background())
		require.Error(t, err)
		assert.True(t, IsAuthExpired(err))
	})

	t.Run("zero expiry never expires locally", func(t *testing.T) {
		source := &fakeTokenSource{token: &oauth2.Token{AccessToken: "tok"}}
		cache := NewCredentialCacheWithSource(source)

		_, err := cache.Token(context.Background())
		require.NoError(t, err)
		_, err = cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, source.calls)
	})
}
