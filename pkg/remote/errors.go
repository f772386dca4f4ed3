package remote

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a port failure for retry dispatch.
type ErrorKind int

const (
	// KindPermanent covers validation rejections, permission denials and
	// anything else that retrying cannot fix.
	KindPermanent ErrorKind = iota
	// KindRateLimited signals the remote's rate limit; bounded retry applies.
	KindRateLimited
	// KindAuthExpired signals an expired credential; the cached token is
	// invalidated and refreshed once before a bounded retry.
	KindAuthExpired
	// KindNotFound signals a missing remote entity.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// Error is a classified port failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	// RetryAfter carries the remote's requested backoff for rate-limited
	// failures, zero when the remote did not say.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d, %s)", e.Op, e.Message, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
}

// KindOf extracts the classification from err, defaulting to permanent for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindPermanent
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsAuthExpired reports whether err is a credential-expiry failure.
func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// IsNotFound reports whether err is a missing-entity failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// RetryAfterOf returns the remote's requested backoff, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
