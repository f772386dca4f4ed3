package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

// Applier performs the remote effect of one change-set item. The
// provisioning layer implements it against the remote port; tests implement
// it in memory.
type Applier interface {
	ApplyAdd(ctx context.Context, add Add) error
	ApplyUpdate(ctx context.Context, update Update) error
	ApplyRemove(ctx context.Context, remove Remove) error
}

// CredentialInvalidator lets the reconciler force a token refresh when the
// remote signals auth expiry mid-pass.
type CredentialInvalidator interface {
	Invalidate()
}

// ItemFailure records one item that could not be applied.
type ItemFailure struct {
	Op  string
	Key string
	Err error
}

// PassSummary is the deterministic outcome of one reconciliation pass.
type PassSummary struct {
	PassID      string
	StartedAt   time.Time
	Duration    time.Duration
	Added       int
	Updated     int
	Removed     int
	Unchanged   int
	Skipped     int
	Failed      int
	Retries     int
	Failures    []ItemFailure
}

// Succeeded reports whether every item applied cleanly.
func (s *PassSummary) Succeeded() bool {
	return s.Failed == 0
}

// Reconciler applies change sets item by item with bounded retry. Execution
// is single-threaded on purpose: the remote enforces per-tenant rate limits
// that make unmanaged concurrency actively harmful.
type Reconciler struct {
	applier     Applier
	policy      *RetryPolicy
	credentials CredentialInvalidator
	logger      *observability.Logger
	metrics     *observability.Metrics

	// pauseEvery inserts a courtesy pause after every N applied items.
	pauseEvery int
	pauseDelay time.Duration

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy *RetryPolicy) ReconcilerOption {
	return func(r *Reconciler) { r.policy = policy }
}

// WithCredentialInvalidator wires the credential cache for auth-expiry
// refresh.
func WithCredentialInvalidator(c CredentialInvalidator) ReconcilerOption {
	return func(r *Reconciler) { r.credentials = c }
}

// WithLogger sets the pass logger.
func WithLogger(logger *observability.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = metrics }
}

// WithPause overrides the courtesy pause cadence. every <= 0 disables it.
func WithPause(every int, delay time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.pauseEvery = every
		r.pauseDelay = delay
	}
}

// withSleep replaces the sleeper in tests.
func withSleep(sleep func(time.Duration)) ReconcilerOption {
	return func(r *Reconciler) { r.sleep = sleep }
}

// NewReconciler creates a Reconciler around an applier.
func NewReconciler(applier Applier, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		applier:    applier,
		policy:     NewRetryPolicy(DefaultRetryConfig()),
		logger:     observability.Nop(),
		pauseEvery: 10,
		pauseDelay: time.Second,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply drives the change set to the remote: all removals first, then
// additions, then updates, each phase in the change set's order. Every item
// is attempted independently; failures are recorded and the pass continues.
func (r *Reconciler) Apply(ctx context.Context, cs *ChangeSet) *PassSummary {
	summary := &PassSummary{
		PassID:    uuid.NewString(),
		StartedAt: time.Now(),
		Unchanged: cs.Unchanged,
		Skipped:   cs.SkippedRows,
	}
	logger := r.logger.WithPass(summary.PassID)
	if r.metrics != nil {
		r.metrics.RowsSkipped.Add(float64(cs.SkippedRows))
	}

	applied := 0

	for _, remove := range cs.Removes {
		if r.applyItem(ctx, logger, summary, "remove", remove.Key, func(ctx context.Context) error {
			return r.applier.ApplyRemove(ctx, remove)
		}) {
			summary.Removed++
			applied++
			r.courtesyPause(applied)
		}
	}

	for _, add := range cs.Adds {
		if r.applyItem(ctx, logger, summary, "add", add.Key, func(ctx context.Context) error {
			return r.applier.ApplyAdd(ctx, add)
		}) {
			summary.Added++
			applied++
			r.courtesyPause(applied)
		}
	}

	for _, update := range cs.Updates {
		if r.applyItem(ctx, logger, summary, "update", update.Key, func(ctx context.Context) error {
			return r.applier.ApplyUpdate(ctx, update)
		}) {
			summary.Updated++
			applied++
			r.courtesyPause(applied)
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	if r.metrics != nil {
		result := "ok"
		if summary.Failed > 0 {
			result = "partial"
		}
		r.metrics.PassesTotal.WithLabelValues(result).Inc()
		r.metrics.PassDuration.Observe(summary.Duration.Seconds())
	}

	logger.WithFields(map[string]interface{}{
		"added":     summary.Added,
		"updated":   summary.Updated,
		"removed":   summary.Removed,
		"unchanged": summary.Unchanged,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("reconciliation pass complete")

	return summary
}

// applyItem runs one item with bounded retry, returning true on success.
func (r *Reconciler) applyItem(ctx context.Context, logger *observability.Logger, summary *PassSummary, op, key string, apply func(context.Context) error) bool {
	refreshed := false
	attempt := 1
	for {
		err := apply(ctx)
		if err == nil {
			if r.metrics != nil {
				r.metrics.PassItemsTotal.WithLabelValues(op).Inc()
			}
			return true
		}

		// Auth expiry gets one credential refresh before the retry budget
		// applies to it.
		if remote.IsAuthExpired(err) && !refreshed && r.credentials != nil {
			refreshed = true
			r.credentials.Invalidate()
			summary.Retries++
			if r.metrics != nil {
				r.metrics.CredentialRefresh.Inc()
			}
			logger.WithField("key", key).Warn("credential expired, refreshing and retrying item")
			continue
		}

		if r.policy.ShouldRetry(attempt, err) {
			delay := r.policy.NextDelay(attempt, err)
			summary.Retries++
			if r.metrics != nil {
				r.metrics.ItemRetries.Inc()
				if remote.IsRateLimited(err) {
					r.metrics.RateLimitHits.Inc()
				}
			}
			logger.WithField("key", key).WithField("attempt", attempt).
				Warnf("%s rate limited, retrying in %s", op, delay)
			r.sleep(delay)
			attempt++
			continue
		}

		summary.Failed++
		summary.Failures = append(summary.Failures, ItemFailure{Op: op, Key: key, Err: err})
		if r.metrics != nil {
			r.metrics.ItemFailures.WithLabelValues(op).Inc()
		}
		logger.WithField("key", key).WithError(err).Errorf("%s failed", op)
		return false
	}
}

// courtesyPause sleeps briefly every pauseEvery applied items. Pure
// rate-limit courtesy; carries no ordering obligation.
func (r *Reconciler) courtesyPause(applied int) {
	if r.pauseEvery <= 0 {
		return
	}
	if applied%r.pauseEvery == 0 {
		r.sleep(r.pauseDelay)
	}
}
