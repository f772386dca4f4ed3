// Package poll runs connector passes on a schedule and on file-change
// triggers.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PassFunc runs one connector pass.
type PassFunc func(ctx context.Context) error

// Config for the poll loop.
type Config struct {
	// Schedule is a cron expression. Empty disables scheduled passes.
	Schedule string
	// Interval triggers passes on a fixed period when Schedule is empty.
	// Zero disables interval passes.
	Interval time.Duration
	// RunOnStart fires one pass immediately when the loop starts.
	RunOnStart bool
}

// Loop triggers passes from a cron schedule, a fixed interval, or an
// external change channel. Passes never overlap: a trigger that arrives
// while a pass is running is dropped, since the next pass re-reads the
// whole source anyway.
type Loop struct {
	cfg     Config
	run     PassFunc
	changes <-chan string
	log     *logrus.Entry

	mu      sync.Mutex
	running bool
}

// NewLoop creates a poll loop. changes may be nil when no file watcher is
// configured.
func NewLoop(cfg Config, run PassFunc, changes <-chan string, log *logrus.Entry) *Loop {
	if log == nil {
		logger := logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		log = logrus.NewEntry(logger)
	}
	return &Loop{cfg: cfg, run: run, changes: changes, log: log}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	trigger := make(chan string, 1)

	var scheduler *cron.Cron
	if l.cfg.Schedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(l.cfg.Schedule, func() {
			select {
			case trigger <- "schedule":
			default:
			}
		}); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		l.log.WithField("schedule", l.cfg.Schedule).Info("scheduled passes enabled")
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if scheduler == nil && l.cfg.Interval > 0 {
		ticker = time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
		l.log.WithField("interval", l.cfg.Interval.String()).Info("interval passes enabled")
	}

	if l.cfg.RunOnStart {
		l.runPass(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			l.log.Info("poll loop stopping")
			return ctx.Err()
		case reason := <-trigger:
			l.runPass(ctx, reason)
		case <-tick:
			l.runPass(ctx, "interval")
		case path, ok := <-l.changes:
			if !ok {
				l.changes = nil
				continue
			}
			l.log.WithField("path", path).Info("source file changed")
			l.runPass(ctx, "file-change")
		}
	}
}

func (l *Loop) runPass(ctx context.Context, reason string) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		l.log.WithField("reason", reason).Warn("pass already running, dropping trigger")
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	log := l.log.WithField("reason", reason)
	log.Info("pass starting")
	start := time.Now()
	if err := l.run(ctx); err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start).String()).Error("pass failed")
		return
	}
	log.WithField("elapsed", time.Since(start).String()).Info("pass complete")
}
