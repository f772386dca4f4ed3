package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/poll"
)

func newPollCommand() *Command {
	cmd := &Command{
		Name:        "poll",
		Description: "Run passes continuously on a schedule or on file changes",
		Flags:       flag.NewFlagSet("poll", flag.ExitOnError),
		Run:         runPoll,
	}

	return cmd
}

func runPoll(args []string) error {
	flags := flag.NewFlagSet("poll", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Observability.OTelEnabled {
		providers, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       rt.cfg.Observability.OTelEndpoint,
			ServiceName:    rt.cfg.Observability.OTelServiceName,
			ServiceVersion: rt.cfg.Observability.OTelServiceVersion,
			Insecure:       true,
		}, rt.logger)
		if err != nil {
			return err
		}
		defer providers.Shutdown(context.Background())
	}

	if rt.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := rt.store.HealthCheck(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		server := &http.Server{Addr: ":" + rt.cfg.Observability.MetricsPort, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.WithError(err).Error("metrics server failed")
			}
		}()
		defer server.Shutdown(context.Background())
	}

	var changes <-chan string
	if rt.cfg.Source.WatchEnabled {
		dir := rt.cfg.Source.Dir
		if dir == "" {
			return fmt.Errorf("file watching requires a source directory")
		}
		watcher, err := csvsource.NewWatcher(dir, rt.cfg.Source.WatchDebounce)
		if err != nil {
			return err
		}
		defer watcher.Close()
		go watcher.Run(ctx)
		changes = watcher.Changes()
	}

	pollLogger := logrus.New()
	pollLogger.SetFormatter(&logrus.JSONFormatter{})

	loop := poll.NewLoop(poll.Config{
		Schedule:   rt.cfg.Poll.Schedule,
		Interval:   rt.cfg.Poll.Interval,
		RunOnStart: rt.cfg.Poll.RunOnStart,
	}, func(ctx context.Context) error {
		table, err := rt.readTable(ctx, "")
		if err != nil {
			return err
		}
		rt.client.PurgeCache(ctx)
		result, err := rt.provisioner.Run(ctx, table)
		if err != nil {
			return err
		}
		if !result.Summary.Succeeded() {
			return fmt.Errorf("%d items failed", result.Summary.Failed)
		}
		return nil
	}, changes, logrus.NewEntry(pollLogger))

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
