package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/config"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/provision"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/store"
)

// runtime bundles the wired collaborators a remote-facing command needs.
type runtime struct {
	cfg         *config.Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	credentials *remote.CredentialCache
	client      *remote.OktaClient
	store       store.Store
	provisioner *provision.Provisioner
}

// newRuntime loads config from the environment and wires the full stack.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	credentials, err := remote.NewCredentialCache(ctx, cfg.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to set up credentials: %w", err)
	}

	client, err := remote.NewOktaClient(remote.ClientConfig{
		OrgURL:  cfg.Okta.OrgURL,
		Timeout: cfg.Okta.Timeout,
		Cache:   cfg.Cache,
	}, credentials)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	opts, err := provisionOptions(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	provisioner := provision.NewProvisioner(client, st, opts,
		provision.WithLogger(logger),
		provision.WithMetrics(metrics),
		provision.WithReconcilerOptions(
			reconcile.WithRetryPolicy(reconcile.NewRetryPolicy(reconcile.RetryConfig{
				MaxAttempts:  cfg.Engine.RetryMaxAttempts,
				InitialDelay: cfg.Engine.RetryInitialDelay,
			})),
			reconcile.WithCredentialInvalidator(credentials),
			reconcile.WithPause(cfg.Engine.PauseEvery, cfg.Engine.PauseDelay),
		),
	)

	return &runtime{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		credentials: credentials,
		client:      client,
		store:       st,
		provisioner: provisioner,
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// provisionOptions translates engine config into provisioner options.
func provisionOptions(cfg *config.Config) (provision.Options, error) {
	opts := provision.Options{
		ApplicationName:    cfg.Engine.ApplicationName,
		ApplicationLabel:   cfg.Engine.ApplicationLabel,
		EntitlementPrefix:  cfg.Engine.EntitlementPrefix,
		IdentityCandidates: cfg.Engine.IdentityColumns,
		RoleThreshold:      cfg.Engine.RoleThreshold,
		CreateBundles:      cfg.Engine.CreateBundles,
	}
	if cfg.Engine.DictionaryPath != "" {
		dictionary, err := schema.LoadDictionary(cfg.Engine.DictionaryPath)
		if err != nil {
			return opts, fmt.Errorf("failed to load dictionary: %w", err)
		}
		opts.Dictionary = dictionary
	}
	return opts, nil
}

// readTable reads the configured CSV source. An explicit path wins over the
// configured one; with a directory source the newest candidate file is used.
func (r *runtime) readTable(ctx context.Context, path string) (*csvsource.Table, error) {
	switch r.cfg.Source.Type {
	case "s3":
		source, err := csvsource.NewS3Source(ctx, csvsource.S3Config{
			Bucket: r.cfg.Source.S3Bucket,
			Region: r.cfg.Source.S3Region,
		})
		if err != nil {
			return nil, err
		}
		if path == "" {
			keys, err := source.ListCandidateFiles(ctx, r.cfg.Source.S3Prefix)
			if err != nil {
				return nil, err
			}
			if len(keys) == 0 {
				return nil, fmt.Errorf("no CSV objects under s3://%s/%s", r.cfg.Source.S3Bucket, r.cfg.Source.S3Prefix)
			}
			path = keys[len(keys)-1]
		}
		return source.ReadRows(ctx, path)
	default:
		return readLocalTable(ctx, path, r.cfg.Source.Path, r.cfg.Source.Dir, rune(r.cfg.Source.Delimiter[0]))
	}
}

func readLocalTable(ctx context.Context, path, configuredPath, dir string, comma rune) (*csvsource.Table, error) {
	source := csvsource.NewFileSource()
	source.Comma = comma

	if path == "" {
		path = configuredPath
	}
	if path == "" {
		files, err := source.ListCandidateFiles(ctx, dir)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no CSV files under %s", dir)
		}
		path = files[len(files)-1]
	}
	return source.ReadRows(ctx, path)
}
