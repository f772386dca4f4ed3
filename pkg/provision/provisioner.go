// Package provision orchestrates connector passes: it converges the remote
// application, schema, entitlement catalog, users and grants onto the
// contents of a CSV source.
package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/grants"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/store"
)

// Options configures a Provisioner.
type Options struct {
	// ApplicationName identifies the remote application; it is created on
	// first contact.
	ApplicationName string
	// ApplicationLabel is the display label used when creating the
	// application. Defaults to ApplicationName.
	ApplicationLabel string
	// EntitlementPrefix marks entitlement columns in the CSV header.
	EntitlementPrefix string
	// IdentityCandidates overrides the identity-key candidate columns.
	IdentityCandidates []string
	// RoleThreshold is the minimum cluster size for mined role candidates.
	RoleThreshold int
	// Dictionary overrides the canonical-attribute dictionary.
	Dictionary map[string]string
	// CreateBundles controls whether mined candidates are pushed to the
	// remote as role bundles during a full pass.
	CreateBundles bool
}

// Provisioner converges remote state onto CSV state.
type Provisioner struct {
	provider remote.Provider
	store    store.Store
	opts     Options
	deriver  *schema.Deriver
	logger   *observability.Logger
	metrics  *observability.Metrics

	reconcilerOpts []reconcile.ReconcilerOption
}

// ProvisionerOption configures optional collaborators.
type ProvisionerOption func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) ProvisionerOption {
	return func(p *Provisioner) { p.metrics = metrics }
}

// WithReconcilerOptions forwards options to the per-pass reconciler.
func WithReconcilerOptions(opts ...reconcile.ReconcilerOption) ProvisionerOption {
	return func(p *Provisioner) { p.reconcilerOpts = opts }
}

// NewProvisioner creates a Provisioner. st may be nil, in which case passes
// start from an empty snapshot and history is not recorded.
func NewProvisioner(provider remote.Provider, st store.Store, opts Options, popts ...ProvisionerOption) *Provisioner {
	if opts.ApplicationLabel == "" {
		opts.ApplicationLabel = opts.ApplicationName
	}
	if opts.EntitlementPrefix == "" {
		opts.EntitlementPrefix = schema.DefaultEntitlementPrefix
	}
	if opts.RoleThreshold <= 0 {
		opts.RoleThreshold = 2
	}

	deriverOpts := []schema.Option{schema.WithPrefix(opts.EntitlementPrefix)}
	if opts.Dictionary != nil {
		deriverOpts = append(deriverOpts, schema.WithDictionary(opts.Dictionary))
	}

	p := &Provisioner{
		provider: provider,
		store:    st,
		opts:     opts,
		deriver:  schema.NewDeriver(deriverOpts...),
		logger:   observability.Nop(),
	}
	for _, opt := range popts {
		opt(p)
	}
	return p
}

// EnsureApplication finds the application by name, creating it when absent.
func (p *Provisioner) EnsureApplication(ctx context.Context) (*remote.Application, error) {
	app, err := p.provider.FindApplicationByName(ctx, p.opts.ApplicationName)
	if err != nil && !remote.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up application %q: %w", p.opts.ApplicationName, err)
	}
	if app != nil {
		p.logger.WithField("application_id", app.ID).Debug("application exists")
		return app, nil
	}

	app, err = p.provider.CreateApplication(ctx, remote.ApplicationDefinition{
		Name:  p.opts.ApplicationName,
		Label: p.opts.ApplicationLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application %q: %w", p.opts.ApplicationName, err)
	}
	p.logger.WithField("application_id", app.ID).Info("application created")
	return app, nil
}

// EnsureSchema adds a custom schema attribute for every profile column the
// dictionary could not match to a canonical attribute. Matched columns ride
// on the base schema and need no declaration.
func (p *Provisioner) EnsureSchema(ctx context.Context, applicationID string, columns []schema.Column) error {
	remoteSchema, err := p.provider.GetRemoteSchema(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("failed to read remote schema: %w", err)
	}

	declared := make(map[string]struct{}, len(remoteSchema.Properties))
	for name := range remoteSchema.Properties {
		declared[strings.ToLower(name)] = struct{}{}
	}

	for _, column := range columns {
		if column.Kind != schema.KindProfile || column.Canonical != "" {
			continue
		}
		if _, ok := declared[strings.ToLower(column.Name)]; ok {
			continue
		}
		if err := p.provider.CreateCustomAttribute(ctx, applicationID, column.Name); err != nil {
			return fmt.Errorf("failed to create schema attribute %q: %w", column.Name, err)
		}
		p.logger.WithField("attribute", column.Name).Info("custom schema attribute created")
	}
	return nil
}

// EnsureMapping points the profile mapping's canonical attributes at the
// matching app attributes. Only unmapped properties are touched.
func (p *Provisioner) EnsureMapping(ctx context.Context, applicationID string, columns []schema.Column) error {
	mapping, err := p.provider.GetProfileMapping(ctx, applicationID)
	if err != nil {
		if remote.IsNotFound(err) {
			p.logger.Debug("no profile mapping on application, skipping")
			return nil
		}
		return fmt.Errorf("failed to read profile mapping: %w", err)
	}

	updates := make(map[string]remote.MappingProperty)
	for _, column := range columns {
		if column.Canonical == "" {
			continue
		}
		if existing, ok := mapping.Properties[column.Canonical]; ok && existing.Expression != "" {
			continue
		}
		updates[column.Canonical] = remote.MappingProperty{
			Expression: fmt.Sprintf("appuser.%s", column.Canonical),
			PushStatus: "PUSH",
		}
	}
	if len(updates) == 0 {
		return nil
	}

	if err := p.provider.UpdateProfileMapping(ctx, mapping.ID, updates); err != nil {
		return fmt.Errorf("failed to update profile mapping: %w", err)
	}
	p.logger.WithField("properties", len(updates)).Info("profile mapping updated")
	return nil
}

// EnsureGovernance registers the application as a governance resource and
// enables entitlement management on it. Both operations are idempotent on
// the remote side.
func (p *Provisioner) EnsureGovernance(ctx context.Context, app *remote.Application) (string, error) {
	resourceID, err := p.provider.RegisterGovernanceResource(ctx, app.ID, app.Name)
	if err != nil {
		return "", fmt.Errorf("failed to register governance resource: %w", err)
	}
	if err := p.provider.EnableEntitlementManagement(ctx, resourceID); err != nil {
		return "", fmt.Errorf("failed to enable entitlement management: %w", err)
	}
	return resourceID, nil
}

// EnsureEntitlements converges the remote entitlement set on the catalog:
// missing entitlements are created with their full value list, and missing
// values are appended to existing entitlements. It returns the resolution
// index covering the converged state.
func (p *Provisioner) EnsureEntitlements(ctx context.Context, resourceID, applicationID string, cat catalog.Catalog) (grants.Index, error) {
	existing, err := p.provider.ListEntitlements(ctx, resourceID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}

	merged := make(map[string]remote.Entitlement, len(existing))
	for _, ent := range existing {
		merged[strings.ToLower(ent.Name)] = ent
	}

	for _, name := range cat.Names() {
		values := cat[name]
		ent, ok := merged[strings.ToLower(name)]
		if !ok {
			created, err := p.provider.CreateEntitlement(ctx, resourceID, remote.EntitlementDefinition{
				Name:          name,
				ExternalValue: schema.Normalize(name),
				Values:        values,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create entitlement %q: %w", name, err)
			}
			merged[strings.ToLower(name)] = *created
			p.logger.WithFields(map[string]interface{}{
				"entitlement": name,
				"values":      len(values),
			}).Info("entitlement created")
			continue
		}

		known := make(map[string]struct{}, len(ent.Values))
		for _, value := range ent.Values {
			known[strings.ToLower(value.Name)] = struct{}{}
		}
		for _, value := range values {
			if _, ok := known[strings.ToLower(value)]; ok {
				continue
			}
			added, err := p.provider.AddEntitlementValue(ctx, ent.ID, value)
			if err != nil {
				return nil, fmt.Errorf("failed to add value %q to entitlement %q: %w", value, name, err)
			}
			ent.Values = append(ent.Values, *added)
		}
		merged[strings.ToLower(name)] = ent
	}

	converged := make([]remote.Entitlement, 0, len(merged))
	for _, ent := range merged {
		converged = append(converged, ent)
	}
	sort.Slice(converged, func(i, j int) bool { return converged[i].Name < converged[j].Name })
	return grants.BuildIndex(converged), nil
}
