package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/grants"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/roles"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
)

// PassResult is the outcome of one full connector pass.
type PassResult struct {
	Application   *remote.Application
	ResourceID    string
	Summary       *reconcile.PassSummary
	Candidates    []roles.Candidate
	MiningStats   roles.Stats
	Bundles       []remote.Bundle
	SkippedValues []grants.SkippedValue
}

// Run executes a full pass over the table: converge application, schema,
// mapping, governance and entitlements, reconcile users and grants, then
// mine role candidates. Bundles are pushed only when Options.CreateBundles
// is set.
func (p *Provisioner) Run(ctx context.Context, table *csvsource.Table) (*PassResult, error) {
	columns := p.deriver.Derive(table.Header)

	app, err := p.EnsureApplication(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureSchema(ctx, app.ID, columns); err != nil {
		return nil, err
	}
	if err := p.EnsureMapping(ctx, app.ID, columns); err != nil {
		return nil, err
	}
	resourceID, err := p.EnsureGovernance(ctx, app)
	if err != nil {
		return nil, err
	}

	cat := catalog.Build(table.Rows, p.opts.EntitlementPrefix)
	index, err := p.EnsureEntitlements(ctx, resourceID, app.ID, cat)
	if err != nil {
		return nil, err
	}

	summary, applier, err := p.SyncUsers(ctx, app.ID, table.Rows, index)
	if err != nil {
		return nil, err
	}

	result := &PassResult{
		Application:   app,
		ResourceID:    resourceID,
		Summary:       summary,
		SkippedValues: applier.skippedValues,
	}

	result.Candidates, result.MiningStats = p.MineRoles(table.Rows)
	if p.opts.CreateBundles {
		bundles, err := p.CreateBundles(ctx, resourceID, result.Candidates, index)
		if err != nil {
			return nil, err
		}
		result.Bundles = bundles
	}

	if p.store != nil {
		if err := p.store.RecordPass(ctx, app.ID, summary); err != nil {
			p.logger.WithError(err).Error("failed to record pass history")
		}
	}
	return result, nil
}

// SyncUsers reconciles remote users, assignments and grants onto the rows.
// The remote assignment list supplies the observed state; the stored
// snapshot is updated to reflect what actually applied.
func (p *Provisioner) SyncUsers(ctx context.Context, applicationID string, rows []csvsource.Row, index grants.Index) (*reconcile.PassSummary, *userApplier, error) {
	snapshot, err := p.loadSnapshot(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	snapshotSlice := make([]reconcile.RemoteEntity, 0, len(snapshot))
	for _, entity := range snapshot {
		snapshotSlice = append(snapshotSlice, entity)
	}

	cs := reconcile.Diff(rows, snapshotSlice, reconcile.DiffOptions{
		IdentityCandidates: p.opts.IdentityCandidates,
	})
	p.logger.WithFields(map[string]interface{}{
		"adds":    len(cs.Adds),
		"updates": len(cs.Updates),
		"removes": len(cs.Removes),
		"skipped": cs.SkippedRows,
	}).Info("change set computed")

	resolver := grants.NewResolver(p.provider, p.opts.EntitlementPrefix, p.logger)
	applier := newUserApplier(p.provider, resolver, index, applicationID, p.opts.EntitlementPrefix, p.logger)

	opts := make([]reconcile.ReconcilerOption, 0, len(p.reconcilerOpts)+2)
	opts = append(opts, reconcile.WithLogger(p.logger))
	if p.metrics != nil {
		opts = append(opts, reconcile.WithMetrics(p.metrics))
	}
	opts = append(opts, p.reconcilerOpts...)
	summary := reconcile.NewReconciler(applier, opts...).Apply(ctx, cs)

	if err := p.saveSnapshot(ctx, applicationID, snapshot, cs, summary, applier); err != nil {
		return nil, nil, err
	}
	return summary, applier, nil
}

// loadSnapshot observes the remote state through the port: the assigned
// user list is authoritative for membership and remote IDs. The stored
// snapshot overlays attributes for known keys, since the stored row keeps
// the entitlement columns the remote profile does not carry.
func (p *Provisioner) loadSnapshot(ctx context.Context, applicationID string) (map[string]reconcile.RemoteEntity, error) {
	stored := map[string]reconcile.RemoteEntity{}
	if p.store != nil {
		var err error
		stored, err = p.store.LoadSnapshot(ctx, applicationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}

	assigned, err := p.provider.ListApplicationUsers(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list application users: %w", err)
	}

	snapshot := make(map[string]reconcile.RemoteEntity, len(assigned))
	for _, user := range assigned {
		key, ok := schema.IdentityKey(user.Profile, p.opts.IdentityCandidates)
		if !ok {
			p.logger.WithField("user", user.ID).Warn("assigned user has no identity key, ignoring")
			continue
		}
		entity := reconcile.RemoteEntity{ID: user.ID, Key: key, Attributes: user.Profile}
		if prior, ok := stored[key]; ok {
			entity.Attributes = prior.Attributes
		}
		snapshot[key] = entity
	}
	return snapshot, nil
}

// saveSnapshot folds the applied items into the prior snapshot. Failed items
// keep their prior state so the next pass retries them.
func (p *Provisioner) saveSnapshot(ctx context.Context, applicationID string, prior map[string]reconcile.RemoteEntity, cs *reconcile.ChangeSet, summary *reconcile.PassSummary, applier *userApplier) error {
	if p.store == nil {
		return nil
	}

	failed := make(map[string]struct{}, len(summary.Failures))
	for _, failure := range summary.Failures {
		failed[failure.Op+"/"+failure.Key] = struct{}{}
	}

	next := make(map[string]reconcile.RemoteEntity, len(prior))
	for key, entity := range prior {
		next[key] = entity
	}
	for _, remove := range cs.Removes {
		if _, ok := failed["remove/"+remove.Key]; ok {
			continue
		}
		delete(next, remove.Key)
	}
	for _, add := range cs.Adds {
		if _, ok := failed["add/"+add.Key]; ok {
			continue
		}
		next[add.Key] = reconcile.RemoteEntity{
			ID:         applier.userIDs[add.Key],
			Key:        add.Key,
			Attributes: add.Row,
		}
	}
	for _, update := range cs.Updates {
		if _, ok := failed["update/"+update.Key]; ok {
			continue
		}
		next[update.Key] = reconcile.RemoteEntity{
			ID:         update.Entity.ID,
			Key:        update.Key,
			Attributes: update.Row,
		}
	}

	entities := make([]reconcile.RemoteEntity, 0, len(next))
	for _, entity := range next {
		entities = append(entities, entity)
	}
	if err := p.store.SaveSnapshot(ctx, applicationID, entities); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// MineRoles clusters the rows into role candidates.
func (p *Provisioner) MineRoles(rows []csvsource.Row) ([]roles.Candidate, roles.Stats) {
	miner := roles.NewMiner(
		roles.WithEntitlementPrefix(p.opts.EntitlementPrefix),
		roles.WithMinMembers(p.opts.RoleThreshold),
		roles.WithIdentityCandidates(p.opts.IdentityCandidates),
	)
	candidates, stats := miner.Mine(rows)

	if p.metrics != nil {
		p.metrics.RoleCandidates.Set(float64(stats.CandidateCount))
		p.metrics.MiningCoverage.Set(stats.Coverage)
	}
	p.logger.WithFields(map[string]interface{}{
		"candidates": stats.CandidateCount,
		"signatures": stats.UniqueSignatures,
		"coverage":   fmt.Sprintf("%.1f%%", stats.Coverage),
	}).Info("role mining complete")
	return candidates, stats
}

// CreateBundles pushes mined candidates to the remote as role bundles.
// Candidates whose entitlements cannot be fully resolved are pushed with
// what resolved; fully unresolvable candidates are skipped.
func (p *Provisioner) CreateBundles(ctx context.Context, resourceID string, candidates []roles.Candidate, index grants.Index) ([]remote.Bundle, error) {
	resolver := grants.NewResolver(p.provider, p.opts.EntitlementPrefix, p.logger)

	bundles := make([]remote.Bundle, 0, len(candidates))
	for _, candidate := range candidates {
		// Bundle keys are raw column names; the index is keyed by
		// entitlement name.
		desired := make(map[string][]string, len(candidate.Bundle))
		for column, values := range candidate.Bundle {
			desired[strings.TrimPrefix(column, p.opts.EntitlementPrefix)] = values
		}
		groups, skipped := resolver.ResolveBundle(ctx, desired, index)
		if len(skipped) > 0 {
			p.logger.WithFields(map[string]interface{}{
				"candidate": candidate.Name,
				"skipped":   len(skipped),
			}).Warn("bundle has unresolvable values")
		}
		if len(groups) == 0 {
			continue
		}

		bundle, err := p.provider.CreateBundle(ctx, remote.BundlePayload{
			Name:         candidate.Name,
			Description:  candidate.Description,
			ResourceID:   resourceID,
			Entitlements: groups,
		})
		if err != nil {
			return bundles, fmt.Errorf("failed to create bundle %q: %w", candidate.Name, err)
		}
		bundles = append(bundles, *bundle)
		if p.metrics != nil {
			p.metrics.BundlesCreated.Inc()
		}
	}
	return bundles, nil
}

// ValidationReport summarizes a source file without touching the remote.
type ValidationReport struct {
	Rows            int
	Columns         []schema.Column
	ProfileColumns  int
	MatchedColumns  int
	Entitlements    catalog.Catalog
	RowsWithoutKey  int
	DuplicateKeys   []string
	IdentityColumns []string
}

// Validate inspects the table and reports what a pass would work with.
func (p *Provisioner) Validate(table *csvsource.Table) *ValidationReport {
	report := &ValidationReport{
		Rows:    len(table.Rows),
		Columns: p.deriver.Derive(table.Header),
	}
	for _, column := range report.Columns {
		if column.Kind != schema.KindProfile {
			continue
		}
		report.ProfileColumns++
		if column.Canonical != "" {
			report.MatchedColumns++
		}
	}
	report.Entitlements = catalog.Build(table.Rows, p.opts.EntitlementPrefix)

	candidates := p.opts.IdentityCandidates
	if len(candidates) == 0 {
		candidates = schema.DefaultIdentityCandidates
	}
	report.IdentityColumns = candidates

	seen := make(map[string]struct{}, len(table.Rows))
	for _, row := range table.Rows {
		key, ok := schema.IdentityKey(row, p.opts.IdentityCandidates)
		if !ok {
			report.RowsWithoutKey++
			continue
		}
		if _, dup := seen[key]; dup {
			report.DuplicateKeys = append(report.DuplicateKeys, key)
			continue
		}
		seen[key] = struct{}{}
	}
	return report
}
