// Package grants maps a row's raw entitlement values onto remote
// entitlement and value identifiers and assembles grant payloads.
package grants

import (
	"context"
	"sort"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

// ValueMinter is the slice of the governance port the resolver needs to
// create missing entitlement values.
type ValueMinter interface {
	AddEntitlementValue(ctx context.Context, entitlementID, valueName string) (*remote.EntitlementValue, error)
}

// ResolvedEntitlement is one remote entitlement with a case-insensitive
// value-name index.
type ResolvedEntitlement struct {
	ID   string
	Name string
	// valueIDs maps lower-cased value name to the remote value ID.
	valueIDs map[string]string
}

// Index is the entitlement lookup used during grant resolution, keyed by
// lower-cased entitlement name (the CSV column name with the prefix
// stripped).
type Index map[string]*ResolvedEntitlement

// BuildIndex indexes the remote entitlement list for resolution.
func BuildIndex(entitlements []remote.Entitlement) Index {
	index := make(Index, len(entitlements))
	for _, ent := range entitlements {
		resolved := &ResolvedEntitlement{
			ID:       ent.ID,
			Name:     ent.Name,
			valueIDs: make(map[string]string, len(ent.Values)),
		}
		for _, value := range ent.Values {
			resolved.valueIDs[strings.ToLower(value.Name)] = value.ID
		}
		index[strings.ToLower(ent.Name)] = resolved
	}
	return index
}

// SkippedValue records a value that could not be resolved or minted.
type SkippedValue struct {
	Entitlement string
	Value       string
	Err         error
}

// Resolver assembles grant payloads for rows.
type Resolver struct {
	minter ValueMinter
	prefix string
	logger *observability.Logger
}

// NewResolver creates a Resolver. logger may be nil.
func NewResolver(minter ValueMinter, prefix string, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Resolver{minter: minter, prefix: prefix, logger: logger}
}

// Resolve maps the row's entitlement cells onto grant groups. Values are
// split, trimmed and deduped with the catalog rule, matched
// case-insensitively against the index, and missing values are minted
// through the port. A value that cannot be minted is skipped and reported;
// the rest of the row proceeds.
//
// The returned payload holds at most one group per entitlement ID, no
// duplicate value IDs within a group, and groups ordered by entitlement
// name for determinism.
func (r *Resolver) Resolve(ctx context.Context, row csvsource.Row, index Index) ([]remote.GrantGroup, []SkippedValue) {
	desired := make(map[string][]string)
	for column, cell := range row {
		if !strings.HasPrefix(column, r.prefix) {
			continue
		}
		values := catalog.SplitUnique(cell)
		if len(values) == 0 {
			continue
		}
		desired[strings.TrimPrefix(column, r.prefix)] = values
	}
	return r.ResolveBundle(ctx, desired, index)
}

// ResolveBundle maps already-split entitlement values, keyed by entitlement
// name without the column prefix, onto grant groups. Role-bundle payloads
// go through this path.
func (r *Resolver) ResolveBundle(ctx context.Context, desired map[string][]string, index Index) ([]remote.GrantGroup, []SkippedValue) {
	skipped := make([]SkippedValue, 0)

	type group struct {
		entitlementID string
		name          string
		seen          map[string]struct{}
		valueIDs      []string
	}
	groups := make(map[string]*group)

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := desired[name]
		resolved, ok := index[strings.ToLower(name)]
		if !ok {
			for _, value := range values {
				skipped = append(skipped, SkippedValue{Entitlement: name, Value: value})
			}
			r.logger.WithField("entitlement", name).Warn("entitlement not found on remote, skipping values")
			continue
		}

		g, ok := groups[resolved.ID]
		if !ok {
			g = &group{entitlementID: resolved.ID, name: resolved.Name, seen: make(map[string]struct{})}
			groups[resolved.ID] = g
		}

		for _, value := range values {
			valueID, ok := resolved.valueIDs[strings.ToLower(value)]
			if !ok {
				minted, err := r.minter.AddEntitlementValue(ctx, resolved.ID, value)
				if err != nil {
					skipped = append(skipped, SkippedValue{Entitlement: name, Value: value, Err: err})
					r.logger.WithError(err).WithFields(map[string]interface{}{
						"entitlement": name,
						"value":       value,
					}).Warn("failed to create entitlement value, skipping")
					continue
				}
				valueID = minted.ID
				resolved.valueIDs[strings.ToLower(value)] = valueID
			}
			if _, dup := g.seen[valueID]; dup {
				continue
			}
			g.seen[valueID] = struct{}{}
			g.valueIDs = append(g.valueIDs, valueID)
		}
	}

	// Emit one group per entitlement ID, ordered by entitlement name; drop
	// groups where every value was skipped.
	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		if len(g.valueIDs) == 0 {
			continue
		}
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].name != ordered[j].name {
			return ordered[i].name < ordered[j].name
		}
		return ordered[i].entitlementID < ordered[j].entitlementID
	})
	payload := make([]remote.GrantGroup, 0, len(ordered))
	for _, g := range ordered {
		payload = append(payload, remote.GrantGroup{
			EntitlementID: g.entitlementID,
			ValueIDs:      g.valueIDs,
		})
	}
	return payload, skipped
}
