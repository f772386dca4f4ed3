package roles

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
)

const (
	// DefaultThreshold is the minimum cluster size that becomes a candidate.
	DefaultThreshold = 2

	// maxGeneratedNameLength bounds generated role names before the indexed
	// fallback kicks in.
	maxGeneratedNameLength = 50
)

// Candidate is one mined role: a named grouping of identities sharing an
// identical permission bundle. Immutable after creation.
type Candidate struct {
	ID          string
	Name        string
	Bundle      PermissionBundle
	Members     []string
	MemberCount int
	// Coverage is MemberCount over all rows passed to the miner, as a
	// percentage. The denominator deliberately includes rows that held no
	// entitlements at all.
	Coverage    float64
	Description string
}

// Stats summarizes one mining run.
type Stats struct {
	TotalRows            int
	RowsWithEntitlements int
	UniqueSignatures     int
	CandidateCount       int
	// CoveredRows counts rows belonging to an emitted candidate.
	CoveredRows int
	// Coverage is CoveredRows over TotalRows, as a percentage.
	Coverage float64
}

// Miner clusters rows by bundle signature.
type Miner struct {
	prefix             string
	threshold          int
	identityCandidates []string
}

// MinerOption configures a Miner.
type MinerOption func(*Miner)

// WithMinMembers sets the minimum cluster size (≥ 1).
func WithMinMembers(n int) MinerOption {
	return func(m *Miner) {
		if n >= 1 {
			m.threshold = n
		}
	}
}

// WithEntitlementPrefix overrides the reserved column prefix.
func WithEntitlementPrefix(prefix string) MinerOption {
	return func(m *Miner) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithIdentityCandidates overrides the identity-key candidate columns used
// for member lists.
func WithIdentityCandidates(candidates []string) MinerOption {
	return func(m *Miner) {
		if len(candidates) > 0 {
			m.identityCandidates = candidates
		}
	}
}

// NewMiner creates a Miner with the default prefix and threshold.
func NewMiner(opts ...MinerOption) *Miner {
	m := &Miner{
		prefix:    schema.DefaultEntitlementPrefix,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine groups rows by bundle signature and emits ranked candidates.
//
// Rows with empty bundles are skipped but still count toward the coverage
// denominator. Candidates are sorted by member count descending; ties keep
// the first-seen signature order, which follows row iteration order, so
// output is reproducible for a given input.
func (m *Miner) Mine(rows []csvsource.Row) ([]Candidate, Stats) {
	stats := Stats{TotalRows: len(rows)}

	type cluster struct {
		bundle  PermissionBundle
		members []string
	}
	clusters := make(map[string]*cluster)
	order := make([]string, 0)

	for i, row := range rows {
		bundle := BundleFromRow(row, m.prefix)
		if len(bundle) == 0 {
			continue
		}
		stats.RowsWithEntitlements++

		member, ok := schema.IdentityKey(row, m.identityCandidates)
		if !ok {
			member = fmt.Sprintf("row-%d", i+1)
		}

		sig := bundle.Signature()
		c, seen := clusters[sig]
		if !seen {
			c = &cluster{bundle: bundle}
			clusters[sig] = c
			order = append(order, sig)
		}
		c.members = append(c.members, member)
	}

	stats.UniqueSignatures = len(order)

	candidates := make([]Candidate, 0, len(order))
	for i, sig := range order {
		c := clusters[sig]
		if len(c.members) < m.threshold {
			continue
		}
		count := len(c.members)
		coverage := 0.0
		if stats.TotalRows > 0 {
			coverage = float64(count) / float64(stats.TotalRows) * 100
		}
		candidates = append(candidates, Candidate{
			ID:          uuid.NewString(),
			Name:        m.generateName(c.bundle, i+1),
			Bundle:      c.bundle,
			Members:     c.members,
			MemberCount: count,
			Coverage:    coverage,
			Description: m.describe(c.bundle, count, stats.TotalRows, coverage),
		})
		stats.CoveredRows += count
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].MemberCount > candidates[b].MemberCount
	})

	stats.CandidateCount = len(candidates)
	if stats.TotalRows > 0 {
		stats.Coverage = float64(stats.CoveredRows) / float64(stats.TotalRows) * 100
	}
	return candidates, stats
}

// generateName concatenates the cleaned first value of each entitlement in
// the bundle, joined by underscores. Falls back to Role_<n> when nothing
// survives cleaning or the result exceeds the length bound.
func (m *Miner) generateName(bundle PermissionBundle, n int) string {
	parts := make([]string, 0, len(bundle))
	for _, key := range bundle.Keys() {
		values := bundle[key]
		if len(values) == 0 {
			continue
		}
		part := cleanNamePart(values[0])
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Role_%d", n)
	}
	name := strings.Join(parts, "_")
	if len(name) > maxGeneratedNameLength {
		return fmt.Sprintf("Role_%d", n)
	}
	return name
}

// describe builds the human-readable candidate description.
func (m *Miner) describe(bundle PermissionBundle, count, total int, coverage float64) string {
	pairs := make([]string, 0)
	for _, key := range bundle.Keys() {
		entitlement := strings.TrimPrefix(key, m.prefix)
		for _, value := range bundle[key] {
			pairs = append(pairs, fmt.Sprintf("%s (%s)", value, entitlement))
		}
	}
	return fmt.Sprintf("Grants %s. Held by %d of %d users (%.1f%%).",
		strings.Join(pairs, ", "), count, total, coverage)
}

// cleanNamePart strips everything but letters and digits.
func cleanNamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
