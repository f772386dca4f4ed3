// Package roles mines common entitlement combinations into reusable role
// candidates. Rows are clustered by an exact canonical signature of their
// permission bundle; clusters above a membership threshold become ranked
// role candidates.
package roles

import (
	"sort"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
)

// PermissionBundle maps an entitlement column name to the sorted, deduped
// values one row holds for it. Columns absent or empty in the row are
// omitted. Two rows with equal canonicalized bundles are identical for
// mining purposes.
type PermissionBundle map[string][]string

// BundleFromRow extracts the permission bundle of a single row. Entitlement
// columns are those whose name carries prefix.
func BundleFromRow(row csvsource.Row, prefix string) PermissionBundle {
	bundle := make(PermissionBundle)
	for column, cell := range row {
		if !strings.HasPrefix(column, prefix) {
			continue
		}
		values := catalog.SplitUnique(cell)
		if len(values) == 0 {
			continue
		}
		bundle[column] = values
	}
	return bundle
}

// Keys returns the bundle's entitlement column names, sorted.
func (b PermissionBundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for key := range b {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Signature serializes the bundle deterministically: keys sorted, each value
// array sorted, written as `key=v1,v2;`. Values cannot contain commas (they
// are produced by comma-splitting), so the encoding distinguishes distinct
// canonical bundles. Equal signatures imply equal canonicalized bundles and
// vice versa.
func (b PermissionBundle) Signature() string {
	var sb strings.Builder
	for _, key := range b.Keys() {
		values := append([]string(nil), b[key]...)
		sort.Strings(values)
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(values, ","))
		sb.WriteByte(';')
	}
	return sb.String()
}
