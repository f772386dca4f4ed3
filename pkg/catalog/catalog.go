// Package catalog builds the entitlement catalog from a row set: for each
// entitlement column, the sorted set of unique values observed across all
// rows, keyed by the entitlement name with the column prefix stripped.
package catalog

import (
	"sort"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
)

// Catalog maps an entitlement name (the column name with the reserved
// prefix stripped) to the sorted unique values observed for it. The
// stripped name is the name the entitlement carries everywhere downstream:
// on the remote, in the resolution index, and in grant payloads.
type Catalog map[string][]string

// Build scans rows and accumulates the catalog. Entitlement columns are
// detected from the first row's keys; all rows are assumed to share one
// header. Cells are comma-split, trimmed, and empty pieces discarded. Zero
// rows or zero entitlement columns yield an empty catalog.
func Build(rows []csvsource.Row, prefix string) Catalog {
	result := make(Catalog)
	if len(rows) == 0 {
		return result
	}

	columns := make([]string, 0)
	for name := range rows[0] {
		if strings.HasPrefix(name, prefix) {
			columns = append(columns, name)
		}
	}
	sort.Strings(columns)

	for _, column := range columns {
		name := strings.TrimPrefix(column, prefix)
		seen := make(map[string]struct{})
		for _, value := range result[name] {
			seen[value] = struct{}{}
		}
		for _, row := range rows {
			for _, value := range SplitValues(row[column]) {
				seen[value] = struct{}{}
			}
		}
		values := make([]string, 0, len(seen))
		for value := range seen {
			values = append(values, value)
		}
		sort.Strings(values)
		result[name] = values
	}
	return result
}

// Names returns the catalog's entitlement names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalValues counts all values across the catalog.
func (c Catalog) TotalValues() int {
	total := 0
	for _, values := range c {
		total += len(values)
	}
	return total
}

// SplitValues splits a raw cell on commas, trims each piece, and drops empty
// pieces. A blank cell yields nil. This is the single splitting rule shared
// by the catalog builder, the role miner and the grant resolver.
func SplitValues(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	pieces := strings.Split(cell, ",")
	values := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		values = append(values, piece)
	}
	return values
}

// SplitUnique splits like SplitValues, then dedupes and sorts the result.
func SplitUnique(cell string) []string {
	pieces := SplitValues(cell)
	if len(pieces) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(pieces))
	values := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if _, ok := seen[piece]; ok {
			continue
		}
		seen[piece] = struct{}{}
		values = append(values, piece)
	}
	sort.Strings(values)
	return values
}
