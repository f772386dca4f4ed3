package reconcile

import (
	"sort"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
)

// RemoteEntity is one currently-provisioned identity as observed on the
// remote: its remote ID, normalized identity key, and stored attribute map.
type RemoteEntity struct {
	ID         string
	Key        string
	Attributes map[string]string
}

// FieldChange is one differing field of an update.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Add is a desired row with no remote counterpart.
type Add struct {
	Key string
	Row csvsource.Row
}

// Update pairs a desired row with its remote counterpart and the fields
// whose values differ.
type Update struct {
	Key     string
	Row     csvsource.Row
	Entity  RemoteEntity
	Changes []FieldChange
}

// Remove is a remote entity with no desired counterpart.
type Remove struct {
	Key    string
	Entity RemoteEntity
}

// ChangeSet is the three-way classification of one pass. The three key sets
// are pairwise disjoint and, together with unchanged keys, cover the union
// of desired and remote keys.
type ChangeSet struct {
	Adds    []Add
	Updates []Update
	Removes []Remove
	// Unchanged counts desired keys whose remote state already matches.
	Unchanged int
	// SkippedRows counts desired rows excluded for lack of an identity key.
	SkippedRows int
}

// Empty reports whether the change set carries no work.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Adds) == 0 && len(cs.Updates) == 0 && len(cs.Removes) == 0
}

// DiffOptions tunes the diff.
type DiffOptions struct {
	// IdentityCandidates overrides the identity-key candidate columns.
	IdentityCandidates []string
}

// Diff computes the change set between desired rows and the remote
// snapshot.
//
// Adds and updates keep source row order; removes are sorted by key so
// output is deterministic regardless of snapshot order. Duplicate desired
// keys keep the last row, matching a re-read of the same CSV. Field
// comparison is exact string equality against the remote's stored attribute
// map; a row with zero changed fields produces no update.
func Diff(rows []csvsource.Row, snapshot []RemoteEntity, opts DiffOptions) *ChangeSet {
	cs := &ChangeSet{}

	type desired struct {
		key string
		row csvsource.Row
	}
	desiredOrder := make([]desired, 0, len(rows))
	desiredByKey := make(map[string]csvsource.Row, len(rows))
	for _, row := range rows {
		key, ok := schema.IdentityKey(row, opts.IdentityCandidates)
		if !ok {
			cs.SkippedRows++
			continue
		}
		if _, seen := desiredByKey[key]; !seen {
			desiredOrder = append(desiredOrder, desired{key: key, row: row})
		}
		desiredByKey[key] = row
	}

	remoteByKey := make(map[string]RemoteEntity, len(snapshot))
	for _, entity := range snapshot {
		remoteByKey[strings.ToLower(entity.Key)] = entity
	}

	for _, d := range desiredOrder {
		row := desiredByKey[d.key]
		entity, exists := remoteByKey[d.key]
		if !exists {
			cs.Adds = append(cs.Adds, Add{Key: d.key, Row: row})
			continue
		}
		changes := fieldChanges(row, entity.Attributes)
		if len(changes) == 0 {
			cs.Unchanged++
			continue
		}
		cs.Updates = append(cs.Updates, Update{Key: d.key, Row: row, Entity: entity, Changes: changes})
	}

	removeKeys := make([]string, 0)
	for key := range remoteByKey {
		if _, exists := desiredByKey[key]; !exists {
			removeKeys = append(removeKeys, key)
		}
	}
	sort.Strings(removeKeys)
	for _, key := range removeKeys {
		cs.Removes = append(cs.Removes, Remove{Key: key, Entity: remoteByKey[key]})
	}

	return cs
}

// fieldChanges compares every desired column against the remote attribute
// map under exact string comparison. Changes are emitted in sorted column
// order for reproducible output.
func fieldChanges(row csvsource.Row, attributes map[string]string) []FieldChange {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	changes := make([]FieldChange, 0)
	for _, column := range columns {
		desired := row[column]
		observed := attributes[column]
		if desired != observed {
			changes = append(changes, FieldChange{Field: column, Old: observed, New: desired})
		}
	}
	return changes
}
