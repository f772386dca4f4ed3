package grants

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

type fakeMinter struct {
	calls  []string
	nextID int
	fail   map[string]error
}

func (m *fakeMinter) AddEntitlementValue(_ context.Context, entitlementID, valueName string) (*remote.EntitlementValue, error) {
	m.calls = append(m.calls, entitlementID+"/"+valueName)
	if err, ok := m.fail[valueName]; ok {
		return nil, err
	}
	m.nextID++
	return &remote.EntitlementValue{ID: fmt.Sprintf("minted-%d", m.nextID), Name: valueName}, nil
}

func testIndex() Index {
	return BuildIndex([]remote.Entitlement{
		{
			ID:   "ent-perm",
			Name: "Permissions",
			Values: []remote.EntitlementValue{
				{ID: "val-view", Name: "View"},
				{ID: "val-edit", Name: "Edit"},
			},
		},
		{
			ID:   "ent-groups",
			Name: "Groups",
			Values: []remote.EntitlementValue{
				{ID: "val-eng", Name: "Engineering"},
			},
		},
	})
}

func TestResolveDedupesRepeatedValues(t *testing.T) {
	resolver := NewResolver(&fakeMinter{}, "ENT_", nil)

	row := csvsource.Row{
		"Login":           "alice",
		"ENT_Permissions": "View,View,Edit",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	require.Empty(t, skipped)
	require.Len(t, payload, 1)
	assert.Equal(t, "ent-perm", payload[0].EntitlementID)
	assert.ElementsMatch(t, []string{"val-view", "val-edit"}, payload[0].ValueIDs)
}

func TestResolveMatchesCaseInsensitively(t *testing.T) {
	resolver := NewResolver(&fakeMinter{}, "ENT_", nil)

	row := csvsource.Row{
		"ENT_permissions": "view, EDIT",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	require.Empty(t, skipped)
	require.Len(t, payload, 1)
	assert.ElementsMatch(t, []string{"val-view", "val-edit"}, payload[0].ValueIDs)
}

func TestResolveMintsMissingValues(t *testing.T) {
	minter := &fakeMinter{}
	resolver := NewResolver(minter, "ENT_", nil)
	index := testIndex()

	row := csvsource.Row{
		"ENT_Permissions": "View,Admin",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, index)

	require.Empty(t, skipped)
	require.Len(t, payload, 1)
	assert.ElementsMatch(t, []string{"val-view", "minted-1"}, payload[0].ValueIDs)
	assert.Equal(t, []string{"ent-perm/Admin"}, minter.calls)

	// Second row reuses the minted value instead of minting again.
	payload, skipped = resolver.Resolve(context.Background(), csvsource.Row{"ENT_Permissions": "admin"}, index)
	require.Empty(t, skipped)
	require.Len(t, payload, 1)
	assert.Equal(t, []string{"minted-1"}, payload[0].ValueIDs)
	assert.Len(t, minter.calls, 1)
}

func TestResolveSkipsUnmintableValues(t *testing.T) {
	minter := &fakeMinter{fail: map[string]error{"Broken": errors.New("boom")}}
	resolver := NewResolver(minter, "ENT_", nil)

	row := csvsource.Row{
		"ENT_Permissions": "View,Broken",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	require.Len(t, payload, 1)
	assert.Equal(t, []string{"val-view"}, payload[0].ValueIDs)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Permissions", skipped[0].Entitlement)
	assert.Equal(t, "Broken", skipped[0].Value)
	assert.Error(t, skipped[0].Err)
}

func TestResolveSkipsUnknownEntitlement(t *testing.T) {
	minter := &fakeMinter{}
	resolver := NewResolver(minter, "ENT_", nil)

	row := csvsource.Row{
		"ENT_Nonexistent": "Anything",
		"ENT_Groups":      "Engineering",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	require.Len(t, payload, 1)
	assert.Equal(t, "ent-groups", payload[0].EntitlementID)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Nonexistent", skipped[0].Entitlement)
	assert.Empty(t, minter.calls)
}

func TestResolveOrdersGroupsByEntitlementName(t *testing.T) {
	resolver := NewResolver(&fakeMinter{}, "ENT_", nil)

	row := csvsource.Row{
		"ENT_Permissions": "View",
		"ENT_Groups":      "Engineering",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	require.Empty(t, skipped)
	require.Len(t, payload, 2)
	assert.Equal(t, "ent-groups", payload[0].EntitlementID)
	assert.Equal(t, "ent-perm", payload[1].EntitlementID)
}

func TestResolveBundleAliasedNamesShareOneGroup(t *testing.T) {
	resolver := NewResolver(&fakeMinter{}, "ENT_", nil)

	// Two index entries pointing at the same remote entitlement must not
	// produce duplicate groups in the payload.
	ent := &ResolvedEntitlement{
		ID:       "ent-perm",
		Name:     "Permissions",
		valueIDs: map[string]string{"view": "val-view", "edit": "val-edit"},
	}
	index := Index{"permissions": ent, "perms": ent}

	payload, skipped := resolver.ResolveBundle(context.Background(), map[string][]string{
		"Permissions": {"View"},
		"Perms":       {"Edit"},
	}, index)

	require.Empty(t, skipped)
	require.Len(t, payload, 1)
	assert.Equal(t, "ent-perm", payload[0].EntitlementID)
	assert.ElementsMatch(t, []string{"val-view", "val-edit"}, payload[0].ValueIDs)
}

func TestResolveEmptyCellsProduceNoGroups(t *testing.T) {
	resolver := NewResolver(&fakeMinter{}, "ENT_", nil)

	row := csvsource.Row{
		"Login":           "bob",
		"ENT_Permissions": " , ,",
	}
	payload, skipped := resolver.Resolve(context.Background(), row, testIndex())

	assert.Empty(t, payload)
	assert.Empty(t, skipped)
}
