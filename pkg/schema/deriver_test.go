package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "firstname", Normalize("First-Name"))
	assert.Equal(t, "firstname", Normalize("first_name"))
	assert.Equal(t, "firstname", Normalize("FirstName"))
	assert.Equal(t, "firstname", Normalize(" first name "))
	assert.Equal(t, "", Normalize(""))
}

func TestDeriverClassify(t *testing.T) {
	d := NewDeriver()

	t.Run("entitlement column", func(t *testing.T) {
		col := d.Classify("ent_Role")
		assert.Equal(t, KindEntitlement, col.Kind)
		assert.Equal(t, "Role", col.EntitlementName)
		assert.Empty(t, col.Canonical)
	})

	t.Run("profile column with canonical match", func(t *testing.T) {
		col := d.Classify("First-Name")
		assert.Equal(t, KindProfile, col.Kind)
		assert.Equal(t, "firstName", col.Canonical)
	})

	t.Run("many raw names map to one canonical", func(t *testing.T) {
		assert.Equal(t, "lastName", d.Classify("surname").Canonical)
		assert.Equal(t, "lastName", d.Classify("Family_Name").Canonical)
		assert.Equal(t, "lastName", d.Classify("LastName").Canonical)
	})

	t.Run("unmatched profile column is not an error", func(t *testing.T) {
		col := d.Classify("favorite_color")
		assert.Equal(t, KindProfile, col.Kind)
		assert.Empty(t, col.Canonical)
	})
}

func TestDeriverDerive(t *testing.T) {
	d := NewDeriver()

	t.Run("classifies in order", func(t *testing.T) {
		cols := d.Derive([]string{"username", "ent_Role", "dept"})
		require.Len(t, cols, 3)
		assert.Equal(t, KindProfile, cols[0].Kind)
		assert.Equal(t, "login", cols[0].Canonical)
		assert.Equal(t, KindEntitlement, cols[1].Kind)
		assert.Equal(t, "department", cols[2].Canonical)
	})

	t.Run("empty header yields empty classification", func(t *testing.T) {
		assert.Empty(t, d.Derive(nil))
	})
}

func TestDeriverOptions(t *testing.T) {
	t.Run("custom prefix", func(t *testing.T) {
		d := NewDeriver(WithPrefix("perm:"))
		assert.Equal(t, KindEntitlement, d.Classify("perm:Role").Kind)
		assert.Equal(t, KindProfile, d.Classify("ent_Role").Kind)
	})

	t.Run("custom dictionary normalizes keys", func(t *testing.T) {
		d := NewDeriver(WithDictionary(map[string]string{"Badge-Number": "employeeNumber"}))
		assert.Equal(t, "employeeNumber", d.Classify("badge_number").Canonical)
		assert.Empty(t, d.Classify("first_name").Canonical)
	})
}

func TestLoadDictionary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Badge-Number: employeeNumber\nemail: \"\"\n"), 0o644))

	dict, err := LoadDictionary(path)
	require.NoError(t, err)

	assert.Equal(t, "employeeNumber", dict["badgenumber"])
	// Override to empty removes the default.
	_, ok := dict["email"]
	assert.False(t, ok)
	// Defaults survive the merge.
	assert.Equal(t, "firstName", dict["firstname"])

	_, err = LoadDictionary(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestIdentityKey(t *testing.T) {
	t.Run("first candidate wins", func(t *testing.T) {
		key, ok := IdentityKey(map[string]string{"email": "b@x.com", "login": "A@X.com"}, nil)
		require.True(t, ok)
		assert.Equal(t, "a@x.com", key)
	})

	t.Run("case-insensitive column match", func(t *testing.T) {
		key, ok := IdentityKey(map[string]string{"UserName": "Alice"}, nil)
		require.True(t, ok)
		assert.Equal(t, "alice", key)
	})

	t.Run("empty candidate values are skipped", func(t *testing.T) {
		key, ok := IdentityKey(map[string]string{"login": "  ", "email": "c@x.com"}, nil)
		require.True(t, ok)
		assert.Equal(t, "c@x.com", key)
	})

	t.Run("row without identity", func(t *testing.T) {
		_, ok := IdentityKey(map[string]string{"department": "Eng"}, nil)
		assert.False(t, ok)
	})

	t.Run("custom candidates", func(t *testing.T) {
		key, ok := IdentityKey(map[string]string{"badge": "B-17"}, []string{"badge"})
		require.True(t, ok)
		assert.Equal(t, "b-17", key)
	})
}
