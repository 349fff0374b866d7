package hotpatch

import (
	"testing"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIdentityDeterministic(t *testing.T) {
	h1 := HashIdentity("func(int32, int32) int32", "pkg.add")
	h2 := HashIdentity("func(int32, int32) int32", "pkg.add")
	assert.Equal(t, h1, h2)
}

func TestHashIdentitySignatureSensitive(t *testing.T) {
	h1 := HashIdentity("func(int32, int32) int32", "pkg.add")
	h2 := HashIdentity("func(int64, int64) int64", "pkg.add")
	assert.NotEqual(t, h1, h2)
}

func TestBuildFunctionTableIncludesRegisteredSite(t *testing.T) {
	site := NewSite("hotpatch_test.registry_probe", addInner)
	wantHash, wantName := site.Identity()

	table := BuildFunctionTable()
	require.NotEmpty(t, table)

	var found bool
	for _, rec := range table {
		if rec.Hash == wantHash {
			assert.Equal(t, wantName, rec.Name)
			found = true
		}
	}
	assert.True(t, found, "registered site must appear in the function table")
}

func TestFunctionTableIsSortedByHash(t *testing.T) {
	NewSite("hotpatch_test.sort_probe_a", addInner)
	NewSite("hotpatch_test.sort_probe_b", addInner)

	table := BuildFunctionTable()
	for i := 1; i < len(table); i++ {
		assert.False(t, lessHash(table[i].Hash, table[i-1].Hash), "table must be sorted ascending by hash")
	}
}

func TestMergeIntoRebindsMatchingSite(t *testing.T) {
	site := NewSite("hotpatch_test.merge_probe", addInner)
	before := site.Call(1, 2)
	assert.Equal(t, int32(3), before)

	hash, _ := site.Identity()
	// A table record's Addr must be a C-callable address, the way a real
	// export's would be; NewCallback wraps the Go replacement the same
	// way a cgo-exported function in a fresh library copy presents
	// itself to this process.
	replacement := func(a, b int32) int32 { return a * b }
	newTable := []FunctionTableRecord{{Hash: hash, Name: "hotpatch_test.merge_probe", Addr: purego.NewCallback(replacement)}}

	mergeInto(newTable, Null())
	assert.Equal(t, int32(6), site.Call(2, 3))
}
