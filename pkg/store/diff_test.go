package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupDiffRuns stores {a, b, c} in the baseline and {b, c, d} in the newer
// run.
func setupDiffRuns(t *testing.T, st *store) (baseID, newID uint) {
	t.Helper()

	ctx := context.Background()

	baseID = addTestRun(t, st, "baseline")
	newID = addTestRun(t, st, "candidate")

	baseAction := addTestAction(t, st, baseID, "cmd1", "main.c")
	newAction := addTestAction(t, st, newID, "cmd1", "main.c")

	baseFile := addTestFile(t, st, baseID, "/src/main.c")
	newFile := addTestFile(t, st, newID, "/src/main.c")

	for _, hash := range []string{"hash-a", "hash-b", "hash-c"} {
		_, err := st.AddReport(ctx, baseAction, testInput(baseFile, hash, "chk"))
		require.NoError(t, err)
	}

	for _, hash := range []string{"hash-b", "hash-c", "hash-d"} {
		_, err := st.AddReport(ctx, newAction, testInput(newFile, hash, "chk"))
		require.NoError(t, err)
	}

	return baseID, newID
}

func diffHashSet(results []ReportData) map[string]bool {
	set := make(map[string]bool, len(results))
	for _, r := range results {
		set[r.BugHash] = true
	}

	return set
}

func TestGetDiffResults_Categories(t *testing.T) {
	st := setupTestStore(t)
	baseID, newID := setupDiffRuns(t, st)
	ctx := context.Background()

	tests := []struct {
		name       string
		diffType   DiffType
		wantHashes []string
		wantRun    uint
	}{
		{
			name:       "new reports come from the newer run",
			diffType:   DiffNew,
			wantHashes: []string{"hash-d"},
			wantRun:    newID,
		},
		{
			name:       "resolved reports come from the baseline",
			diffType:   DiffResolved,
			wantHashes: []string{"hash-a"},
			wantRun:    baseID,
		},
		{
			name:       "unresolved reports come from the newer run",
			diffType:   DiffUnresolved,
			wantHashes: []string{"hash-b", "hash-c"},
			wantRun:    newID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := st.GetDiffResults(
				ctx, baseID, newID, tt.diffType, 0, 0, nil, nil,
			)
			require.NoError(t, err)
			require.Len(t, results, len(tt.wantHashes))

			got := diffHashSet(results)
			for _, hash := range tt.wantHashes {
				assert.True(t, got[hash], "missing %s", hash)
			}

			for _, r := range results {
				assert.Equal(t, tt.wantRun, r.RunID)
			}

			count, err := st.GetDiffResultCount(
				ctx, baseID, newID, tt.diffType, nil,
			)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.wantHashes)), count)
		})
	}
}

func TestGetDiffResults_EmptyCategory(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// Identical runs: nothing new, nothing resolved.
	baseID := addTestRun(t, st, "baseline")
	newID := addTestRun(t, st, "candidate")

	baseAction := addTestAction(t, st, baseID, "cmd1", "main.c")
	newAction := addTestAction(t, st, newID, "cmd1", "main.c")

	baseFile := addTestFile(t, st, baseID, "/src/main.c")
	newFile := addTestFile(t, st, newID, "/src/main.c")

	_, err := st.AddReport(ctx, baseAction, testInput(baseFile, "hash-a", "chk"))
	require.NoError(t, err)
	_, err = st.AddReport(ctx, newAction, testInput(newFile, "hash-a", "chk"))
	require.NoError(t, err)

	results, err := st.GetDiffResults(ctx, baseID, newID, DiffNew, 0, 0, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := st.GetDiffResultCount(ctx, baseID, newID, DiffResolved, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetDiffResults_FiltersApply(t *testing.T) {
	st := setupTestStore(t)
	baseID, newID := setupDiffRuns(t, st)
	ctx := context.Background()

	// Unresolved is {b, c}; filtering on one hash narrows it further.
	results, err := st.GetDiffResults(
		ctx, baseID, newID, DiffUnresolved, 0, 0, nil,
		[]ReportFilter{{BugHash: "hash-b"}},
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hash-b", results[0].BugHash)
}

func TestGetDiffResultTypes(t *testing.T) {
	st := setupTestStore(t)
	baseID, newID := setupDiffRuns(t, st)

	types, err := st.GetDiffResultTypes(
		context.Background(), baseID, newID, DiffUnresolved, nil,
	)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "chk", types[0].CheckerID)
	assert.Equal(t, int64(2), types[0].Count)
}

func TestHashSetAlgebra(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "z": {}}

	assert.ElementsMatch(t, []string{"x"}, subtract(a, b))
	assert.ElementsMatch(t, []string{"z"}, subtract(b, a))
	assert.ElementsMatch(t, []string{"y"}, intersect(a, b))
	assert.Empty(t, subtract(a, a))
}
