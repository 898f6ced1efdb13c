package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishBuildAction(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	runID := addTestRun(t, st, "nightly")
	actionID := addTestAction(t, st, runID, "cmd1", "main.c")

	ok, err := st.FinishBuildAction(ctx, actionID, "")
	require.NoError(t, err)
	assert.True(t, ok)

	var action BuildAction
	require.NoError(t, st.db.First(&action, actionID).Error)
	assert.GreaterOrEqual(t, action.Duration, int64(0))
	assert.Empty(t, action.FailureTxt)

	// A vanished action is reported, not an error.
	ok, err = st.FinishBuildAction(ctx, 9999, "boom")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddBuildAction_ReanalysisReplacesResults(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	runID := addTestRun(t, st, "nightly")
	firstAction := addTestAction(t, st, runID, "cmd1", "main.c")
	fileID := addTestFile(t, st, runID, "/src/main.c")

	_, err := st.AddReport(ctx, firstAction, testInput(fileID, "hash-old", "chk"))
	require.NoError(t, err)

	// Re-running the same compilation unit garbage collects the previous
	// action and the reports only it referenced.
	secondAction := addTestAction(t, st, runID, "cmd1", "main.c")
	assert.NotEqual(t, firstAction, secondAction)

	var staleActions int64
	require.NoError(t, st.db.Model(&BuildAction{}).
		Where("id = ?", firstAction).
		Count(&staleActions).Error)
	assert.Zero(t, staleActions)

	count, err := st.GetRunResultCount(ctx, runID, nil)
	require.NoError(t, err)
	assert.Zero(t, count, "old results must not merge into the re-run")

	newFile := addTestFile(t, st, runID, "/src/main.c")

	_, err = st.AddReport(ctx, secondAction, testInput(newFile, "hash-new", "chk"))
	require.NoError(t, err)

	count, err = st.GetRunResultCount(ctx, runID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAddBuildAction_SharedReportSurvivesGC(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	runID := addTestRun(t, st, "nightly")
	actionA := addTestAction(t, st, runID, "cmd-a", "a.c")
	actionB := addTestAction(t, st, runID, "cmd-b", "b.c")
	fileID := addTestFile(t, st, runID, "/src/shared.h")

	// The same defect discovered by two different actions.
	reportID, err := st.AddReport(ctx, actionA, testInput(fileID, "hash-a", "chk"))
	require.NoError(t, err)

	same, err := st.AddReport(ctx, actionB, testInput(fileID, "hash-a", "chk"))
	require.NoError(t, err)
	require.Equal(t, reportID, same)

	// Re-running action A collects it, but the report survives through its
	// remaining link to action B.
	addTestAction(t, st, runID, "cmd-a", "a.c")

	var reports int64
	require.NoError(t, st.db.Model(&Report{}).
		Where("id = ?", reportID).
		Count(&reports).Error)
	assert.Equal(t, int64(1), reports)

	// Re-running action B removes the last reference; the report and its
	// now-unreferenced file go too.
	addTestAction(t, st, runID, "cmd-b", "b.c")

	require.NoError(t, st.db.Model(&Report{}).
		Where("id = ?", reportID).
		Count(&reports).Error)
	assert.Zero(t, reports)

	var files int64
	require.NoError(t, st.db.Model(&File{}).
		Where("id = ?", fileID).
		Count(&files).Error)
	assert.Zero(t, files, "unreferenced file must be collected")
}

func TestAddBuildAction_DistinctKeysCoexist(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	runID := addTestRun(t, st, "nightly")

	addTestAction(t, st, runID, "cmd1", "a.c")
	addTestAction(t, st, runID, "cmd1", "b.c")

	var actions int64
	require.NoError(t, st.db.WithContext(ctx).Model(&BuildAction{}).
		Where("run_id = ?", runID).
		Count(&actions).Error)
	assert.Equal(t, int64(2), actions,
		"different source files under one command hash are separate actions")
}
