package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store backed by a throwaway SQLite database.
func setupTestStore(t *testing.T) *store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.sqlite"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st, ok := NewStore(log, cfg).(*store)
	require.True(t, ok)

	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	return st
}

// addTestRun creates a fresh run and returns its id.
func addTestRun(t *testing.T, st *store, name string) uint {
	t.Helper()

	runID, err := st.AddCheckerRun(
		context.Background(), "analyze all", name, "v1", false,
	)
	require.NoError(t, err)
	require.NotZero(t, runID)

	return runID
}

// addTestAction creates a build action in the run.
func addTestAction(
	t *testing.T, st *store, runID uint, cmdHash, sourceFile string,
) uint {
	t.Helper()

	actionID, err := st.AddBuildAction(
		context.Background(), runID,
		cmdHash, "analyzer -c "+sourceFile, "analyzer", sourceFile,
	)
	require.NoError(t, err)
	require.NotZero(t, actionID)

	return actionID
}

// addTestFile registers a source path with the run and returns its file id.
func addTestFile(t *testing.T, st *store, runID uint, path string) uint {
	t.Helper()

	_, fileID, err := st.NeedFileContent(context.Background(), runID, path)
	require.NoError(t, err)
	require.NotZero(t, fileID)

	return fileID
}

// testInput builds a minimal report input with a one-event bug path.
func testInput(fileID uint, bugHash, checkerID string) *ReportInput {
	return &ReportInput{
		FileID:    fileID,
		BugHash:   bugHash,
		CheckerID: checkerID,
		Severity:  SeverityHigh,
		Msg:       "something looks wrong",
		Events: []PathEvent{
			{
				FileID:    fileID,
				Msg:       "here",
				LineBegin: 10,
				ColBegin:  3,
				LineEnd:   10,
				ColEnd:    12,
			},
		},
		Path: []PathPoint{
			{FileID: fileID, LineBegin: 10, ColBegin: 3, LineEnd: 10, ColEnd: 12},
		},
	}
}
