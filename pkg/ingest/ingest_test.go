package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIngestTest(t *testing.T) (store.Store, uint) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.sqlite"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, cfg)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	runID, err := st.AddCheckerRun(
		context.Background(), "analyze all", "nightly", "v1", false,
	)
	require.NoError(t, err)

	return st, runID
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func testAction(src string, diags ...Diagnostic) ActionResult {
	return ActionResult{
		BuildCmdHash: "cmd-" + filepath.Base(src),
		CheckCmd:     "analyzer " + src,
		AnalyzerType: "analyzer",
		SourceFile:   src,
		Diagnostics:  diags,
	}
}

func testDiagnostic(src, hash string, line int) Diagnostic {
	return Diagnostic{
		CheckerName: "core.NullDereference",
		Category:    "Logic error",
		Type:        "Dereference of null pointer",
		Severity:    "high",
		Message:     "null deref",
		HashValue:   hash,
		File:        src,
		Events: []Event{
			{File: src, Msg: "here", LineBegin: line, ColBegin: 3},
		},
		Path: []Point{
			{File: src, LineBegin: line, ColBegin: 3, LineEnd: line, ColEnd: 9},
		},
	}
}

func TestIngestor_StoresActionAndReports(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := writeSource(t, dir, "main.c", "int main() {\n  return *p;\n}\n")

	ing := NewIngestor(quietLog(), st, nil, 2)

	err := ing.Run(ctx, runID, []ActionResult{
		testAction(src, testDiagnostic(src, "hash-a", 2)),
	})
	require.NoError(t, err)

	count, err := st.GetRunResultCount(ctx, runID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	results, err := st.GetRunResults(ctx, runID, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hash-a", results[0].BugHash)
	assert.Equal(t, src, results[0].CheckedFile)
	assert.Equal(t, 2, results[0].Line)

	// Source body was transmitted.
	content, err := st.GetFileContent(ctx, results[0].FileID)
	require.NoError(t, err)
	assert.Contains(t, string(content), "return *p;")
}

func TestIngestor_SkipPathExcludesReports(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	dir := t.TempDir()
	kept := writeSource(t, dir, "app.c", "code\n")
	skipped := writeSource(t, dir, "vendor.c", "code\n")

	ing := NewIngestor(quietLog(), st, []string{"**/vendor.c"}, 1)

	err := ing.Run(ctx, runID, []ActionResult{
		testAction(kept, testDiagnostic(kept, "hash-kept", 1)),
		testAction(skipped, testDiagnostic(skipped, "hash-skipped", 1)),
	})
	require.NoError(t, err)

	results, err := st.GetRunResults(ctx, runID, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hash-kept", results[0].BugHash)

	// The globs are recorded with the run.
	paths, err := st.GetRunSkipPaths(ctx, runID)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "**/vendor.c", paths[0].Path)
}

func TestIngestor_SourceCommentSuppresses(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := writeSource(t, dir, "main.c",
		"int main() {\n"+
			"// codechecker_suppress [core.NullDereference] checked above\n"+
			"  return *p;\n"+
			"}\n")

	ing := NewIngestor(quietLog(), st, nil, 1)

	err := ing.Run(ctx, runID, []ActionResult{
		testAction(src, testDiagnostic(src, "hash-a", 3)),
	})
	require.NoError(t, err)

	results, err := st.GetRunResults(ctx, runID, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Suppressed)
}

func TestIngestor_FallbackHashWhenAnalyzerOmitsOne(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := writeSource(t, dir, "main.c", "int main() {\n  return *p;\n}\n")

	diag := testDiagnostic(src, "", 2)

	ing := NewIngestor(quietLog(), st, nil, 1)
	require.NoError(t, ing.Run(ctx, runID, []ActionResult{testAction(src, diag)}))

	results, err := st.GetRunResults(ctx, runID, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].BugHash, 32, "fallback hash must be computed")
}

func TestIngestor_UnreadableSourceStillStoresReport(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	// The diagnostic references a file that does not exist on disk.
	src := "/does/not/exist.c"

	ing := NewIngestor(quietLog(), st, nil, 1)

	err := ing.Run(ctx, runID, []ActionResult{
		testAction(src, testDiagnostic(src, "hash-a", 2)),
	})
	require.NoError(t, err)

	count, err := st.GetRunResultCount(ctx, runID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestor_FailedActionRecordsFailureText(t *testing.T) {
	st, runID := setupIngestTest(t)
	ctx := context.Background()

	action := ActionResult{
		BuildCmdHash: "cmd-fail",
		CheckCmd:     "analyzer broken.c",
		AnalyzerType: "analyzer",
		SourceFile:   "broken.c",
		FailureTxt:   "analyzer crashed",
	}

	ing := NewIngestor(quietLog(), st, nil, 1)
	require.NoError(t, ing.Run(ctx, runID, []ActionResult{action}))

	count, err := st.GetRunResultCount(ctx, runID, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}
