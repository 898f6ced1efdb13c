// Package ingest stores parsed analyzer results through the storage API.
// Build actions are processed by a bounded worker pool; workers coordinate
// only through the store's transactional guarantees.
package ingest

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/defectoor/defectoor/pkg/bughash"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/defectoor/defectoor/pkg/suppress"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Ingestor stores analyzer results for a run.
type Ingestor struct {
	log       logrus.FieldLogger
	store     store.Store
	hasher    *bughash.Generator
	skipGlobs []string
	workers   int
}

// NewIngestor creates an ingestor with the given worker count and
// skip-path globs.
func NewIngestor(
	log logrus.FieldLogger,
	st store.Store,
	skipGlobs []string,
	workers int,
) *Ingestor {
	if workers <= 0 {
		workers = 1
	}

	return &Ingestor{
		log:       log.WithField("component", "ingest"),
		store:     st,
		hasher:    bughash.NewGenerator(log),
		skipGlobs: skipGlobs,
		workers:   workers,
	}
}

// Run stores every action result, fanning out across the worker pool. One
// failing diagnostic never fails its build action, and one failing build
// action never fails the batch; failures are logged and counted.
func (i *Ingestor) Run(
	ctx context.Context, runID uint, actions []ActionResult,
) error {
	if len(i.skipGlobs) > 0 {
		paths := make(map[string]string, len(i.skipGlobs))
		for _, g := range i.skipGlobs {
			paths[g] = ""
		}

		if err := i.store.SetRunSkipPaths(ctx, runID, paths); err != nil {
			return fmt.Errorf("recording skip paths: %w", err)
		}
	}

	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for idx := range actions {
		action := &actions[idx]

		g.Go(func() error {
			if err := i.storeAction(gctx, runID, action); err != nil {
				failed.Add(1)

				i.log.WithError(err).
					WithField("source_file", action.SourceFile).
					Error("Failed to store build action")
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d build actions failed to store",
			n, len(actions))
	}

	return nil
}

// storeAction persists one build action: the action row, the file contents
// it touches, and its diagnostics.
func (i *Ingestor) storeAction(
	ctx context.Context, runID uint, action *ActionResult,
) error {
	actionID, err := i.store.AddBuildAction(
		ctx, runID,
		action.BuildCmdHash, action.CheckCmd,
		action.AnalyzerType, action.SourceFile,
	)
	if err != nil {
		return fmt.Errorf("adding build action: %w", err)
	}

	fileIDs := make(map[string]uint)

	stored := 0

	for d := range action.Diagnostics {
		diag := &action.Diagnostics[d]

		if i.skipped(diag.File) {
			i.log.WithField("file", diag.File).
				Debug("Diagnostic skipped by skip path")

			continue
		}

		if err := i.storeDiagnostic(
			ctx, runID, actionID, diag, fileIDs,
		); err != nil {
			// One bad diagnostic must not fail the rest of the batch.
			i.log.WithError(err).
				WithField("checker", diag.CheckerName).
				WithField("file", diag.File).
				Error("Failed to store report")

			continue
		}

		stored++
	}

	ok, err := i.store.FinishBuildAction(ctx, actionID, action.FailureTxt)
	if err != nil {
		return fmt.Errorf("finishing build action: %w", err)
	}

	if !ok {
		i.log.WithField("action_id", actionID).
			Warn("Build action vanished before finish")
	}

	i.log.WithField("source_file", action.SourceFile).
		WithField("reports", stored).
		Debug("Build action stored")

	return nil
}

func (i *Ingestor) storeDiagnostic(
	ctx context.Context,
	runID, actionID uint,
	diag *Diagnostic,
	fileIDs map[string]uint,
) error {
	fileID, err := i.ensureFile(ctx, runID, diag.File, fileIDs)
	if err != nil {
		return err
	}

	events := make([]store.PathEvent, 0, len(diag.Events))

	for _, ev := range diag.Events {
		evFileID, err := i.ensureFile(ctx, runID, ev.File, fileIDs)
		if err != nil {
			return err
		}

		events = append(events, store.PathEvent{
			FileID:    evFileID,
			Msg:       ev.Msg,
			LineBegin: ev.LineBegin,
			ColBegin:  ev.ColBegin,
			LineEnd:   ev.LineEnd,
			ColEnd:    ev.ColEnd,
		})
	}

	path := make([]store.PathPoint, 0, len(diag.Path))

	for _, pt := range diag.Path {
		ptFileID, err := i.ensureFile(ctx, runID, pt.File, fileIDs)
		if err != nil {
			return err
		}

		path = append(path, store.PathPoint{
			FileID:    ptFileID,
			LineBegin: pt.LineBegin,
			ColBegin:  pt.ColBegin,
			LineEnd:   pt.LineEnd,
			ColEnd:    pt.ColEnd,
		})
	}

	reportLine := 0
	if n := len(diag.Events); n > 0 {
		reportLine = diag.Events[n-1].LineBegin
	}

	bugHash := diag.HashValue
	if bugHash == "" {
		cols := make([]bughash.Column, 0, len(diag.Path))
		for _, pt := range diag.Path {
			cols = append(cols, bughash.Column{
				Begin: pt.ColBegin,
				End:   pt.ColEnd,
			})
		}

		bugHash = i.hasher.Hash(
			diag.File, reportLine, diag.CheckerName, diag.Message, cols,
		)
	}

	// Source-comment suppressions are evaluated here, against the line
	// above the last bug-path event, and OR'd with stored suppress records
	// at storage time.
	suppressed, _ := suppress.FindCommentInFile(
		diag.File, reportLine, diag.CheckerName,
	)

	input := &store.ReportInput{
		FileID:     fileID,
		BugHash:    bugHash,
		CheckerID:  diag.CheckerName,
		CheckerCat: diag.Category,
		BugType:    diag.Type,
		Severity:   store.ParseSeverity(diag.Severity),
		Msg:        diag.Message,
		Events:     events,
		Path:       path,
		Suppress:   suppressed,
	}

	if _, err := i.store.AddReport(ctx, actionID, input); err != nil {
		return err
	}

	return nil
}

// ensureFile registers a file with the run and sends its content when the
// store asks for it. An unreadable source file is stored without content;
// the report still lands.
func (i *Ingestor) ensureFile(
	ctx context.Context, runID uint, path string, cache map[string]uint,
) (uint, error) {
	if id, ok := cache[path]; ok {
		return id, nil
	}

	needed, fileID, err := i.store.NeedFileContent(ctx, runID, path)
	if err != nil {
		return 0, fmt.Errorf("registering file %s: %w", path, err)
	}

	if needed {
		content, err := os.ReadFile(path)
		if err != nil {
			i.log.WithError(err).
				WithField("file", path).
				Warn("Source file unreadable, storing without content")
		} else if err := i.store.AddFileContent(
			ctx, fileID, content,
		); err != nil {
			return 0, fmt.Errorf("storing content for %s: %w", path, err)
		}
	}

	cache[path] = fileID

	return fileID, nil
}

// skipped reports whether a source path matches any skip glob.
func (i *Ingestor) skipped(path string) bool {
	for _, glob := range i.skipGlobs {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return true
		}
	}

	return false
}
