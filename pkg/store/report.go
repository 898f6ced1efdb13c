package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

// CheckerIDNotFound is stored when a diagnostic arrives without a checker
// id; empty checker ids are never persisted.
const CheckerIDNotFound = "NOT FOUND"

// AddReport stores one diagnostic for a build action, or recognizes it as a
// duplicate of a report already stored in the same run. Duplicates are
// linked to the action and returned as-is; no orphaned bug-path rows are
// created for them. A duplicate-key race with a concurrent worker resolves
// to the surviving row instead of an error.
func (s *store) AddReport(
	ctx context.Context, buildActionID uint, input *ReportInput,
) (uint, error) {
	checkerID := input.CheckerID
	if checkerID == "" {
		checkerID = CheckerIDNotFound
	}

	var action BuildAction
	if err := s.db.WithContext(ctx).
		First(&action, buildActionID).Error; err != nil {
		return 0, fmt.Errorf("getting build action: %w", err)
	}

	digest := eventDigest(input.Events)

	var reportID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Bug hashes collide, even within one run. Every hash-matching
		// candidate is disambiguated by checker, file, and the full event
		// sequence before it counts as a duplicate.
		var candidates []Report
		if err := tx.Where("run_id = ? AND bug_hash = ?",
			action.RunID, input.BugHash).
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("querying hash candidates: %w", err)
		}

		for i := range candidates {
			cand := &candidates[i]

			if cand.CheckerID != checkerID || cand.FileID != input.FileID {
				continue
			}

			var events []BugPathEvent
			if err := tx.Where("report_id = ?", cand.ID).
				Order("position ASC").
				Find(&events).Error; err != nil {
				return fmt.Errorf("loading candidate events: %w", err)
			}

			if !eventsEqual(events, input.Events) {
				continue
			}

			if err := linkReport(tx, cand.ID, buildActionID); err != nil {
				return err
			}

			if next := rediscoveredStatus(cand.DetectionStatus); next != cand.DetectionStatus {
				cand.DetectionStatus = next

				if err := tx.Save(cand).Error; err != nil {
					return fmt.Errorf("updating detection status: %w", err)
				}
			}

			reportID = cand.ID

			return nil
		}

		suppressed := input.Suppress

		if !suppressed {
			match, err := suppressMatch(
				tx, action.RunID, input.BugHash, input.FileID,
			)
			if err != nil {
				return err
			}

			suppressed = match
		}

		report := Report{
			RunID:           action.RunID,
			FileID:          input.FileID,
			BugHash:         input.BugHash,
			EventDigest:     digest,
			CheckerID:       checkerID,
			CheckerCat:      input.CheckerCat,
			BugType:         input.BugType,
			Severity:        input.Severity,
			CheckerMsg:      input.Msg,
			DetectionStatus: DetectionStatusNew,
			Suppressed:      suppressed,
		}

		if err := tx.Create(&report).Error; err != nil {
			return fmt.Errorf("creating report: %w", err)
		}

		for i, ev := range input.Events {
			row := BugPathEvent{
				ReportID:  report.ID,
				Position:  i,
				FileID:    ev.FileID,
				Msg:       ev.Msg,
				LineBegin: ev.LineBegin,
				ColBegin:  ev.ColBegin,
				LineEnd:   ev.LineEnd,
				ColEnd:    ev.ColEnd,
			}

			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("creating bug path event: %w", err)
			}
		}

		for i, pt := range input.Path {
			row := BugReportPoint{
				ReportID:  report.ID,
				Position:  i,
				FileID:    pt.FileID,
				LineBegin: pt.LineBegin,
				ColBegin:  pt.ColBegin,
				LineEnd:   pt.LineEnd,
				ColEnd:    pt.ColEnd,
			}

			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("creating bug report point: %w", err)
			}
		}

		if err := linkReport(tx, report.ID, buildActionID); err != nil {
			return err
		}

		reportID = report.ID

		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent worker inserted the same defect between our
			// candidate query and our insert. The transaction rolled back;
			// adopt the surviving row.
			return s.adoptConcurrentReport(
				ctx, action.RunID, buildActionID, input.BugHash,
				checkerID, input.FileID, digest,
			)
		}

		return 0, fmt.Errorf("storing report: %w", err)
	}

	return reportID, nil
}

// adoptConcurrentReport resolves a duplicate-key race by re-querying the
// row the concurrent writer committed and linking it to our build action.
func (s *store) adoptConcurrentReport(
	ctx context.Context,
	runID, buildActionID uint,
	bugHash, checkerID string,
	fileID uint,
	digest string,
) (uint, error) {
	var reportID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Report
		if err := tx.Where(
			"run_id = ? AND bug_hash = ? AND checker_id = ? AND "+
				"file_id = ? AND event_digest = ?",
			runID, bugHash, checkerID, fileID, digest,
		).First(&existing).Error; err != nil {
			return fmt.Errorf("requerying after duplicate insert: %w", err)
		}

		if err := linkReport(tx, existing.ID, buildActionID); err != nil {
			return err
		}

		reportID = existing.ID

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.WithField("report_id", reportID).
		Debug("Duplicate insert race resolved to existing report")

	return reportID, nil
}

// linkReport ensures the join row between a report and a build action.
func linkReport(tx *gorm.DB, reportID, buildActionID uint) error {
	link := ReportBuildAction{
		ReportID:      reportID,
		BuildActionID: buildActionID,
	}

	if err := tx.Where(&link).FirstOrCreate(&link).Error; err != nil {
		return fmt.Errorf("linking report to build action: %w", err)
	}

	return nil
}

// rediscoveredStatus maps a report's detection status to its successor when
// the same defect is found again: resolved defects reopen, everything else
// settles on unresolved.
func rediscoveredStatus(status string) string {
	switch status {
	case DetectionStatusNew, DetectionStatusReopened:
		return DetectionStatusUnresolved
	case DetectionStatusResolved:
		return DetectionStatusReopened
	default:
		return status
	}
}

// suppressMatch reports whether a SuppressBug record covers (run, hash) for
// the report's source file. Records with an empty file name are legacy
// entries matching any file.
func suppressMatch(
	tx *gorm.DB, runID uint, bugHash string, fileID uint,
) (bool, error) {
	fileName := ""

	var file File
	if err := tx.First(&file, fileID).Error; err == nil {
		fileName = filepath.Base(file.Filepath)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("getting report file: %w", err)
	}

	var count int64
	if err := tx.Model(&SuppressBug{}).
		Where("run_id = ? AND bug_hash = ? AND (file_name = ? OR file_name = '')",
			runID, bugHash, fileName).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("matching suppression: %w", err)
	}

	return count > 0, nil
}

// eventsEqual compares a stored event sequence with an incoming one. Any
// length or element mismatch means not-a-duplicate; there is no partial
// prefix equivalence.
func eventsEqual(stored []BugPathEvent, in []PathEvent) bool {
	if len(stored) != len(in) {
		return false
	}

	for i := range stored {
		if stored[i].FileID != in[i].FileID ||
			stored[i].Msg != in[i].Msg ||
			stored[i].LineBegin != in[i].LineBegin ||
			stored[i].ColBegin != in[i].ColBegin ||
			stored[i].LineEnd != in[i].LineEnd ||
			stored[i].ColEnd != in[i].ColEnd {
			return false
		}
	}

	return true
}

// eventDigest hashes the ordered event tuples. It backs the reports
// uniqueness constraint; equality checks always compare full sequences.
func eventDigest(events []PathEvent) string {
	h := sha256.New()

	for _, ev := range events {
		fmt.Fprintf(h, "%d|%d|%d|%d|%d|%s\n",
			ev.FileID, ev.LineBegin, ev.ColBegin, ev.LineEnd, ev.ColEnd,
			ev.Msg)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// --- Listing ---

type reportRow struct {
	ID              uint
	RunID           uint
	BugHash         string
	CheckerID       string
	CheckerCat      string
	BugType         string
	Severity        Severity
	CheckerMsg      string
	DetectionStatus string
	Suppressed      bool
	FileID          uint
	Filepath        string
}

const reportColumns = "reports.id, reports.run_id, reports.bug_hash, " +
	"reports.checker_id, reports.checker_cat, reports.bug_type, " +
	"reports.severity, reports.checker_msg, reports.detection_status, " +
	"reports.suppressed, reports.file_id, files.filepath"

// GetRunResults returns a filtered, sorted, paginated page of a run's
// reports. The page size is capped at MaxQuerySize regardless of limit.
func (s *store) GetRunResults(
	ctx context.Context,
	runID uint,
	limit, offset int,
	sort []SortMode,
	filters []ReportFilter,
) ([]ReportData, error) {
	q := s.buildReportQuery(ctx, runID, filters)
	q = applySort(q, sort)
	q = q.Limit(clampLimit(limit)).Offset(offset)

	var rows []reportRow
	if err := q.Select(reportColumns).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing run results: %w", err)
	}

	return s.toReportData(ctx, rows)
}

// GetRunResultCount returns the number of reports matching the filters.
func (s *store) GetRunResultCount(
	ctx context.Context, runID uint, filters []ReportFilter,
) (int64, error) {
	var count int64
	if err := s.buildReportQuery(ctx, runID, filters).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting run results: %w", err)
	}

	return count, nil
}

// GetRunResultTypes returns a per-checker breakdown of matching reports.
func (s *store) GetRunResultTypes(
	ctx context.Context, runID uint, filters []ReportFilter,
) ([]ReportTypeCount, error) {
	return s.reportTypes(s.buildReportQuery(ctx, runID, filters))
}

func (s *store) reportTypes(q *gorm.DB) ([]ReportTypeCount, error) {
	var types []ReportTypeCount
	if err := q.
		Select("reports.checker_id, reports.severity, COUNT(*) AS count").
		Group("reports.checker_id, reports.severity").
		Order("reports.checker_id ASC").
		Scan(&types).Error; err != nil {
		return nil, fmt.Errorf("counting result types: %w", err)
	}

	return types, nil
}

// GetReport returns one report with its ordered event and path sequences.
// A missing id is surfaced as an error, not swallowed.
func (s *store) GetReport(
	ctx context.Context, reportID uint,
) (*ReportData, error) {
	var report Report
	if err := s.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Path", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&report, reportID).Error; err != nil {
		return nil, fmt.Errorf("getting report: %w", err)
	}

	data := &ReportData{
		ReportID:        report.ID,
		RunID:           report.RunID,
		BugHash:         report.BugHash,
		FileID:          report.FileID,
		CheckerID:       report.CheckerID,
		CheckerCat:      report.CheckerCat,
		BugType:         report.BugType,
		Severity:        report.Severity,
		CheckerMsg:      report.CheckerMsg,
		DetectionStatus: report.DetectionStatus,
		Suppressed:      report.Suppressed,
		Events:          report.Events,
		Path:            report.Path,
	}

	var file File
	if err := s.db.WithContext(ctx).
		First(&file, report.FileID).Error; err == nil {
		data.CheckedFile = file.Filepath
	}

	if n := len(report.Events); n > 0 {
		data.Line = report.Events[n-1].LineBegin
		data.Column = report.Events[n-1].ColBegin
	}

	return data, nil
}

// buildReportQuery constructs the shared filter predicate used by plain run
// listings and by the diff engine. Filters in the slice are OR'd; fields
// within one filter are AND'd.
func (s *store) buildReportQuery(
	ctx context.Context, runID uint, filters []ReportFilter,
) *gorm.DB {
	q := s.db.WithContext(ctx).
		Model(&Report{}).
		Joins("JOIN files ON files.id = reports.file_id").
		Where("reports.run_id = ?", runID)

	if cond := s.filterConditions(filters); cond != nil {
		q = q.Where(cond)
	}

	return q
}

func (s *store) filterConditions(filters []ReportFilter) *gorm.DB {
	var combined *gorm.DB

	for _, f := range filters {
		grp := s.db.Session(&gorm.Session{NewDB: true})

		if f.FilePath != "" {
			grp = grp.Where("files.filepath LIKE ?", globToLike(f.FilePath))
		}

		if f.CheckerID != "" {
			grp = grp.Where("reports.checker_id = ?", f.CheckerID)
		}

		if f.CheckerMsg != "" {
			grp = grp.Where("reports.checker_msg LIKE ?",
				globToLike(f.CheckerMsg))
		}

		if f.BugHash != "" {
			grp = grp.Where("reports.bug_hash = ?", f.BugHash)
		}

		if f.Severity != nil {
			grp = grp.Where("reports.severity = ?", *f.Severity)
		}

		if f.Suppressed != nil {
			grp = grp.Where("reports.suppressed = ?", *f.Suppressed)
		}

		if combined == nil {
			combined = grp
		} else {
			combined = combined.Or(grp)
		}
	}

	return combined
}

// applySort orders the query by the requested keys, defaulting to file path
// then insertion order.
func applySort(q *gorm.DB, sort []SortMode) *gorm.DB {
	if len(sort) == 0 {
		return q.Order("files.filepath ASC").Order("reports.id ASC")
	}

	for _, mode := range sort {
		col := ""

		switch mode.Type {
		case SortFilename:
			col = "files.filepath"
		case SortCheckerName:
			col = "reports.checker_id"
		case SortSeverity:
			col = "reports.severity"
		case SortDetectionStatus:
			col = "reports.detection_status"
		default:
			continue
		}

		dir := "ASC"
		if mode.Desc {
			dir = "DESC"
		}

		q = q.Order(col + " " + dir)
	}

	return q.Order("reports.id ASC")
}

// toReportData resolves last-event positions for a page of rows with one
// bulk query instead of a lookup per report.
func (s *store) toReportData(
	ctx context.Context, rows []reportRow,
) ([]ReportData, error) {
	data := make([]ReportData, 0, len(rows))
	if len(rows) == 0 {
		return data, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var events []BugPathEvent
	if err := s.db.WithContext(ctx).
		Where("report_id IN ?", ids).
		Order("position ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("loading report events: %w", err)
	}

	last := make(map[uint]BugPathEvent, len(rows))
	for _, ev := range events {
		last[ev.ReportID] = ev
	}

	for _, row := range rows {
		rd := ReportData{
			ReportID:        row.ID,
			RunID:           row.RunID,
			BugHash:         row.BugHash,
			CheckedFile:     row.Filepath,
			FileID:          row.FileID,
			CheckerID:       row.CheckerID,
			CheckerCat:      row.CheckerCat,
			BugType:         row.BugType,
			Severity:        row.Severity,
			CheckerMsg:      row.CheckerMsg,
			DetectionStatus: row.DetectionStatus,
			Suppressed:      row.Suppressed,
		}

		if ev, ok := last[row.ID]; ok {
			rd.Line = ev.LineBegin
			rd.Column = ev.ColBegin
		}

		data = append(data, rd)
	}

	return data, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQuerySize {
		return MaxQuerySize
	}

	return limit
}

// globToLike converts shell-style globs to SQL LIKE patterns.
func globToLike(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "*", "%")
	pattern = strings.ReplaceAll(pattern, "?", "_")

	return pattern
}
