package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AddBuildAction records an analyzed compilation unit. Any previous action
// matching the same (run, command-hash, analyzer, source) key, or a legacy
// key with empty analyzer and source, is garbage collected first, so
// re-running analysis replaces rather than merges.
func (s *store) AddBuildAction(
	ctx context.Context,
	runID uint,
	buildCmdHash, checkCmd, analyzerType, sourceFile string,
) (uint, error) {
	var actionID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []BuildAction

		if err := tx.Where(
			"run_id = ? AND build_cmd_hash = ? AND "+
				"((analyzer_type = ? AND analyzed_source_file = ?) OR "+
				"(analyzer_type = '' AND analyzed_source_file = ''))",
			runID, buildCmdHash, analyzerType, sourceFile,
		).Find(&stale).Error; err != nil {
			return fmt.Errorf("looking up stale build actions: %w", err)
		}

		for i := range stale {
			if err := gcBuildAction(tx, &stale[i]); err != nil {
				return fmt.Errorf(
					"collecting build action %d: %w", stale[i].ID, err,
				)
			}
		}

		action := BuildAction{
			RunID:              runID,
			BuildCmdHash:       buildCmdHash,
			CheckCmd:           checkCmd,
			AnalyzerType:       analyzerType,
			AnalyzedSourceFile: sourceFile,
			StartDate:          time.Now().UTC(),
			Duration:           -1,
		}

		if err := tx.Create(&action).Error; err != nil {
			return fmt.Errorf("creating build action: %w", err)
		}

		actionID = action.ID

		return nil
	})
	if err != nil {
		return 0, err
	}

	return actionID, nil
}

// FinishBuildAction records the action's duration and failure text (empty
// string means success). Returns false when the action has vanished, which
// concurrent cleanup can legitimately cause.
func (s *store) FinishBuildAction(
	ctx context.Context, actionID uint, failure string,
) (bool, error) {
	var action BuildAction
	if err := s.db.WithContext(ctx).First(&action, actionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("getting build action: %w", err)
	}

	action.FailureTxt = failure
	action.Duration = time.Since(action.StartDate).Milliseconds()

	if err := s.db.WithContext(ctx).Save(&action).Error; err != nil {
		return false, fmt.Errorf("finishing build action: %w", err)
	}

	return true, nil
}

// gcBuildAction deletes a build action, the reports no other live action
// still references, their bug-path rows, and any file left without a
// referencing report or event. Deletion is reference-counted here and
// nowhere else.
func gcBuildAction(tx *gorm.DB, action *BuildAction) error {
	var links []ReportBuildAction
	if err := tx.Where("build_action_id = ?", action.ID).
		Find(&links).Error; err != nil {
		return fmt.Errorf("listing report links: %w", err)
	}

	if err := tx.Where("build_action_id = ?", action.ID).
		Delete(&ReportBuildAction{}).Error; err != nil {
		return fmt.Errorf("unlinking reports: %w", err)
	}

	for _, link := range links {
		var remaining int64
		if err := tx.Model(&ReportBuildAction{}).
			Where("report_id = ?", link.ReportID).
			Count(&remaining).Error; err != nil {
			return fmt.Errorf("counting report references: %w", err)
		}

		if remaining > 0 {
			continue
		}

		if err := gcReport(tx, link.ReportID); err != nil {
			return err
		}
	}

	if err := tx.Delete(&BuildAction{}, action.ID).Error; err != nil {
		return fmt.Errorf("deleting build action: %w", err)
	}

	return nil
}

// gcReport removes a report with zero remaining build-action references,
// its ordered event/path rows, and its file when nothing else uses it.
func gcReport(tx *gorm.DB, reportID uint) error {
	var report Report
	if err := tx.First(&report, reportID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}

		return fmt.Errorf("getting report: %w", err)
	}

	if err := tx.Where("report_id = ?", reportID).
		Delete(&BugPathEvent{}).Error; err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}

	if err := tx.Where("report_id = ?", reportID).
		Delete(&BugReportPoint{}).Error; err != nil {
		return fmt.Errorf("deleting path points: %w", err)
	}

	if err := tx.Delete(&Report{}, reportID).Error; err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}

	return gcFile(tx, report.FileID)
}

// gcFile deletes a file once no report or bug-path event references it.
func gcFile(tx *gorm.DB, fileID uint) error {
	if fileID == 0 {
		return nil
	}

	var refs int64
	if err := tx.Model(&Report{}).
		Where("file_id = ?", fileID).
		Count(&refs).Error; err != nil {
		return fmt.Errorf("counting file report references: %w", err)
	}

	if refs > 0 {
		return nil
	}

	if err := tx.Model(&BugPathEvent{}).
		Where("file_id = ?", fileID).
		Count(&refs).Error; err != nil {
		return fmt.Errorf("counting file event references: %w", err)
	}

	if refs > 0 {
		return nil
	}

	if err := tx.Delete(&File{}, fileID).Error; err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	return nil
}
