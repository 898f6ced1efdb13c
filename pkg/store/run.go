package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AddCheckerRun registers an analysis run. For an existing name, update=true
// reuses the run incrementally (bumps inc_count, resets duration); with
// update=false the run's stored results are wiped and the run is reset in
// place. A fresh name always creates a new run.
func (s *store) AddCheckerRun(
	ctx context.Context, command, name, version string, update bool,
) (uint, error) {
	var runID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Run

		err := tx.Where("name = ?", name).First(&existing).Error

		switch {
		case err == nil && update:
			existing.IncCount++
			existing.Duration = -1
			existing.StartDate = time.Now().UTC()
			existing.Command = command
			existing.Version = version

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating run: %w", err)
			}

			runID = existing.ID

			return nil

		case err == nil:
			// Overwrite: drop everything the run stored and start over.
			if err := wipeRunData(tx, existing.ID); err != nil {
				return fmt.Errorf("wiping run data: %w", err)
			}

			existing.IncCount = 0
			existing.Duration = -1
			existing.StartDate = time.Now().UTC()
			existing.Command = command
			existing.Version = version

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("resetting run: %w", err)
			}

			runID = existing.ID

			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			run := Run{
				Name:      name,
				StartDate: time.Now().UTC(),
				Duration:  -1,
				Version:   version,
				Command:   command,
				CanDelete: true,
			}

			if err := tx.Create(&run).Error; err != nil {
				return fmt.Errorf("creating run: %w", err)
			}

			runID = run.ID

			return nil

		default:
			return fmt.Errorf("looking up run: %w", err)
		}
	})
	if err != nil {
		return 0, err
	}

	return runID, nil
}

// FinishCheckerRun seals a run by recording its duration. Returns false
// when the run no longer exists.
func (s *store) FinishCheckerRun(
	ctx context.Context, runID uint,
) (bool, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("getting run: %w", err)
	}

	run.Duration = int64(time.Since(run.StartDate).Seconds())

	if err := s.db.WithContext(ctx).Save(&run).Error; err != nil {
		return false, fmt.Errorf("finishing run: %w", err)
	}

	return true, nil
}

// GetRun returns a single run by id.
func (s *store) GetRun(ctx context.Context, runID uint) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all runs with their unsuppressed result counts, newest
// first.
func (s *store) ListRuns(ctx context.Context) ([]RunData, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("start_date DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	data := make([]RunData, 0, len(runs))

	for _, run := range runs {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&Report{}).
			Where("run_id = ? AND suppressed = ?", run.ID, false).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("counting run results: %w", err)
		}

		data = append(data, RunData{Run: run, ResultCount: count})
	}

	return data, nil
}

// RemoveRunResults deletes the given runs and everything they own. Returns
// false when any run was missing or already being deleted by a concurrent
// caller; the remaining runs are still removed.
func (s *store) RemoveRunResults(
	ctx context.Context, runIDs []uint,
) (bool, error) {
	all := true

	for _, runID := range runIDs {
		// Claim the run first so two concurrent deletions cannot both
		// proceed past this point.
		claim := s.db.WithContext(ctx).
			Model(&Run{}).
			Where("id = ? AND can_delete = ?", runID, true).
			Update("can_delete", false)
		if claim.Error != nil {
			return false, fmt.Errorf("claiming run for deletion: %w", claim.Error)
		}

		if claim.RowsAffected == 0 {
			all = false

			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := wipeRunData(tx, runID); err != nil {
				return err
			}

			if err := tx.Where("run_id = ?", runID).
				Delete(&SuppressBug{}).Error; err != nil {
				return fmt.Errorf("deleting suppress records: %w", err)
			}

			if err := tx.Where("run_id = ?", runID).
				Delete(&SkipPath{}).Error; err != nil {
				return fmt.Errorf("deleting skip paths: %w", err)
			}

			if err := tx.Delete(&Run{}, runID).Error; err != nil {
				return fmt.Errorf("deleting run: %w", err)
			}

			return nil
		})
		if err != nil {
			return false, fmt.Errorf("removing run %d: %w", runID, err)
		}

		s.log.WithField("run_id", runID).Info("Run removed")
	}

	return all, nil
}

// wipeRunData deletes a run's reports, bug paths, build actions, and files.
// Shared FileContent bodies stay; they are content-addressed across runs.
func wipeRunData(tx *gorm.DB, runID uint) error {
	reportIDs := tx.Model(&Report{}).Select("id").Where("run_id = ?", runID)

	if err := tx.Where("report_id IN (?)", reportIDs).
		Delete(&BugPathEvent{}).Error; err != nil {
		return fmt.Errorf("deleting bug path events: %w", err)
	}

	if err := tx.Where("report_id IN (?)", reportIDs).
		Delete(&BugReportPoint{}).Error; err != nil {
		return fmt.Errorf("deleting bug report points: %w", err)
	}

	if err := tx.Where("report_id IN (?)", reportIDs).
		Delete(&ReportBuildAction{}).Error; err != nil {
		return fmt.Errorf("deleting report links: %w", err)
	}

	if err := tx.Where("run_id = ?", runID).
		Delete(&Report{}).Error; err != nil {
		return fmt.Errorf("deleting reports: %w", err)
	}

	if err := tx.Where("run_id = ?", runID).
		Delete(&BuildAction{}).Error; err != nil {
		return fmt.Errorf("deleting build actions: %w", err)
	}

	if err := tx.Where("run_id = ?", runID).
		Delete(&File{}).Error; err != nil {
		return fmt.Errorf("deleting files: %w", err)
	}

	return nil
}

// SetRunSkipPaths replaces the run's skip-path globs wholesale.
func (s *store) SetRunSkipPaths(
	ctx context.Context, runID uint, paths map[string]string,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).
			Delete(&SkipPath{}).Error; err != nil {
			return fmt.Errorf("clearing skip paths: %w", err)
		}

		for path, comment := range paths {
			sp := SkipPath{RunID: runID, Path: path, Comment: comment}
			if err := tx.Create(&sp).Error; err != nil {
				return fmt.Errorf("creating skip path: %w", err)
			}
		}

		return nil
	})
}

// GetRunSkipPaths returns the run's skip-path globs.
func (s *store) GetRunSkipPaths(
	ctx context.Context, runID uint,
) ([]SkipPath, error) {
	var paths []SkipPath
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&paths).Error; err != nil {
		return nil, fmt.Errorf("listing skip paths: %w", err)
	}

	return paths, nil
}
