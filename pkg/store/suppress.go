package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"
)

// SuppressBug records a suppression for the report's (bug hash, file name)
// pair in every given run, idempotently, and flips the suppressed flag on
// all matching reports. The mirror hook runs inside the transaction: if the
// external suppress file cannot be written, the database change rolls back.
func (s *store) SuppressBug(
	ctx context.Context,
	runIDs []uint,
	reportID uint,
	comment string,
	mirror MirrorFunc,
) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bugHash, fileName, err := resolveSuppressTarget(tx, reportID)
		if err != nil {
			return err
		}

		records := make([]SuppressBug, 0, len(runIDs))

		for _, runID := range runIDs {
			rec := SuppressBug{
				RunID:    runID,
				BugHash:  bugHash,
				FileName: fileName,
			}

			// Runs already carrying this suppression are left untouched.
			res := tx.Where(&rec).
				Attrs(SuppressBug{Comment: comment}).
				FirstOrCreate(&rec)
			if res.Error != nil {
				return fmt.Errorf("creating suppress record: %w", res.Error)
			}

			records = append(records, rec)

			if err := setSuppressedFlag(
				tx, runID, bugHash, fileName, true,
			); err != nil {
				return err
			}
		}

		if mirror != nil {
			if err := mirror(records); err != nil {
				return fmt.Errorf("mirroring suppression: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// UnSuppressBug removes the suppression records for the report's
// (bug hash, file name) pair in the given runs and clears the suppressed
// flag on matching reports. Mirror failures roll everything back.
func (s *store) UnSuppressBug(
	ctx context.Context,
	runIDs []uint,
	reportID uint,
	mirror MirrorFunc,
) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bugHash, fileName, err := resolveSuppressTarget(tx, reportID)
		if err != nil {
			return err
		}

		removed := make([]SuppressBug, 0, len(runIDs))

		for _, runID := range runIDs {
			var recs []SuppressBug
			if err := tx.Where(
				"run_id = ? AND bug_hash = ? AND (file_name = ? OR file_name = '')",
				runID, bugHash, fileName,
			).Find(&recs).Error; err != nil {
				return fmt.Errorf("finding suppress records: %w", err)
			}

			for _, rec := range recs {
				if err := tx.Delete(&SuppressBug{}, rec.ID).Error; err != nil {
					return fmt.Errorf("deleting suppress record: %w", err)
				}

				removed = append(removed, rec)
			}

			if err := setSuppressedFlag(
				tx, runID, bugHash, fileName, false,
			); err != nil {
				return err
			}
		}

		if mirror != nil {
			if err := mirror(removed); err != nil {
				return fmt.Errorf("mirroring unsuppression: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// GetSuppressedBugs lists a run's suppression records.
func (s *store) GetSuppressedBugs(
	ctx context.Context, runID uint,
) ([]SuppressBug, error) {
	var records []SuppressBug
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing suppressed bugs: %w", err)
	}

	return records, nil
}

// AddSuppressBugs imports suppression records into a run (idempotently)
// and reconciles the suppressed flag on matching reports. Used when loading
// a suppress file wholesale.
func (s *store) AddSuppressBugs(
	ctx context.Context, runID uint, records []SuppressBug,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range records {
			rec := SuppressBug{
				RunID:    runID,
				BugHash:  in.BugHash,
				FileName: in.FileName,
			}

			if err := tx.Where(&rec).
				Attrs(SuppressBug{
					Comment:  in.Comment,
					HashType: in.HashType,
				}).
				FirstOrCreate(&rec).Error; err != nil {
				return fmt.Errorf("importing suppress record: %w", err)
			}

			if err := setSuppressedFlag(
				tx, runID, in.BugHash, in.FileName, true,
			); err != nil {
				return err
			}
		}

		return nil
	})
}

// CleanSuppressData wipes a run's suppression state wholesale: all records
// gone, all suppressed flags cleared.
func (s *store) CleanSuppressData(ctx context.Context, runID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).
			Delete(&SuppressBug{}).Error; err != nil {
			return fmt.Errorf("deleting suppress records: %w", err)
		}

		if err := tx.Model(&Report{}).
			Where("run_id = ? AND suppressed = ?", runID, true).
			Update("suppressed", false).Error; err != nil {
			return fmt.Errorf("clearing suppressed flags: %w", err)
		}

		return nil
	})
}

// resolveSuppressTarget returns the bug hash and source file basename the
// suppression keys on.
func resolveSuppressTarget(
	tx *gorm.DB, reportID uint,
) (string, string, error) {
	var report Report
	if err := tx.First(&report, reportID).Error; err != nil {
		return "", "", fmt.Errorf("getting report: %w", err)
	}

	fileName := ""

	var file File

	err := tx.First(&file, report.FileID).Error

	switch {
	case err == nil:
		fileName = filepath.Base(file.Filepath)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", "", fmt.Errorf("getting report file: %w", err)
	}

	return report.BugHash, fileName, nil
}

// setSuppressedFlag updates the suppressed flag on every report in the run
// matching the hash and file basename. An empty file name matches any file
// (legacy records).
func setSuppressedFlag(
	tx *gorm.DB, runID uint, bugHash, fileName string, suppressed bool,
) error {
	q := tx.Model(&Report{}).
		Where("run_id = ? AND bug_hash = ?", runID, bugHash)

	if fileName != "" {
		fileIDs := tx.Model(&File{}).
			Select("id").
			Where("run_id = ? AND (filepath = ? OR filepath LIKE ?)",
				runID, fileName, "%/"+fileName)

		q = q.Where("file_id IN (?)", fileIDs)
	}

	if err := q.Update("suppressed", suppressed).Error; err != nil {
		return fmt.Errorf("updating suppressed flags: %w", err)
	}

	return nil
}
