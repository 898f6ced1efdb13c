package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// diffHashChunk bounds the size of one bug_hash IN (...) clause.
const diffHashChunk = 500

// GetDiffResults compares two runs and returns the selected category as a
// normal filtered/sorted/paginated report listing. New and Unresolved
// defects are shown from the newer run, Resolved from the baseline, since
// that is where the current representative instance lives.
func (s *store) GetDiffResults(
	ctx context.Context,
	baseRunID, newRunID uint,
	diffType DiffType,
	limit, offset int,
	sort []SortMode,
	filters []ReportFilter,
) ([]ReportData, error) {
	hashes, displayRun, err := s.diffHashes(ctx, baseRunID, newRunID, diffType)
	if err != nil {
		return nil, err
	}

	if len(hashes) == 0 {
		return []ReportData{}, nil
	}

	q := s.buildReportQuery(ctx, displayRun, filters)
	q = hashSetPredicate(q, hashes)
	q = applySort(q, sort)
	q = q.Limit(clampLimit(limit)).Offset(offset)

	var rows []reportRow
	if err := q.Select(reportColumns).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing diff results: %w", err)
	}

	return s.toReportData(ctx, rows)
}

// GetDiffResultCount counts the reports in one diff category.
func (s *store) GetDiffResultCount(
	ctx context.Context,
	baseRunID, newRunID uint,
	diffType DiffType,
	filters []ReportFilter,
) (int64, error) {
	hashes, displayRun, err := s.diffHashes(ctx, baseRunID, newRunID, diffType)
	if err != nil {
		return 0, err
	}

	if len(hashes) == 0 {
		return 0, nil
	}

	q := hashSetPredicate(s.buildReportQuery(ctx, displayRun, filters), hashes)

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting diff results: %w", err)
	}

	return count, nil
}

// GetDiffResultTypes returns the per-checker breakdown of a diff category.
func (s *store) GetDiffResultTypes(
	ctx context.Context,
	baseRunID, newRunID uint,
	diffType DiffType,
	filters []ReportFilter,
) ([]ReportTypeCount, error) {
	hashes, displayRun, err := s.diffHashes(ctx, baseRunID, newRunID, diffType)
	if err != nil {
		return nil, err
	}

	if len(hashes) == 0 {
		return []ReportTypeCount{}, nil
	}

	return s.reportTypes(
		hashSetPredicate(s.buildReportQuery(ctx, displayRun, filters), hashes),
	)
}

// diffHashes computes the requested category by plain set algebra over the
// two runs' distinct bug hashes, and picks the run the results are shown
// from. Hash collisions make the categories exact with respect to stored
// hash identity, approximate with respect to true defect identity.
func (s *store) diffHashes(
	ctx context.Context, baseRunID, newRunID uint, diffType DiffType,
) ([]string, uint, error) {
	baseHashes, err := s.runHashes(ctx, baseRunID)
	if err != nil {
		return nil, 0, err
	}

	newHashes, err := s.runHashes(ctx, newRunID)
	if err != nil {
		return nil, 0, err
	}

	var (
		result     []string
		displayRun uint
	)

	switch diffType {
	case DiffNew:
		result = subtract(newHashes, baseHashes)
		displayRun = newRunID
	case DiffResolved:
		result = subtract(baseHashes, newHashes)
		displayRun = baseRunID
	case DiffUnresolved:
		result = intersect(newHashes, baseHashes)
		displayRun = newRunID
	default:
		return nil, 0, fmt.Errorf("unknown diff type: %d", diffType)
	}

	return result, displayRun, nil
}

// runHashes returns the distinct bug hashes stored for a run.
func (s *store) runHashes(
	ctx context.Context, runID uint,
) (map[string]struct{}, error) {
	var hashes []string
	if err := s.db.WithContext(ctx).
		Model(&Report{}).
		Where("run_id = ?", runID).
		Distinct().
		Pluck("bug_hash", &hashes).Error; err != nil {
		return nil, fmt.Errorf("collecting run hashes: %w", err)
	}

	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}

	return set, nil
}

// hashSetPredicate restricts a report query to the diff hash set, chunking
// the IN clause to stay under backend bind-variable limits.
func hashSetPredicate(q *gorm.DB, hashes []string) *gorm.DB {
	if len(hashes) <= diffHashChunk {
		return q.Where("reports.bug_hash IN ?", hashes)
	}

	var cond *gorm.DB

	for i := 0; i < len(hashes); i += diffHashChunk {
		end := i + diffHashChunk
		if end > len(hashes) {
			end = len(hashes)
		}

		chunk := q.Session(&gorm.Session{NewDB: true}).
			Where("reports.bug_hash IN ?", hashes[i:end])

		if cond == nil {
			cond = chunk
		} else {
			cond = cond.Or(chunk)
		}
	}

	return q.Where(cond)
}

func subtract(a, b map[string]struct{}) []string {
	out := make([]string, 0, len(a))

	for h := range a {
		if _, ok := b[h]; !ok {
			out = append(out, h)
		}
	}

	return out
}

func intersect(a, b map[string]struct{}) []string {
	out := make([]string, 0, len(a))

	for h := range a {
		if _, ok := b[h]; ok {
			out = append(out, h)
		}
	}

	return out
}
