package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ReadResultsDir loads parsed analyzer results from a directory of JSON
// files, one ActionResult per file. Files are loaded in name order so
// ingestion is deterministic.
func ReadResultsDir(dir string) ([]ActionResult, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("globbing results dir: %w", err)
	}

	sort.Strings(matches)

	actions := make([]ActionResult, 0, len(matches))

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading result file %s: %w", path, err)
		}

		var action ActionResult
		if err := json.Unmarshal(data, &action); err != nil {
			return nil, fmt.Errorf("parsing result file %s: %w", path, err)
		}

		actions = append(actions, action)
	}

	return actions, nil
}
