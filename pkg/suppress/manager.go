package suppress

import (
	"context"
	"fmt"

	"github.com/defectoor/defectoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Manager applies suppressions to the database and mirrors them to an
// external suppress file. The mirror write happens inside the store's
// transaction, so the two stores commit together or not at all. With no
// file configured, mirroring is a no-op.
type Manager struct {
	log      logrus.FieldLogger
	store    store.Store
	filePath string
}

// NewManager creates a suppression manager. filePath may be empty.
func NewManager(
	log logrus.FieldLogger,
	st store.Store,
	filePath string,
) *Manager {
	return &Manager{
		log:      log.WithField("component", "suppress"),
		store:    st,
		filePath: filePath,
	}
}

// Suppress records a suppression for the report in every given run.
func (m *Manager) Suppress(
	ctx context.Context, runIDs []uint, reportID uint, comment string,
) (bool, error) {
	return m.store.SuppressBug(ctx, runIDs, reportID, comment, m.mirrorAdd())
}

// Unsuppress removes the report's suppression from every given run.
func (m *Manager) Unsuppress(
	ctx context.Context, runIDs []uint, reportID uint,
) (bool, error) {
	return m.store.UnSuppressBug(ctx, runIDs, reportID, m.mirrorRemove())
}

// ImportFile replaces a run's suppression state wholesale with the hash
// entries of the configured suppress file.
func (m *Manager) ImportFile(ctx context.Context, runID uint) error {
	if m.filePath == "" {
		return fmt.Errorf("no suppress file configured")
	}

	entries, err := ParseFile(m.filePath)
	if err != nil {
		return err
	}

	if err := m.store.CleanSuppressData(ctx, runID); err != nil {
		return fmt.Errorf("cleaning suppress data: %w", err)
	}

	records := make([]store.SuppressBug, 0, len(entries))

	for _, e := range entries {
		if e.IsPath() {
			continue
		}

		records = append(records, store.SuppressBug{
			BugHash:  e.BugHash,
			HashType: e.HashType,
			Comment:  e.Comment,
		})
	}

	if err := m.store.AddSuppressBugs(ctx, runID, records); err != nil {
		return fmt.Errorf("importing suppressions: %w", err)
	}

	m.log.WithField("run_id", runID).
		WithField("count", len(records)).
		Info("Suppress file imported")

	return nil
}

// ExportFile writes a run's suppression records to the configured suppress
// file, replacing its previous contents.
func (m *Manager) ExportFile(ctx context.Context, runID uint) error {
	if m.filePath == "" {
		return fmt.Errorf("no suppress file configured")
	}

	records, err := m.store.GetSuppressedBugs(ctx, runID)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Entry{
			BugHash:  rec.BugHash,
			HashType: rec.HashType,
			Comment:  rec.Comment,
		})
	}

	if err := WriteFile(m.filePath, entries); err != nil {
		return err
	}

	m.log.WithField("run_id", runID).
		WithField("count", len(entries)).
		Info("Suppress file exported")

	return nil
}

// mirrorAdd upserts the affected hashes into the suppress file.
func (m *Manager) mirrorAdd() store.MirrorFunc {
	if m.filePath == "" {
		return nil
	}

	return func(records []store.SuppressBug) error {
		entries, err := ParseFile(m.filePath)
		if err != nil {
			return err
		}

		for _, rec := range records {
			entries = upsertEntry(entries, Entry{
				BugHash:  rec.BugHash,
				HashType: rec.HashType,
				Comment:  rec.Comment,
			})
		}

		return WriteFile(m.filePath, entries)
	}
}

// mirrorRemove drops the affected hashes from the suppress file.
func (m *Manager) mirrorRemove() store.MirrorFunc {
	if m.filePath == "" {
		return nil
	}

	return func(records []store.SuppressBug) error {
		entries, err := ParseFile(m.filePath)
		if err != nil {
			return err
		}

		removed := make(map[string]struct{}, len(records))
		for _, rec := range records {
			removed[rec.BugHash] = struct{}{}
		}

		kept := entries[:0]

		for _, e := range entries {
			if _, drop := removed[e.BugHash]; !e.IsPath() && drop {
				continue
			}

			kept = append(kept, e)
		}

		return WriteFile(m.filePath, kept)
	}
}

func upsertEntry(entries []Entry, entry Entry) []Entry {
	for i, e := range entries {
		if !e.IsPath() && e.BugHash == entry.BugHash {
			entries[i] = entry

			return entries
		}
	}

	return append(entries, entry)
}
