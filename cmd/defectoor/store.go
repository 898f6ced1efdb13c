package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/defectoor/defectoor/pkg/export"
	"github.com/defectoor/defectoor/pkg/hostinfo"
	"github.com/defectoor/defectoor/pkg/ingest"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/defectoor/defectoor/pkg/suppress"
	"github.com/spf13/cobra"
)

var (
	storeRunName string
	storeCommand string
	storeTag     string
	storeUpdate  bool
)

var storeCmd = &cobra.Command{
	Use:   "store <results-dir>",
	Short: "Store parsed analyzer results",
	Long: `Store reads parsed analyzer output from a results directory and stores
it under a named run. Re-storing an existing run name replaces its results;
with --update the new results extend the run incrementally instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runStore,
}

func init() {
	storeCmd.Flags().StringVar(&storeRunName, "name", "",
		"run name (required)")
	storeCmd.Flags().StringVar(&storeCommand, "command", "",
		"analysis command line recorded with the run")
	storeCmd.Flags().StringVar(&storeTag, "tag", "",
		"version tag recorded with the run")
	storeCmd.Flags().BoolVar(&storeUpdate, "update", false,
		"extend the run incrementally instead of replacing it")

	_ = storeCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(storeCmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	actions, err := ingest.ReadResultsDir(args[0])
	if err != nil {
		return fmt.Errorf("reading results: %w", err)
	}

	if len(actions) == 0 {
		return fmt.Errorf("no results found in %s", args[0])
	}

	log.WithFields(hostinfo.Collect(ctx).Fields()).Info("Analysis host")

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	command := storeCommand
	if command == "" {
		command = strings.Join(args, " ")
	}

	runID, err := st.AddCheckerRun(
		ctx, command, storeRunName, storeTag, storeUpdate,
	)
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	// Suppress file entries must be in place before reports are stored so
	// matching reports land already suppressed.
	if cfg.Ingest.SuppressFile != "" {
		mgr := suppress.NewManager(log, st, cfg.Ingest.SuppressFile)
		if err := mgr.ImportFile(ctx, runID); err != nil {
			return fmt.Errorf("importing suppress file: %w", err)
		}
	}

	ing := ingest.NewIngestor(
		log, st, cfg.Ingest.SkipPaths, cfg.Ingest.Workers,
	)

	ingestErr := ing.Run(ctx, runID, actions)

	if _, err := st.FinishCheckerRun(ctx, runID); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	if ingestErr != nil {
		return ingestErr
	}

	log.WithField("run", storeRunName).
		WithField("actions", len(actions)).
		Info("Results stored")

	if cfg.Export != nil && cfg.Export.Enabled {
		exp, err := export.NewExporter(log, cfg.Export)
		if err != nil {
			return fmt.Errorf("creating exporter: %w", err)
		}

		if err := exp.ExportRun(ctx, st, runID); err != nil {
			return fmt.Errorf("exporting run: %w", err)
		}
	}

	return nil
}
