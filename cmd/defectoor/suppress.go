package main

import (
	"context"
	"fmt"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/defectoor/defectoor/pkg/suppress"
	"github.com/spf13/cobra"
)

var suppressRunID uint

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage suppress file contents",
}

var suppressImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace a run's suppressions with the suppress file contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSuppressManager(cmd,
			func(ctx context.Context, mgr *suppress.Manager) error {
				return mgr.ImportFile(ctx, suppressRunID)
			})
	},
}

var suppressExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a run's suppressions to the suppress file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSuppressManager(cmd,
			func(ctx context.Context, mgr *suppress.Manager) error {
				return mgr.ExportFile(ctx, suppressRunID)
			})
	},
}

func init() {
	suppressCmd.PersistentFlags().UintVar(&suppressRunID, "run", 0,
		"run ID (required)")

	_ = suppressCmd.MarkPersistentFlagRequired("run")

	suppressCmd.AddCommand(suppressImportCmd)
	suppressCmd.AddCommand(suppressExportCmd)
	rootCmd.AddCommand(suppressCmd)
}

func withSuppressManager(
	cmd *cobra.Command,
	fn func(ctx context.Context, mgr *suppress.Manager) error,
) error {
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

	if cfg.Ingest.SuppressFile == "" {
		return fmt.Errorf("ingest.suppress_file is required in config")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	return fn(ctx, suppress.NewManager(log, st, cfg.Ingest.SuppressFile))
}
