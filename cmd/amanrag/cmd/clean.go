package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/assets"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
)

func newCleanCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned on-disk assets",
		Long: `Scan the asset directories for documents no longer present in the
vector store and remove their page images, thumbnails, and covers.

Orphans accumulate when a deletion's asset stage failed or when the
vector store was reset out of band. Run while the server is stopped;
the scan reads the vector store directly.`,
		Example: `  # Report what would be removed
  amanrag clean --dry-run

  # Remove orphaned assets
  amanrag clean`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report orphans without removing them")

	return cmd
}

func runClean(cmd *cobra.Command, dryRun bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	vs, err := store.NewQdrant(store.QdrantConfig{
		Host:             cfg.Qdrant.Host,
		Port:             cfg.Qdrant.Port,
		APIKey:           cfg.Qdrant.APIKey,
		UseTLS:           cfg.Qdrant.UseTLS,
		VisualCollection: cfg.Qdrant.VisualCollection,
		TextCollection:   cfg.Qdrant.TextCollection,
		Timeout:          time.Duration(cfg.Qdrant.TimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	ids, err := vs.ListDocIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing documents failed: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	assetStore, err := assets.NewStore(assets.Config{
		PageImagesDir: cfg.Data.PageImagesDir(),
		CoversDir:     cfg.Data.CoversDir(),
	}, logger)
	if err != nil {
		return err
	}

	orphans, err := assetStore.SweepOrphans(known, dryRun)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		out.Success("No orphaned assets found")
		return nil
	}

	if dryRun {
		out.Statusf("🔍", "Would remove assets for %d orphaned documents:", len(orphans))
	} else {
		out.Statusf("🧹", "Removed assets for %d orphaned documents:", len(orphans))
	}
	for _, id := range orphans {
		out.Status("", "  "+id)
	}
	return nil
}
