package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton/config"
	"github.com/mbrennan/carton/filesystem"
	"github.com/mbrennan/carton/multipart"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Remove stale multipart uploads",
	Long: `Run one sweep over the staging area and remove multipart uploads
whose last activity is older than the configured TTL. The serve command
runs the same sweep periodically; this command is for cron-style use or
manual cleanup while the server is down.`,
	RunE: runReclaim,
}

var reclaimOlderThan time.Duration

func init() {
	reclaimCmd.Flags().DurationVar(&reclaimOlderThan, "older-than", 0, "override the configured TTL for this sweep")
	rootCmd.AddCommand(reclaimCmd)
}

func runReclaim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	stagingRoot, err := openDir(cfg.Storage.StagingPath)
	if err != nil {
		return fmt.Errorf("open staging root: %w", err)
	}
	defer func() { _ = stagingRoot.Close() }()

	storageRoot, err := openDir(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer func() { _ = storageRoot.Close() }()

	ttl := cfg.Multipart.TTL
	if reclaimOlderThan > 0 {
		ttl = reclaimOlderThan
	}

	uploads := multipart.NewCoordinator(stagingRoot, filesystem.New(storageRoot), ttl)

	slog.Info("reclaiming stale uploads", "older_than", ttl)

	removed, err := uploads.ReclaimStale(ctx, ttl)
	if err != nil {
		return fmt.Errorf("reclaim stale uploads: %w", err)
	}

	slog.Info("reclaim complete", "uploads_removed", removed)
	return nil
}
