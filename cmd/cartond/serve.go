package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton"
	"github.com/mbrennan/carton/config"
	"github.com/mbrennan/carton/filesystem"
	cartonhttp "github.com/mbrennan/carton/http"
	"github.com/mbrennan/carton/metadata"
	"github.com/mbrennan/carton/multipart"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the carton HTTP server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5710, "HTTP server port")
	serveCmd.Flags().String("base-url", "", "externally visible base URL used in pre-signed URLs")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	if cfg.Presign.Secret == "" {
		return errors.New("presign.secret is required to serve pre-signed URLs")
	}

	var registry carton.MetadataRegistry
	if cfg.Metadata.Enabled {
		reg, cleanup, err := metadata.Connect(ctx, cfg.Metadata.Registry)
		if err != nil {
			return fmt.Errorf("connect metadata registry: %w", err)
		}
		defer cleanup()
		registry = reg
		slog.Info("connected to metadata registry", "type", cfg.Metadata.Registry.Type)
	} else {
		slog.Warn("metadata registry disabled, listing unavailable")
	}

	storageRoot, err := openDir(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer func() { _ = storageRoot.Close() }()

	stagingRoot, err := openDir(cfg.Storage.StagingPath)
	if err != nil {
		return fmt.Errorf("open staging root: %w", err)
	}
	defer func() { _ = stagingRoot.Close() }()

	store := filesystem.New(storageRoot)
	uploads := multipart.NewCoordinator(stagingRoot, store, cfg.Multipart.TTL)
	signer := carton.NewSigner([]byte(cfg.Presign.Secret), cfg.Server.BaseURL)

	service, err := carton.NewService(store, uploads, registry, signer, carton.ServiceConfig{})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	uploads.RunReclaimer(ctx, cfg.Multipart.SweepInterval, cfg.Multipart.TTL)

	handlerConfig := cartonhttp.HandlerConfig{
		CORS:          cfg.CORS,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	}
	handler := cartonhttp.NewHandler(&handlerConfig, service)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "storage", cfg.Storage.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// openDir creates the directory if needed and opens it as a sandboxed root.
func openDir(path string) (*os.Root, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return os.OpenRoot(path)
}
