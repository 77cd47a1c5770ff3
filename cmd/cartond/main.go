package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "cartond",
	Short:   "Self-hosted object storage daemon",
	Long: `Cartond is a self-hosted object storage daemon providing atomic
object commits, resumable multipart uploads and pre-signed URLs over
a REST API backed by local filesystem storage.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("storage-path", "", "object storage directory (default: ./data, env: CARTON_STORAGE_PATH)")
	rootCmd.PersistentFlags().String("staging-path", "", "multipart staging directory (default: ./staging, env: CARTON_STORAGE_STAGING_PATH)")
	rootCmd.PersistentFlags().String("presign-secret", "", "HMAC secret for pre-signed URLs (env: CARTON_PRESIGN_SECRET)")
	rootCmd.PersistentFlags().String("metadata-type", "", "metadata registry type: sqlite, postgres (default: sqlite, env: CARTON_METADATA_REGISTRY_TYPE)")
	rootCmd.PersistentFlags().String("metadata-dsn", "", "metadata registry connection string (default: carton.db, env: CARTON_METADATA_REGISTRY_DSN)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFiles, _ := cmd.Flags().GetStringSlice("config")
	return config.Load(configFiles, cmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
