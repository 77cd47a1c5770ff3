package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton/clientcli"
)

var (
	downloadOutput  string
	downloadStdout  bool
	downloadVersion string
	downloadPresign bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <bucket> <key> [local-path]",
	Short: "Download an object",
	Long: `Download an object from a bucket.

Without --version, the latest version is retrieved. The downloaded
bytes are hashed and checked against the server-reported checksum.

Examples:
  carton-cli download media photos/cat.jpg
  carton-cli download media photos/cat.jpg ./cat.jpg
  carton-cli download --version 6d1f... media photos/cat.jpg
  carton-cli download --stdout media config.json | jq .`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "O", "", "output file path")
	downloadCmd.Flags().BoolVar(&downloadStdout, "stdout", false, "write to stdout")
	downloadCmd.Flags().StringVar(&downloadVersion, "version", "", "object version (default: latest)")
	downloadCmd.Flags().BoolVar(&downloadPresign, "presigned", false, "download through a pre-signed URL")
}

func runDownload(cmd *cobra.Command, args []string) error {
	localPath := ""
	if len(args) > 2 {
		localPath = args[2]
	}
	if downloadOutput != "" {
		localPath = downloadOutput
	}
	if downloadStdout {
		localPath = "-"
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	opts := clientcli.DownloadOptions{
		Bucket:    args[0],
		Key:       args[1],
		Version:   downloadVersion,
		LocalPath: localPath,
		Presigned: downloadPresign,
	}

	result, err := client.Download(cmd.Context(), opts)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return err
	}

	// Keep stdout clean when the object itself was written there
	if result.LocalPath == "-" {
		if jsonOutput {
			return getFormatter().FormatDownload(os.Stderr, &result)
		}
		return nil
	}

	return getFormatter().FormatDownload(os.Stdout, &result)
}
