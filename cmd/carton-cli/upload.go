package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton/clientcli"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local-path> <bucket> [key]",
	Short: "Upload a file",
	Long: `Upload a local file to a bucket.

If key is omitted, the local file name is used. The file is hashed
before upload and the server verifies the bytes it commits against
that hash.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runUpload,
}

var (
	uploadContentType string
	uploadPresigned   bool
	uploadMultipart   bool
	uploadChunkSize   int64
)

func init() {
	uploadCmd.Flags().StringVar(&uploadContentType, "content-type", "", "content type (default: detect from extension)")
	uploadCmd.Flags().BoolVar(&uploadPresigned, "presigned", false, "upload through a pre-signed URL")
	uploadCmd.Flags().BoolVar(&uploadMultipart, "multipart", false, "upload in chunks through a multipart session")
	uploadCmd.Flags().Int64Var(&uploadChunkSize, "chunk-size", 0, "chunk size in bytes for multipart uploads (default: 8 MiB)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	opts := clientcli.UploadOptions{
		LocalPath:   args[0],
		Bucket:      args[1],
		ContentType: uploadContentType,
		Presigned:   uploadPresigned,
		Multipart:   uploadMultipart,
		ChunkSize:   uploadChunkSize,
	}
	if len(args) == 3 {
		opts.Key = args[2]
	}

	result, err := client.Upload(cmd.Context(), opts)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return err
	}

	return getFormatter().FormatUpload(os.Stdout, &result)
}
