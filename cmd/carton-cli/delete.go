package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mbrennan/carton/clientcli"
)

var (
	deleteVersion string
	deletePresign bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <bucket> <key> [key...]",
	Short: "Delete objects",
	Long: `Delete one or more objects from a bucket.

Without --version, the latest alias is removed.

Examples:
  carton-cli delete media photos/cat.jpg
  carton-cli delete media old/a.txt old/b.txt
  carton-cli delete --version 6d1f... media photos/cat.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().StringVar(&deleteVersion, "version", "", "object version (default: latest)")
	deleteCmd.Flags().BoolVar(&deletePresign, "presigned", false, "delete through pre-signed URLs")
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	opts := clientcli.DeleteOptions{
		Bucket:    args[0],
		Keys:      args[1:],
		Version:   deleteVersion,
		Presigned: deletePresign,
	}

	results, err := client.Delete(cmd.Context(), opts)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return err
	}

	if err := getFormatter().FormatDelete(os.Stdout, results); err != nil {
		return err
	}

	// Return error if any deletes failed
	for i := range results {
		if results[i].Err != nil {
			return &exitError{code: 1}
		}
	}

	return nil
}

// exitError is returned when we want to exit with a specific code
// but don't want cobra to print an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return ""
}
