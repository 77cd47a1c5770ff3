package main

import (
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <bucket>",
	Short: "List objects in a bucket",
	Long: `List the objects registered in a bucket.

Listing reads the server's metadata registry; objects whose
registration is still catching up may be missing from the output.

Examples:
  carton-cli list media
  carton-cli list --json media`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	result, err := client.List(cmd.Context(), args[0])
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return err
	}

	return getFormatter().FormatList(os.Stdout, result)
}
