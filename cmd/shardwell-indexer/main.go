// Command shardwell-indexer runs one or more (index, source) indexing
// pipelines plus their merge pipelines, supervised with automatic restart.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "shardwell-indexer",
		Short: "Runs a shardwell distributed log-search indexing pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the pipeline's YAML config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"
