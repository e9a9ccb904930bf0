// Command toru-plugind runs the plugin supervisor and IPC core as a
// standalone daemon: it loads configuration, opens the persistence layer,
// discovers and supervises plugin binaries, and serves the management API
// consumed by the outer dashboard (spec.md §3-§4).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "toru-plugind",
		Short: "Plugin supervisor and IPC core daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
