// Package commands implements the loader command line interface.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loader",
		Short: "Fetch and decode resources with request deduplication and caching",
		Long: `loader fetches resources over http(s), file and oci locators, decodes them
into the requested representation and caches the results.

Use "loader [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/loader/config.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level (debug|info|warn|error)")

	root.AddCommand(newGetCmd())
	root.AddCommand(newVersionCmd())
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("loader %s (commit %s, built %s)\n", Version, Commit, Date)
		},
	}
}
