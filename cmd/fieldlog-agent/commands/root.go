// Package commands implements the fieldlog-agent CLI, grounded on
// dittofs's cmd/dittofs/commands package layout (a persistent --config
// flag plus subcommands registered from an exported Execute()).
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time via -ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "fieldlog-agent",
	Short: "fieldlog-agent watches directories and ships JSON-lines logs to object storage",
	Long: `fieldlog-agent watches a set of directories for newline-delimited JSON log
files, parses and validates each record, batches them by size/count/timer,
and uploads sealed batches to a remote object store over a device-identity
channel.

Use "fieldlog-agent [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command. Called once from
// main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FIELDLOG_ env vars override it, built-in defaults fill unset keys")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the persistent --config
// flag.
func GetConfigFile() string {
	return cfgFile
}
