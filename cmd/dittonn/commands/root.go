// Package commands implements the dittonn command line.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/cmd/dittonn/commands/admin"
	"github.com/marmos91/dittonn/cmd/dittonn/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dittonn",
	Short: "DittoNN - namespace metadata server with checkpointing",
	Long: `DittoNN keeps a file system namespace durable through an image and an
edit log replicated across storage directories. A secondary periodically
merges the edit log into a fresh image and hands it back to the primary.

Use "dittonn [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittonn/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(namenodeCmd)
	rootCmd.AddCommand(secondaryCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(admin.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
