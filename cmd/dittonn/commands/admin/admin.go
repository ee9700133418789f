// Package admin implements the administrative subcommands that talk to a
// running primary.
package admin

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/pkg/apiclient"
	"github.com/marmos91/dittonn/pkg/config"
)

var (
	address      string
	outputFormat string
)

// Cmd is the admin subcommand.
var Cmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer a running primary",
	Long: `Query and control a running primary through its HTTP API.

The primary is reached at --address, or secondary.primary_address from the
configuration file.

Subcommands:
  status              Show the primary's storage state
  safemode            Show or change safe mode
  save-namespace      Write a fresh image from memory (requires safe mode)
  restore             Bring a removed storage directory back into service
  checkpoint-history  List the secondary's checkpoint attempts`,
}

func init() {
	Cmd.PersistentFlags().StringVar(&address, "address", "", "Primary API address (default: secondary.primary_address)")
	Cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")

	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(safeModeCmd)
	Cmd.AddCommand(saveNamespaceCmd)
	Cmd.AddCommand(restoreCmd)
	Cmd.AddCommand(historyCmd)
}

// loadConfig loads the configuration named by the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newClient returns a client for the primary named by --address or the
// configuration.
func newClient(cmd *cobra.Command) (*apiclient.Client, error) {
	if address != "" {
		return apiclient.New(address), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return apiclient.New(cfg.Secondary.PrimaryAddress), nil
}

// printResult renders data in the --output format on the command's stdout.
func printResult(cmd *cobra.Command, data any, table func(w io.Writer) error) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return output.Render(cmd.OutOrStdout(), format, data, table)
}
