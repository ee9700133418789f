package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective DittoNN configuration, defaults included.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  dittonn config show

  # Show as JSON
  dittonn config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if format == output.FormatTable {
		return fmt.Errorf("config show supports yaml or json output")
	}
	return output.Render(os.Stdout, format, cfg, nil)
}
