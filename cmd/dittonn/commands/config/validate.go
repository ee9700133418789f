package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the DittoNN configuration file.

Checks for syntax errors, missing required fields, invalid values and
storage directories claimed twice.

Examples:
  # Validate default config
  dittonn config validate

  # Validate specific config file
  dittonn config validate --config /etc/dittonn/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if len(cfg.Namenode.ImageDirs)+len(cfg.Namenode.EditsDirs) < 2 {
		warnings = append(warnings, "Namenode has a single storage directory; losing it loses the namespace")
	}
	if cfg.Archive.Enabled && cfg.Archive.Retain == 0 {
		warnings = append(warnings, "Archive retains every image; the bucket grows without bound")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Image dirs", fmt.Sprint(cfg.Namenode.ImageDirs)},
		{"Edits dirs", fmt.Sprint(cfg.Namenode.EditsDirs)},
		{"API port", fmt.Sprint(cfg.Namenode.API.Port)},
		{"Checkpoint dirs", fmt.Sprint(cfg.Secondary.CheckpointDirs)},
		{"Checkpoint period", cfg.Secondary.Period.String()},
		{"Archive", fmt.Sprint(cfg.Archive.Enabled)},
		{"Log level", cfg.Logging.Level},
	})
}
