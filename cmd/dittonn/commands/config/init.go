package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample DittoNN configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittonn/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dittonn config init

  # Initialize with custom path
  dittonn config init --config /etc/dittonn/config.yaml

  # Force overwrite existing config
  dittonn config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the storage directories in the namenode and secondary sections")
	_, _ = fmt.Fprintln(out, "  2. Format the primary with: dittonn format")
	_, _ = fmt.Fprintln(out, "  3. Start it with:           dittonn namenode")
	_, _ = fmt.Fprintln(out, "  4. Start a secondary with:  dittonn secondary")
	return nil
}
