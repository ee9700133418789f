package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/internal/cli/prompt"
	"github.com/marmos91/dittonn/pkg/config"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

var (
	formatForce     bool
	formatClusterID string
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Format the primary's storage directories",
	Long: `Initialize the namenode image and edits directories with a new, empty
namespace. Every file in the directories is removed.

Examples:
  # Format the directories listed in the config
  dittonn format

  # Reformat without asking
  dittonn format --force --cluster-id CID-prod`,
	RunE: runFormat,
}

func init() {
	formatCmd.Flags().BoolVar(&formatForce, "force", false, "Skip the confirmation when directories are already formatted")
	formatCmd.Flags().StringVar(&formatClusterID, "cluster-id", "", "Cluster ID to record (default: namenode.cluster_id or generated)")
}

func runFormat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	dirs := append(append([]string{}, cfg.Namenode.ImageDirs...), cfg.Namenode.EditsDirs...)
	if namenode.IsFormatted(dirs) {
		ok, err := prompt.ConfirmWithForce("Storage directories are already formatted. Erase the namespace", "erase", formatForce)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("format aborted")
		}
	}

	clusterID := formatClusterID
	if clusterID == "" {
		clusterID = cfg.Namenode.ClusterID
	}

	info, err := namenode.Format(cfg.Namenode.ImageDirs, cfg.Namenode.EditsDirs, namenode.FormatOptions{ClusterID: clusterID})
	if err != nil {
		return fmt.Errorf("format failed: %w", err)
	}

	printer := output.DefaultPrinter()
	printer.Success("Storage directories formatted")
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Namespace ID", fmt.Sprint(info.NamespaceID)},
		{"Cluster ID", info.ClusterID},
		{"Block pool ID", info.BlockPoolID},
		{"Layout version", fmt.Sprint(info.LayoutVersion)},
	})
}
