package admin

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <directory>...",
	Short: "Bring removed storage directories back into service",
	Long: `Ask the primary to restore storage directories it removed after an I/O
error. A restored directory receives a copy of the current image and edit
log before it is used again.

Examples:
  dittonn admin restore /data/name2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	var st *namenode.Status
	for _, root := range args {
		st, err = client.RestoreDirectory(cmd.Context(), root)
		if err != nil {
			return fmt.Errorf("failed to restore %s: %w", root, err)
		}
	}

	return printResult(cmd, st, func(w io.Writer) error {
		printer := output.NewPrinter(w, true)
		for _, root := range args {
			printer.Success(fmt.Sprintf("Directory %s restored", root))
		}
		if len(st.Removed) > 0 {
			printer.Warning(fmt.Sprintf("%d directories are still removed", len(st.Removed)))
		}
		return nil
	})
}
