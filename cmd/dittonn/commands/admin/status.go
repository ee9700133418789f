package admin

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the primary's storage state",
	Long: `Show the primary's namespace identity, transaction ids, safe mode and
the health of every storage directory.

Examples:
  dittonn admin status
  dittonn admin status --address http://nn1:9870 -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	st, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return printResult(cmd, st, func(w io.Writer) error { return printStatus(w, st) })
}

func printStatus(out io.Writer, st *namenode.Status) error {
	pending := "none"
	if !st.Pending.Empty() {
		pending = fmt.Sprintf("%d-%d", st.Pending.StartTxID, st.Pending.EndTxID)
	}

	if err := output.SimpleTable(out, [][2]string{
		{"Namespace ID", fmt.Sprint(st.NamespaceID)},
		{"Cluster ID", st.ClusterID},
		{"Block pool ID", st.BlockPoolID},
		{"Layout version", fmt.Sprint(st.LayoutVersion)},
		{"Image txid", fmt.Sprint(st.ImageTxID)},
		{"Last txid", fmt.Sprint(st.LastTxID)},
		{"Segment start", fmt.Sprint(st.SegmentStart)},
		{"Finalized segment", pending},
		{"Safe mode", fmt.Sprint(st.SafeMode)},
		{"Entries", fmt.Sprint(st.Entries)},
	}); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out)
	table := output.NewTableData("DIRECTORY", "ROLE", "HEALTHY")
	for _, d := range st.Directories {
		table.AddRow(d.Root, d.Role, fmt.Sprint(d.Healthy))
	}
	for _, root := range st.Removed {
		table.AddRow(root, "-", "removed")
	}
	if err := output.PrintTable(out, table); err != nil {
		return err
	}

	if len(st.Removed) > 0 {
		_, _ = fmt.Fprintf(out, "\nRestore removed directories with: dittonn admin restore %s\n", strings.Join(st.Removed, " "))
	}
	return nil
}
