package admin

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	"github.com/marmos91/dittonn/internal/cli/timeutil"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metadata/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "checkpoint-history",
	Short: "List the secondary's checkpoint attempts",
	Long: `List the checkpoint attempts recorded by the secondary, newest first.

The journal is read from secondary.history.path and is locked while the
secondary runs; run this on the secondary's host while it is stopped, or
against a copy of the journal.

Examples:
  dittonn admin checkpoint-history
  dittonn admin checkpoint-history --limit 5 -o json`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of attempts to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	journal, err := history.Open(cfg.Secondary.History.Path, history.Options{})
	if err != nil {
		return fmt.Errorf("failed to open checkpoint history at %s: %w", cfg.Secondary.History.Path, err)
	}
	defer func() { _ = journal.Close() }()

	attempts, err := journal.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	return printResult(cmd, attempts, func(w io.Writer) error { return printAttempts(w, attempts) })
}

func printAttempts(w io.Writer, attempts []checkpoint.Attempt) error {
	if len(attempts) == 0 {
		_, err := fmt.Fprintln(w, "No checkpoint attempts recorded")
		return err
	}

	table := output.NewTableData("STARTED", "STATE", "TRANSFERRED", "TXID", "DURATION", "ERROR")
	for _, a := range attempts {
		state := a.State
		if a.FailedIn != "" {
			state = fmt.Sprintf("%s (in %s)", a.State, a.FailedIn)
		}
		table.AddRow(
			timeutil.FormatTime(a.Started),
			state,
			fmt.Sprint(a.Transferred),
			fmt.Sprint(a.MergedTxID),
			timeutil.FormatElapsed(a.Started, a.Finished),
			a.Error,
		)
	}
	return output.PrintTable(w, table)
}
