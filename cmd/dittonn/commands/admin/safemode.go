package admin

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var safeModeCmd = &cobra.Command{
	Use:       "safemode [enter|leave|get]",
	Short:     "Show or change safe mode",
	ValidArgs: []string{"enter", "leave", "get"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	Long: `Show or change the primary's safe mode. In safe mode every namespace
mutation is refused, which is required before save-namespace.

Examples:
  dittonn admin safemode
  dittonn admin safemode enter
  dittonn admin safemode leave`,
	RunE: runSafeMode,
}

func runSafeMode(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	action := "get"
	if len(args) == 1 {
		action = args[0]
	}

	var on bool
	switch action {
	case "enter":
		on, err = client.SetSafeMode(cmd.Context(), true)
	case "leave":
		on, err = client.SetSafeMode(cmd.Context(), false)
	default:
		on, err = client.SafeMode(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("safe mode %s failed: %w", action, err)
	}

	return printResult(cmd, map[string]bool{"enabled": on}, func(w io.Writer) error {
		state := "OFF"
		if on {
			state = "ON"
		}
		_, err := fmt.Fprintf(w, "Safe mode is %s\n", state)
		return err
	})
}
