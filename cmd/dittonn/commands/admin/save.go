package admin

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/cli/output"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

var saveNamespaceCmd = &cobra.Command{
	Use:   "save-namespace",
	Short: "Write a fresh image from memory",
	Long: `Write the in-memory namespace to a new image in every image directory
and start a fresh edit log. The primary must be in safe mode.

Examples:
  dittonn admin safemode enter
  dittonn admin save-namespace
  dittonn admin safemode leave`,
	RunE: runSaveNamespace,
}

func runSaveNamespace(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	st, err := client.SaveNamespace(cmd.Context())
	if err != nil {
		if merrs.IsPreconditionError(err) {
			return fmt.Errorf("%w\n\nEnter safe mode first: dittonn admin safemode enter", err)
		}
		return fmt.Errorf("save-namespace failed: %w", err)
	}

	return printResult(cmd, st, func(w io.Writer) error {
		output.NewPrinter(w, true).Success(fmt.Sprintf("Namespace saved at txid %d", st.ImageTxID))
		return nil
	})
}
