package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoshuffle/internal/cli/prompt"
)

var removeForce bool

var removeShuffleCmd = &cobra.Command{
	Use:   "remove-shuffle SHUFFLE_ID",
	Short: "Delete every remote object of a shuffle",
	Long: `Delete the data and index objects of every map output in a shuffle and
drop them from the local caches.

Examples:
  dshuffle remove-shuffle 3
  dshuffle remove-shuffle 3 --force --app app-20240101`,
	Args: cobra.ExactArgs(1),
	RunE: runRemoveShuffle,
}

func init() {
	removeShuffleCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation prompt")
}

func runRemoveShuffle(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || id < 0 {
		return fmt.Errorf("invalid shuffle id %q", args[0])
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	ok, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Delete shuffle %d of %s from %s", id, sess.cfg.AppName, sess.cfg.Storage.BaseURI), removeForce)
	if err != nil {
		return err
	}
	if !ok {
		printer.Warning("Aborted")
		return nil
	}

	if err := sess.engine.Client.RemoveShuffle(cmd.Context(), int32(id)); err != nil {
		return err
	}
	printer.Success("Shuffle %d removed", id)
	return nil
}
