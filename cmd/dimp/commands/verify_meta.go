package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/identity"
)

func verifyMetaCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "verify-meta <id> <meta.json|->",
		Short: "Check that a meta binds to an ID, optionally saving it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var raw []byte
			if args[1] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}

			var meta identity.Meta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return err
			}
			if !meta.MatchID(id) {
				return fmt.Errorf("meta does not match %s", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s is bound to its meta\n", id)
			if save {
				return store.SaveMeta(cmd.Context(), id, meta)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the meta in the local directory")
	return cmd
}
