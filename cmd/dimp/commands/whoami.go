package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/crypto"
)

func whoamiCmd() *cobra.Command {
	var printMeta bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the local identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := localIdentity(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if printMeta {
				raw, err := json.MarshalIndent(local.Meta, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(raw))
				return nil
			}
			fmt.Fprintf(out, "ID:       %s\n", local.ID)
			fmt.Fprintf(out, "Network:  %s\n", local.ID.Type())
			fmt.Fprintf(out, "Meta:     %s\n", local.Meta.Version)
			fmt.Fprintf(out, "Key:      %s %s\n", local.Meta.Key.Algorithm(), crypto.KeyID(local.Meta.Key))
			return nil
		},
	}
	cmd.Flags().BoolVar(&printMeta, "meta", false, "print the meta as JSON, for sharing")
	return cmd
}
