package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
)

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create groups founded by the local identity and manage their members",
	}
	cmd.AddCommand(groupCreateCmd(), groupMembersCmd())
	return cmd
}

func groupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> [member-id...]",
		Short: "Create a group whose meta is signed by the local key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			local, err := localIdentity(ctx)
			if err != nil {
				return err
			}
			members, err := parseIDs(args[1:])
			if err != nil {
				return err
			}

			meta, err := identity.GenerateMeta(identity.MKM, local.PrivateKey, args[0])
			if err != nil {
				return err
			}
			group, err := meta.GenerateID(identity.Group, "")
			if err != nil {
				return err
			}
			barrack := directory.NewBarrack(store)
			if err := barrack.SaveMeta(ctx, group, meta); err != nil {
				return err
			}
			if err := barrack.SetMembers(ctx, store, local.ID, group, members); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"group": group.String(), "members": len(members) + 1}).Info("group created")
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %s\n", group)
			return nil
		},
	}
}

func groupMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <group-id> [member-id...]",
		Short: "Replace the members of a group founded by the local identity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			local, err := localIdentity(ctx)
			if err != nil {
				return err
			}
			group, err := parseID(args[0])
			if err != nil {
				return err
			}
			members, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			if err := directory.NewBarrack(store).SetMembers(ctx, store, local.ID, group, members); err != nil {
				return err
			}
			roster, err := store.Members(ctx, group)
			if err != nil {
				return err
			}
			for _, m := range roster {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func parseIDs(args []string) ([]identity.ID, error) {
	ids := make([]identity.ID, 0, len(args))
	for _, s := range args {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
