package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/message"
)

func sendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <multiaddr> <id> <text>",
		Short: "Connect to a peer and send it a text message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseID(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			local, err := localIdentity(ctx)
			if err != nil {
				return err
			}
			m, err := newMessenger(local, nil)
			if err != nil {
				return err
			}
			sess, err := m.Dial(ctx, args[0], to)
			if err != nil {
				return err
			}
			defer sess.CloseWithError(0, "bye")

			env := message.NewEnvelope(local.ID, to, time.Now())
			if _, err := m.Send(ctx, sess, message.NewInstantMessage(env, content.NewText(args[2]))); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delivered")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
