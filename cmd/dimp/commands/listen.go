package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/message"
	"github.com/TheusHen/dimp/dimp/session"
)

func listenCmd() *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept sessions and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			local, err := localIdentity(ctx)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			m, err := newMessenger(local, reg)
			if err != nil {
				return err
			}
			if listenAddr == "" {
				listenAddr = cfg.Listen
			}
			if err := m.Listen(listenAddr); err != nil {
				return err
			}
			defer m.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s\n", local.ID, m.ListenAddr())

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.WithError(err).Error("metrics server stopped")
					}
				}()
				defer srv.Close()
			}

			out := cmd.OutOrStdout()
			show := func(_ context.Context, from *session.Session, msg *message.InstantMessage) error {
				switch c := msg.Content.(type) {
				case *content.Text:
					fmt.Fprintf(out, "[%s] %s: %s\n", msg.Time.Format("15:04:05"), msg.Sender, c.Text)
				default:
					fmt.Fprintf(out, "[%s] %s: <content type %#x>\n", msg.Time.Format("15:04:05"), msg.Sender, uint8(c.Type()))
				}
				return nil
			}

			for {
				sess, err := m.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.WithError(err).Warn("accept failed")
					continue
				}
				go func() {
					if err := m.Serve(ctx, sess, show); err != nil {
						logger.WithFields(logrus.Fields{"remote": sess.RemoteID().String()}).WithError(err).Debug("session closed")
					}
				}()
			}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "QUIC multiaddr to listen on (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
