package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/config"
	"github.com/TheusHen/dimp/dimp/directory/badgerdb"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/session"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	cfg    config.Config
	logger *logrus.Logger
	store  *badgerdb.Store
)

func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "dimp",
		Short:        "Decentralized instant messaging node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A failed RunE skips the post-run hook.
			if store != nil {
				_ = store.Close()
				store = nil
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger, err = config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return err
			}
			store, err = badgerdb.Open(badgerdb.Config{Path: cfg.DataDir, Logger: logger})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if store == nil {
				return nil
			}
			err := store.Close()
			store = nil
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.dimp)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(keygenCmd(), whoamiCmd(), verifyMetaCmd(), groupCmd(), listenCmd(), sendCmd())
	return root
}

// localIdentity loads the identity created by keygen.
func localIdentity(ctx context.Context) (session.Local, error) {
	id, err := store.LocalID()
	if err != nil {
		return session.Local{}, fmt.Errorf("no local identity, run `dimp keygen` first: %w", err)
	}
	meta, err := store.Meta(ctx, id)
	if err != nil {
		return session.Local{}, err
	}
	priv, err := store.PrivateKeyForSignature(ctx, id)
	if err != nil {
		return session.Local{}, err
	}
	return session.Local{ID: id, Meta: meta, PrivateKey: priv}, nil
}

func parseID(s string) (identity.ID, error) {
	id, err := identity.ParseID(s)
	if err != nil {
		return identity.ID{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
