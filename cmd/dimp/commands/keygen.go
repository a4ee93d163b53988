package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

func keygenCmd() *cobra.Command {
	var (
		name       string
		algorithm  string
		mnemonic   string
		passphrase string
		network    string
		terminal   string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create an identity and make it the local one",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := cfg.Version()
			if err != nil {
				return err
			}
			entity, err := identity.ParseEntityType(network)
			if err != nil {
				return err
			}

			var priv crypto.PrivateKey
			switch algorithm {
			case crypto.ECC:
				if mnemonic == "" {
					if mnemonic, err = crypto.NewMnemonic(); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Mnemonic (write it down):\n  %s\n", mnemonic)
				}
				priv, err = crypto.PrivateKeyFromMnemonic(mnemonic, passphrase)
			case crypto.RSA:
				if mnemonic != "" {
					return fmt.Errorf("--mnemonic only applies to %s keys", crypto.ECC)
				}
				priv, err = crypto.GenerateRSA(0)
			default:
				return fmt.Errorf("unsupported key algorithm %q", algorithm)
			}
			if err != nil {
				return err
			}

			seed := name
			if !version.AllowsSeed() {
				seed = ""
			}
			meta, err := identity.GenerateMeta(version, priv, seed)
			if err != nil {
				return err
			}
			id, err := meta.GenerateID(entity, terminal)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := store.SaveMeta(ctx, id, meta); err != nil {
				return err
			}
			if err := store.SavePrivateKey(ctx, id, priv, true); err != nil {
				return err
			}
			if err := store.SetLocalID(id); err != nil {
				return err
			}
			logger.WithField("id", id.String()).Info("identity created")
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "ID name; also the meta seed for versions that take one")
	cmd.Flags().StringVar(&algorithm, "algorithm", crypto.ECC, "key algorithm (ECC or RSA)")
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "restore an ECC key from this BIP-39 mnemonic")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "optional BIP-39 passphrase")
	cmd.Flags().StringVar(&network, "network", "user", "entity type (user, group, station, bot, ...)")
	cmd.Flags().StringVar(&terminal, "terminal", "", "terminal (device) suffix")
	return cmd
}
