package crypto

import (
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("crypto: invalid mnemonic")

// NewMnemonic returns a fresh 24-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// PrivateKeyFromMnemonic derives an ECC key from a BIP-39 mnemonic. The same
// mnemonic and passphrase always yield the same key.
func PrivateKeyFromMnemonic(mnemonic, passphrase string) (PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	material, err := DeriveKey(seed, nil, []byte(infoMnemonic), SeedSize)
	if err != nil {
		return nil, err
	}
	return NewECCPrivateKey(material)
}
