package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	infoECCSigning    = "dimp/ecc/signing/v1"
	infoECCEncryption = "dimp/ecc/encryption/v1"
	infoSealedBox     = "dimp/sealed-box/v1"
	infoMnemonic      = "dimp/mnemonic/v1"
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// deriveSealKey derives the one-shot key of a sealed box from the ECDH secret.
// Both public keys are mixed in so a box cannot be replayed to another recipient.
func deriveSealKey(sharedSecret []byte, ephemeralPub, recipientPub [32]byte) ([]byte, error) {
	info := make([]byte, 0, 64+len(infoSealedBox))
	info = append(info, infoSealedBox...)
	info = append(info, ephemeralPub[:]...)
	info = append(info, recipientPub[:]...)
	return DeriveKey(sharedSecret, nil, info, 32)
}
