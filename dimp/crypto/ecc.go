package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
)

// SeedSize is the size of the private material of an ECC key.
const SeedSize = 32

type eccPrivateKey struct {
	seed    []byte
	signing ed25519.PrivateKey
	box     boxKey
	public  *eccPublicKey
}

type eccPublicKey struct {
	signing ed25519.PublicKey
	box     [32]byte
}

// GenerateECC creates a random ECC private key.
func GenerateECC() (PrivateKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	return NewECCPrivateKey(seed)
}

// NewECCPrivateKey rebuilds an ECC key from its 32-byte seed. The signing and
// encryption halves are derived with HKDF under distinct labels.
func NewECCPrivateKey(seed []byte) (PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidKey
	}
	signingSeed, err := DeriveKey(seed, nil, []byte(infoECCSigning), ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	boxSeed, err := DeriveKey(seed, nil, []byte(infoECCEncryption), 32)
	if err != nil {
		return nil, err
	}

	k := &eccPrivateKey{
		seed:    clone(seed),
		signing: ed25519.NewKeyFromSeed(signingSeed),
		box:     newBoxKey(boxSeed),
	}
	k.public = &eccPublicKey{
		signing: k.signing.Public().(ed25519.PublicKey),
		box:     k.box.public,
	}
	return k, nil
}

func (k *eccPrivateKey) Algorithm() string    { return ECC }
func (k *eccPrivateKey) Data() []byte         { return clone(k.seed) }
func (k *eccPrivateKey) PublicKey() PublicKey { return k.public }

func (k *eccPrivateKey) Sign(data []byte) ([]byte, error) {
	if len(k.signing) != ed25519.PrivateKeySize {
		return nil, ErrSigning
	}
	return ed25519.Sign(k.signing, data), nil
}

// Decrypt opens a box sealed to the matching public key.
func (k *eccPrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return k.box.openBox(ciphertext)
}

func parseECCPublicKey(data []byte) (PublicKey, error) {
	if len(data) != ed25519.PublicKeySize+32 {
		return nil, ErrInvalidKey
	}
	k := &eccPublicKey{signing: ed25519.PublicKey(clone(data[:ed25519.PublicKeySize]))}
	copy(k.box[:], data[ed25519.PublicKeySize:])
	var zero [32]byte
	if k.box == zero {
		return nil, ErrInvalidKey
	}
	return k, nil
}

func (k *eccPublicKey) Algorithm() string { return ECC }

// Data returns ed25519 public (32 bytes) || x25519 public (32 bytes).
func (k *eccPublicKey) Data() []byte {
	out := make([]byte, 0, ed25519.PublicKeySize+32)
	out = append(out, k.signing...)
	return append(out, k.box[:]...)
}

func (k *eccPublicKey) Verify(data, signature []byte) bool {
	if len(k.signing) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.signing, data, signature)
}

// Encrypt seals plaintext to the key owner with a fresh ephemeral X25519 key.
func (k *eccPublicKey) Encrypt(plaintext []byte) ([]byte, error) {
	return sealBox(k.box, plaintext)
}
