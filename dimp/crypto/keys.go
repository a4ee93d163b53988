package crypto

import (
	"bytes"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names.
const (
	ECC              = "ECC"
	RSA              = "RSA"
	ChaCha20Poly1305 = "ChaCha20-Poly1305"
	AES256GCM        = "AES-256-GCM"
	Plain            = "PLAIN"
)

var (
	ErrUnknownAlgorithm = errors.New("crypto: unknown algorithm")
	ErrInvalidKey       = errors.New("crypto: invalid key material")
	ErrSigning          = errors.New("crypto: signing failed")
	ErrEncryption       = errors.New("crypto: encryption failed")
)

// Key is what every key kind shares: an algorithm and a serialized form.
// Data returns a copy; callers may not mutate the key through it.
type Key interface {
	Algorithm() string
	Data() []byte
}

// PublicKey verifies signatures and encrypts for the owner of the matching PrivateKey.
type PublicKey interface {
	Key
	// Verify reports whether signature is valid for data. It never panics on
	// malformed input.
	Verify(data, signature []byte) bool
	Encrypt(plaintext []byte) ([]byte, error)
}

// PrivateKey signs and decrypts.
type PrivateKey interface {
	Key
	Sign(data []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	PublicKey() PublicKey
}

// SymmetricKey encrypts message bodies.
type SymmetricKey interface {
	Key
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Equal reports whether a and b are the same key: same algorithm and
// byte-identical serialized data.
func Equal(a, b Key) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Algorithm() == b.Algorithm() && bytes.Equal(a.Data(), b.Data())
}

// KeyID returns a stable content address of k: base58(BLAKE2b-256(algorithm || 0x00 || data)).
func KeyID(k Key) string {
	data := k.Data()
	buf := make([]byte, 0, len(k.Algorithm())+1+len(data))
	buf = append(buf, k.Algorithm()...)
	buf = append(buf, 0)
	buf = append(buf, data...)
	sum := blake2b.Sum256(buf)
	return base58.Encode(sum[:])
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
