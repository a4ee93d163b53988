package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
)

// GenerateSymmetricKey creates a fresh random key of the given algorithm.
func GenerateSymmetricKey(algorithm string) (SymmetricKey, error) {
	switch algorithm {
	case Plain:
		return PlainKey(), nil
	case ChaCha20Poly1305, AES256GCM:
		data := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, data); err != nil {
			return nil, err
		}
		return NewSymmetricKey(algorithm, data)
	default:
		return nil, ErrUnknownAlgorithm
	}
}

// NewSymmetricKey rebuilds a symmetric key from its serialized data.
func NewSymmetricKey(algorithm string, data []byte) (SymmetricKey, error) {
	switch algorithm {
	case Plain:
		return PlainKey(), nil
	case ChaCha20Poly1305:
		x, err := newXChaCha(data)
		if err != nil {
			return nil, err
		}
		return &chachaKey{data: clone(data), x: x}, nil
	case AES256GCM:
		if len(data) != 32 {
			return nil, ErrInvalidKey
		}
		block, err := aes.NewCipher(data)
		if err != nil {
			return nil, ErrInvalidKey
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &aesKey{data: clone(data), gcm: gcm}, nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}

type chachaKey struct {
	data []byte
	x    *xchacha
}

func (k *chachaKey) Algorithm() string { return ChaCha20Poly1305 }
func (k *chachaKey) Data() []byte      { return clone(k.data) }

func (k *chachaKey) Encrypt(plaintext []byte) ([]byte, error) {
	return k.x.seal(plaintext, nil), nil
}

func (k *chachaKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return k.x.open(ciphertext, nil)
}

// aesKey uses random 96-bit nonces.
// Output format: nonce (12 bytes) || ciphertext || tag (16 bytes)
type aesKey struct {
	data []byte
	gcm  cipher.AEAD
}

func (k *aesKey) Algorithm() string { return AES256GCM }
func (k *aesKey) Data() []byte      { return clone(k.data) }

func (k *aesKey) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.gcm.NonceSize(), k.gcm.NonceSize()+len(plaintext)+k.gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return k.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *aesKey) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := k.gcm.NonceSize()
	if len(ciphertext) < ns+k.gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	pt, err := k.gcm.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

type plainKey struct{}

// PlainKey returns the identity transform used for broadcast messages, which
// everybody must be able to read.
func PlainKey() SymmetricKey { return plainKey{} }

func (plainKey) Algorithm() string { return Plain }
func (plainKey) Data() []byte      { return nil }

func (plainKey) Encrypt(plaintext []byte) ([]byte, error)  { return clone(plaintext), nil }
func (plainKey) Decrypt(ciphertext []byte) ([]byte, error) { return clone(ciphertext), nil }

