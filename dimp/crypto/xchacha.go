package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// Layout shared by ChaCha20-Poly1305 keys and ECC boxes:
//
//	nonce (24) | ciphertext | tag (16)
//
// The nonce is the holder's random 16-byte prefix followed by a big-endian
// counter of messages sealed with it.
const (
	noncePrefixSize = 16
	nonceSize       = chacha20poly1305.NonceSizeX
	tagSize         = chacha20poly1305.Overhead
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

type xchacha struct {
	aead   cipher.AEAD
	prefix [noncePrefixSize]byte
	sealed atomic.Uint64
}

func newXChaCha(key []byte) (*xchacha, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	x := &xchacha{aead: aead}
	if _, err := rand.Read(x.prefix[:]); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *xchacha) seal(plaintext, ad []byte) []byte {
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	copy(out, x.prefix[:])
	binary.BigEndian.PutUint64(out[noncePrefixSize:], x.sealed.Add(1))
	return x.aead.Seal(out, out[:nonceSize], plaintext, ad)
}

func (x *xchacha) open(box, ad []byte) ([]byte, error) {
	if len(box) < nonceSize+tagSize {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := x.aead.Open(nil, box[:nonceSize], box[nonceSize:], ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
