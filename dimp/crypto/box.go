package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

const boxKeySize = curve25519.PointSize

// boxKey is the X25519 half of an ECC key.
type boxKey struct {
	scalar [boxKeySize]byte
	public [boxKeySize]byte
}

// newBoxKey clamps seed (RFC 7748) and computes the public point.
func newBoxKey(seed []byte) boxKey {
	var k boxKey
	copy(k.scalar[:], seed)
	k.scalar[0] &= 248
	k.scalar[31] &= 127
	k.scalar[31] |= 64
	curve25519.ScalarBaseMult(&k.public, &k.scalar)
	return k
}

func ephemeralBoxKey() (boxKey, error) {
	seed := make([]byte, boxKeySize)
	if _, err := rand.Read(seed); err != nil {
		return boxKey{}, err
	}
	return newBoxKey(seed), nil
}

// agree returns the secret shared with peer. Low-order points, the zero key
// among them, are rejected.
func (k boxKey) agree(peer [boxKeySize]byte) ([]byte, error) {
	return curve25519.X25519(k.scalar[:], peer[:])
}

// sealBox encrypts plaintext so only the owner of recipient can read it:
//
//	ephemeral public (32) | nonce (24) | ciphertext | tag (16)
func sealBox(recipient [boxKeySize]byte, plaintext []byte) ([]byte, error) {
	eph, err := ephemeralBoxKey()
	if err != nil {
		return nil, err
	}
	shared, err := eph.agree(recipient)
	if err != nil {
		return nil, ErrInvalidKey
	}
	x, err := boxCipher(shared, eph.public, recipient)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, boxKeySize+nonceSize+len(plaintext)+tagSize)
	out = append(out, eph.public[:]...)
	return append(out, x.seal(plaintext, eph.public[:])...), nil
}

func (k boxKey) openBox(box []byte) ([]byte, error) {
	if len(box) < boxKeySize {
		return nil, ErrCiphertextTooShort
	}
	var eph [boxKeySize]byte
	copy(eph[:], box)
	shared, err := k.agree(eph)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	x, err := boxCipher(shared, eph, k.public)
	if err != nil {
		return nil, err
	}
	return x.open(box[boxKeySize:], eph[:])
}

func boxCipher(shared []byte, eph, recipient [boxKeySize]byte) (*xchacha, error) {
	key, err := deriveSealKey(shared, eph, recipient)
	if err != nil {
		return nil, err
	}
	return newXChaCha(key)
}
