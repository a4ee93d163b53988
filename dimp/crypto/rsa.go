package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// DefaultRSABits is the modulus size used by GenerateRSA when bits is 0.
const DefaultRSABits = 2048

type rsaPrivateKey struct {
	key    *rsa.PrivateKey
	public *rsaPublicKey
}

type rsaPublicKey struct {
	key  *rsa.PublicKey
	data []byte
}

// GenerateRSA creates an RSA private key.
func GenerateRSA(bits int) (PrivateKey, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return newRSAPrivateKey(key)
}

func newRSAPrivateKey(key *rsa.PrivateKey) (*rsaPrivateKey, error) {
	pubData, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &rsaPrivateKey{
		key:    key,
		public: &rsaPublicKey{key: &key.PublicKey, data: pubData},
	}, nil
}

func parseRSAPrivateKey(data []byte) (PrivateKey, error) {
	key, err := x509.ParsePKCS1PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return newRSAPrivateKey(key)
}

func (k *rsaPrivateKey) Algorithm() string    { return RSA }
func (k *rsaPrivateKey) Data() []byte         { return x509.MarshalPKCS1PrivateKey(k.key) }
func (k *rsaPrivateKey) PublicKey() PublicKey { return k.public }

func (k *rsaPrivateKey) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.key, stdcrypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

func (k *rsaPrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.key, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func parseRSAPublicKey(data []byte) (PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &rsaPublicKey{key: key, data: clone(data)}, nil
}

func (k *rsaPublicKey) Algorithm() string { return RSA }
func (k *rsaPublicKey) Data() []byte      { return clone(k.data) }

func (k *rsaPublicKey) Verify(data, signature []byte) bool {
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(k.key, stdcrypto.SHA256, digest[:], signature) == nil
}

// Encrypt uses OAEP-SHA256. The plaintext limit for a 2048-bit key is 190 bytes,
// enough for a serialized symmetric key.
func (k *rsaPublicKey) Encrypt(plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, k.key, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return ct, nil
}
