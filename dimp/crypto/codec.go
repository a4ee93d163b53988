package crypto

import (
	"encoding/json"
	"fmt"
)

// KeyInfo is the portable form of a key of any kind.
type KeyInfo struct {
	Algorithm string `json:"algorithm"`
	Data      []byte `json:"data,omitempty"`
}

// Info captures k in its portable form.
func Info(k Key) KeyInfo {
	return KeyInfo{Algorithm: k.Algorithm(), Data: k.Data()}
}

var (
	publicKeyParsers = map[string]func([]byte) (PublicKey, error){
		ECC: parseECCPublicKey,
		RSA: parseRSAPublicKey,
	}
	privateKeyParsers = map[string]func([]byte) (PrivateKey, error){
		ECC: NewECCPrivateKey,
		RSA: parseRSAPrivateKey,
	}
)

// GeneratePrivateKey creates a random private key of the given algorithm.
func GeneratePrivateKey(algorithm string) (PrivateKey, error) {
	switch algorithm {
	case ECC:
		return GenerateECC()
	case RSA:
		return GenerateRSA(0)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// ParsePublicKey rebuilds a public key from its portable form.
func ParsePublicKey(info KeyInfo) (PublicKey, error) {
	parse, ok := publicKeyParsers[info.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, info.Algorithm)
	}
	return parse(info.Data)
}

// ParsePrivateKey rebuilds a private key from its portable form.
func ParsePrivateKey(info KeyInfo) (PrivateKey, error) {
	parse, ok := privateKeyParsers[info.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, info.Algorithm)
	}
	return parse(info.Data)
}

// ParseSymmetricKey rebuilds a symmetric key from its portable form.
func ParseSymmetricKey(info KeyInfo) (SymmetricKey, error) {
	return NewSymmetricKey(info.Algorithm, info.Data)
}

// MarshalKey encodes any key as JSON: {"algorithm": ..., "data": base64}.
func MarshalKey(k Key) ([]byte, error) {
	return json.Marshal(Info(k))
}

func unmarshalInfo(data []byte) (KeyInfo, error) {
	var info KeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return KeyInfo{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if info.Algorithm == "" {
		return KeyInfo{}, fmt.Errorf("%w: missing algorithm", ErrInvalidKey)
	}
	return info, nil
}

// UnmarshalPublicKey decodes the output of MarshalKey for a public key.
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	info, err := unmarshalInfo(data)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(info)
}

// UnmarshalPrivateKey decodes the output of MarshalKey for a private key.
func UnmarshalPrivateKey(data []byte) (PrivateKey, error) {
	info, err := unmarshalInfo(data)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(info)
}

// UnmarshalSymmetricKey decodes the output of MarshalKey for a symmetric key.
func UnmarshalSymmetricKey(data []byte) (SymmetricKey, error) {
	info, err := unmarshalInfo(data)
	if err != nil {
		return nil, err
	}
	return ParseSymmetricKey(info)
}
