package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format requires RIPEMD-160
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress     = errors.New("identity: invalid address")
	ErrUnsupportedNetwork = errors.New("identity: network not supported by address format")
)

// Address is the network-specific token derived from a Meta. It is a comparable
// value: two addresses are equal iff their text forms are equal.
type Address struct {
	text    string
	network EntityType
}

var (
	AnyAddress   = Address{text: "anywhere", network: Any}
	EveryAddress = Address{text: "everywhere", network: Every}
)

func (a Address) String() string      { return a.text }
func (a Address) Network() EntityType { return a.network }
func (a Address) IsZero() bool        { return a.text == "" }
func (a Address) IsBroadcast() bool   { return a.network.IsBroadcast() }

// ParseAddress recognizes the broadcast names, ETH-style "0x..." and
// BTC-style base58 addresses. Checksums are verified.
func ParseAddress(s string) (Address, error) {
	switch {
	case s == AnyAddress.text:
		return AnyAddress, nil
	case s == EveryAddress.text:
		return EveryAddress, nil
	case strings.HasPrefix(s, "0x"):
		return parseETHAddress(s)
	default:
		return parseBTCAddress(s)
	}
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.text), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// btcAddress = base58(network || RIPEMD160(SHA256(data)) || checksum)
func btcAddress(data []byte, network EntityType) Address {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	payload := make([]byte, 0, 25)
	payload = append(payload, byte(network))
	payload = h.Sum(payload)
	payload = append(payload, btcChecksum(payload)...)
	return Address{text: base58.Encode(payload), network: network}
}

func btcChecksum(prefix []byte) []byte {
	first := sha256.Sum256(prefix)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func parseBTCAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 25 {
		return Address{}, ErrInvalidAddress
	}
	check := btcChecksum(raw[:21])
	for i := range check {
		if raw[21+i] != check[i] {
			return Address{}, ErrInvalidAddress
		}
	}
	return Address{text: s, network: EntityType(raw[0])}, nil
}

// ethAddress = "0x" + EIP-55(last 20 bytes of Keccak-256(data)). ETH addresses
// carry no network byte; they are always users.
func ethAddress(data []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	sum := h.Sum(nil)
	return Address{text: eip55(sum[12:]), network: User}
}

func eip55(addr []byte) string {
	lower := hex.EncodeToString(addr)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' {
			continue
		}
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

func parseETHAddress(s string) (Address, error) {
	if len(s) != 42 {
		return Address{}, ErrInvalidAddress
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return Address{}, ErrInvalidAddress
	}
	if eip55(raw) != s {
		return Address{}, ErrInvalidAddress
	}
	return Address{text: s, network: User}, nil
}
