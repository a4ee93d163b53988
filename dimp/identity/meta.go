package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TheusHen/dimp/dimp/crypto"
)

// MetaVersion selects the address derivation algorithm. Versions are only ever
// added; the meaning of an existing version never changes.
type MetaVersion uint8

const (
	// MKM requires a seed; the address is derived from its fingerprint.
	MKM MetaVersion = 1
	// BTC derives the address from the key, without a seed.
	BTC MetaVersion = 2
	// ExBTC is BTC with an optional seed.
	ExBTC MetaVersion = 3
	// ETH derives a "0x..." address from the key; users only.
	ETH MetaVersion = 4
	// ExETH is ETH with an optional seed.
	ExETH MetaVersion = 5
)

func (v MetaVersion) known() bool { return v >= MKM && v <= ExETH }

// AllowsSeed reports whether metas of this version may carry a seed.
func (v MetaVersion) AllowsSeed() bool { return v == MKM || v == ExBTC || v == ExETH }

func (v MetaVersion) String() string {
	switch v {
	case MKM:
		return "MKM"
	case BTC:
		return "BTC"
	case ExBTC:
		return "ExBTC"
	case ETH:
		return "ETH"
	case ExETH:
		return "ExETH"
	default:
		return fmt.Sprintf("MetaVersion(%d)", uint8(v))
	}
}

// ParseMetaVersion accepts the names printed by String, case-insensitively.
func ParseMetaVersion(s string) (MetaVersion, error) {
	for v := MKM; v <= ExETH; v++ {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return 0, ErrUnknownVersion
}

var (
	ErrInvalidMeta    = errors.New("identity: invalid meta")
	ErrUnknownVersion = errors.New("identity: unknown meta version")
	ErrSeedRequired   = errors.New("identity: meta version requires a seed")
	ErrSeedNotAllowed = errors.New("identity: meta version does not allow a seed")
)

// Meta is the public record an address is derived from. It is immutable once
// built; share it freely.
type Meta struct {
	Version     MetaVersion
	Key         crypto.PublicKey
	Seed        string
	Fingerprint []byte
}

// GenerateMeta builds the Meta of priv. When seed is set, the fingerprint is
// priv's signature over it.
func GenerateMeta(version MetaVersion, priv crypto.PrivateKey, seed string) (Meta, error) {
	if !version.known() {
		return Meta{}, ErrUnknownVersion
	}
	if seed == "" && version == MKM {
		return Meta{}, ErrSeedRequired
	}
	if seed != "" && !version.AllowsSeed() {
		return Meta{}, ErrSeedNotAllowed
	}
	m := Meta{Version: version, Key: priv.PublicKey(), Seed: seed}
	if seed != "" {
		fp, err := priv.Sign([]byte(seed))
		if err != nil {
			return Meta{}, err
		}
		m.Fingerprint = fp
	}
	return m, nil
}

// Valid checks the internal consistency of m. If a seed is present, this costs
// one signature verification.
func (m Meta) Valid() bool {
	if !m.Version.known() || m.Key == nil {
		return false
	}
	if m.Seed == "" {
		return m.Version != MKM && len(m.Fingerprint) == 0
	}
	if !m.Version.AllowsSeed() {
		return false
	}
	return m.Key.Verify([]byte(m.Seed), m.Fingerprint)
}

// MatchKey reports whether key is the key published by m.
func (m Meta) MatchKey(key crypto.PublicKey) bool {
	return crypto.Equal(m.Key, key)
}

// MatchID reports whether m is the meta of id: the address must verify and the
// name must be the seed (or empty when there is none).
func (m Meta) MatchID(id ID) bool {
	if id.Name != m.Seed {
		return false
	}
	return VerifyAddress(m, id.Address)
}

// GenerateAddress derives m's address in the given network.
func (m Meta) GenerateAddress(network EntityType) (Address, error) {
	if !m.Valid() {
		return Address{}, ErrInvalidMeta
	}
	return DeriveAddress(m.Version, m.Key, m.Seed, m.Fingerprint, network)
}

// GenerateID derives the ID of m in the given network.
func (m Meta) GenerateID(network EntityType, terminal string) (ID, error) {
	addr, err := m.GenerateAddress(network)
	if err != nil {
		return ID{}, err
	}
	return NewID(m.Seed, addr, terminal), nil
}

// DeriveAddress computes the address for a key. It is pure and deterministic;
// it does not check the fingerprint (see VerifyAddress). Every version hashes
// the key data; MKM hashes key data followed by the fingerprint.
func DeriveAddress(version MetaVersion, key crypto.PublicKey, seed string, fingerprint []byte, network EntityType) (Address, error) {
	if key == nil {
		return Address{}, ErrInvalidMeta
	}
	switch version {
	case MKM:
		if seed == "" || len(fingerprint) == 0 {
			return Address{}, ErrSeedRequired
		}
		data := make([]byte, 0, len(fingerprint)+len(key.Data()))
		data = append(data, key.Data()...)
		return btcAddress(append(data, fingerprint...), network), nil
	case BTC, ExBTC:
		return btcAddress(key.Data(), network), nil
	case ETH, ExETH:
		if network != User {
			return Address{}, ErrUnsupportedNetwork
		}
		return ethAddress(key.Data()), nil
	default:
		return Address{}, ErrUnknownVersion
	}
}

// VerifyAddress reports whether address was derived from meta. The fingerprint
// is checked before the address is recomputed.
func VerifyAddress(meta Meta, address Address) bool {
	if address.IsZero() || address.IsBroadcast() || !meta.Valid() {
		return false
	}
	derived, err := DeriveAddress(meta.Version, meta.Key, meta.Seed, meta.Fingerprint, address.Network())
	if err != nil {
		return false
	}
	return derived == address
}

// IsFounder reports whether member created group: the group meta must be
// self-consistent and publish the member's key.
func IsFounder(member, group Meta) bool {
	return group.Valid() && group.MatchKey(member.Key)
}

// VerifyFounder checks the whole ownership chain: both metas bind to their IDs
// and the member founded the group.
func VerifyFounder(memberID ID, member Meta, groupID ID, group Meta) bool {
	if !memberID.IsUser() || !groupID.IsGroup() {
		return false
	}
	return member.MatchID(memberID) && group.MatchID(groupID) && IsFounder(member, group)
}

type metaJSON struct {
	Type        MetaVersion    `json:"type"`
	Key         crypto.KeyInfo `json:"key"`
	Seed        string         `json:"seed,omitempty"`
	Fingerprint []byte         `json:"fingerprint,omitempty"`
}

func (m Meta) MarshalJSON() ([]byte, error) {
	if m.Key == nil {
		return nil, ErrInvalidMeta
	}
	return json.Marshal(metaJSON{
		Type:        m.Version,
		Key:         crypto.Info(m.Key),
		Seed:        m.Seed,
		Fingerprint: m.Fingerprint,
	})
}

// UnmarshalJSON rejects metas that are not internally consistent.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw metaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	key, err := crypto.ParsePublicKey(raw.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	parsed := Meta{Version: raw.Type, Key: key, Seed: raw.Seed, Fingerprint: raw.Fingerprint}
	if !parsed.Valid() {
		return ErrInvalidMeta
	}
	*m = parsed
	return nil
}
