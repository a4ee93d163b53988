package identity

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/TheusHen/dimp/dimp/crypto"
)

func newMeta(t *testing.T, version MetaVersion, seed string) (Meta, crypto.PrivateKey) {
	t.Helper()
	priv, err := crypto.GenerateECC()
	if err != nil {
		t.Fatalf("GenerateECC: %v", err)
	}
	meta, err := GenerateMeta(version, priv, seed)
	if err != nil {
		t.Fatalf("GenerateMeta: %v", err)
	}
	return meta, priv
}

func TestAddressDerivationStable(t *testing.T) {
	cases := []struct {
		version MetaVersion
		seed    string
	}{
		{MKM, "moky"},
		{BTC, ""},
		{ExBTC, "hulk"},
		{ExBTC, ""},
		{ETH, ""},
		{ExETH, "baloo"},
	}
	for _, tc := range cases {
		meta, _ := newMeta(t, tc.version, tc.seed)
		addr1, err := meta.GenerateAddress(User)
		if err != nil {
			t.Fatalf("%s GenerateAddress: %v", tc.version, err)
		}
		addr2, _ := DeriveAddress(meta.Version, meta.Key, meta.Seed, meta.Fingerprint, User)
		if addr1 != addr2 {
			t.Fatalf("%s derivation not deterministic", tc.version)
		}
		if addr1.Network() != User {
			t.Fatalf("%s network not recoverable: %v", tc.version, addr1.Network())
		}

		parsed, err := ParseAddress(addr1.String())
		if err != nil {
			t.Fatalf("%s ParseAddress(%q): %v", tc.version, addr1, err)
		}
		if parsed != addr1 {
			t.Fatalf("%s ParseAddress mismatch", tc.version)
		}
		if !VerifyAddress(meta, addr1) {
			t.Fatalf("%s VerifyAddress rejected its own address", tc.version)
		}
	}
}

func TestGroupAddressCarriesNetwork(t *testing.T) {
	meta, _ := newMeta(t, MKM, "group-1")
	addr, err := meta.GenerateAddress(Group)
	if err != nil {
		t.Fatalf("GenerateAddress: %v", err)
	}
	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if parsed.Network() != Group || !parsed.Network().IsGroup() {
		t.Fatalf("expected group network, got %v", parsed.Network())
	}
	user, _ := meta.GenerateAddress(User)
	if user == addr {
		t.Fatalf("user and group addresses should differ")
	}

	eth, _ := newMeta(t, ETH, "")
	if _, err := eth.GenerateAddress(Group); err != ErrUnsupportedNetwork {
		t.Fatalf("expected ErrUnsupportedNetwork for ETH group, got %v", err)
	}
}

func TestBindingSoundness(t *testing.T) {
	m1, _ := newMeta(t, MKM, "moky")
	m2, _ := newMeta(t, MKM, "moky")
	a1, _ := m1.GenerateAddress(User)
	a2, _ := m2.GenerateAddress(User)
	if a1 == a2 {
		t.Fatalf("different keys produced the same address")
	}
	if VerifyAddress(m2, a1) || VerifyAddress(m1, a2) {
		t.Fatalf("address verified against a foreign meta")
	}
}

func TestKeyMutationChangesAddress(t *testing.T) {
	cases := []struct {
		version MetaVersion
		seed    string
	}{
		{MKM, "moky"},
		{BTC, ""},
		{ExBTC, "hulk"},
		{ETH, ""},
		{ExETH, "baloo"},
	}
	for _, tc := range cases {
		meta, _ := newMeta(t, tc.version, tc.seed)
		addr, err := meta.GenerateAddress(User)
		if err != nil {
			t.Fatalf("%s GenerateAddress: %v", tc.version, err)
		}

		info := crypto.Info(meta.Key)
		info.Data[0] ^= 1
		mutated, err := crypto.ParsePublicKey(info)
		if err != nil {
			t.Fatalf("%s ParsePublicKey: %v", tc.version, err)
		}
		derived, err := DeriveAddress(meta.Version, mutated, meta.Seed, meta.Fingerprint, User)
		if err != nil {
			t.Fatalf("%s DeriveAddress: %v", tc.version, err)
		}
		if derived == addr {
			t.Fatalf("%s address unchanged after flipping a key bit", tc.version)
		}

		swapped := meta
		swapped.Key = mutated
		if VerifyAddress(swapped, addr) {
			t.Fatalf("%s mutated key verified against the original address", tc.version)
		}
	}
}

func TestSeedForgeryRejected(t *testing.T) {
	meta, _ := newMeta(t, MKM, "moky")
	addr, _ := meta.GenerateAddress(User)

	forged := meta
	forged.Seed = "hulk"
	if forged.Valid() {
		t.Fatalf("meta with swapped seed is valid")
	}
	if VerifyAddress(forged, addr) {
		t.Fatalf("forged seed accepted")
	}

	_, otherPriv := newMeta(t, MKM, "moky")
	fp, _ := otherPriv.Sign([]byte("moky"))
	stolen := Meta{Version: MKM, Key: meta.Key, Seed: "moky", Fingerprint: fp}
	if VerifyAddress(stolen, addr) {
		t.Fatalf("fingerprint signed by another key accepted")
	}
}

func TestGenerateMetaSeedRules(t *testing.T) {
	priv, _ := crypto.GenerateECC()
	if _, err := GenerateMeta(MKM, priv, ""); err != ErrSeedRequired {
		t.Fatalf("expected ErrSeedRequired, got %v", err)
	}
	if _, err := GenerateMeta(BTC, priv, "moky"); err != ErrSeedNotAllowed {
		t.Fatalf("expected ErrSeedNotAllowed, got %v", err)
	}
	if _, err := GenerateMeta(MetaVersion(9), priv, ""); err != ErrUnknownVersion {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestMatchKeyAndID(t *testing.T) {
	meta, priv := newMeta(t, MKM, "moky")
	other, _ := newMeta(t, MKM, "moky")
	if !meta.MatchKey(priv.PublicKey()) {
		t.Fatalf("MatchKey rejected own key")
	}
	if meta.MatchKey(other.Key) {
		t.Fatalf("MatchKey accepted foreign key")
	}

	id, err := meta.GenerateID(User, "phone")
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	if id.Name != "moky" {
		t.Fatalf("ID name should be the seed, got %q", id.Name)
	}
	if !meta.MatchID(id) {
		t.Fatalf("MatchID rejected own ID")
	}
	renamed := id
	renamed.Name = "hulk"
	if meta.MatchID(renamed) {
		t.Fatalf("MatchID accepted wrong name")
	}
	if other.MatchID(id) {
		t.Fatalf("MatchID accepted foreign meta")
	}
}

func TestIDParseAndEqual(t *testing.T) {
	meta, _ := newMeta(t, MKM, "moky")
	id, _ := meta.GenerateID(User, "")
	s := id.String()
	if !strings.HasPrefix(s, "moky@") {
		t.Fatalf("unexpected ID string %q", s)
	}

	withTerminal, err := ParseID(s + "/laptop")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if withTerminal.Terminal != "laptop" {
		t.Fatalf("terminal not parsed")
	}
	if !withTerminal.Equal(id) {
		t.Fatalf("terminal should not affect equality")
	}
	if withTerminal.Bare() != id {
		t.Fatalf("Bare should strip the terminal")
	}
	if withTerminal.String() != s+"/laptop" {
		t.Fatalf("String round trip mismatch")
	}

	for _, bad := range []string{"", "@" + id.Address.String(), s + "/", "moky@notanaddress"} {
		if _, err := ParseID(bad); err == nil {
			t.Fatalf("ParseID(%q) should fail", bad)
		}
	}
}

func TestBroadcastIDs(t *testing.T) {
	anyone, err := ParseID("anyone@anywhere")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if !anyone.Equal(Anyone) || !anyone.IsBroadcast() || !anyone.IsUser() {
		t.Fatalf("anyone@anywhere misparsed: %+v", anyone)
	}
	everyone, _ := ParseID("everyone@everywhere")
	if !everyone.Equal(Everyone) || !everyone.IsGroup() {
		t.Fatalf("everyone@everywhere misparsed: %+v", everyone)
	}
	meta, _ := newMeta(t, BTC, "")
	if VerifyAddress(meta, AnyAddress) {
		t.Fatalf("broadcast address verified against a meta")
	}
}

func TestAddressChecksum(t *testing.T) {
	meta, _ := newMeta(t, BTC, "")
	addr, _ := meta.GenerateAddress(User)
	s := []byte(addr.String())
	last := s[len(s)-1]
	if last == '1' {
		s[len(s)-1] = '2'
	} else {
		s[len(s)-1] = '1'
	}
	if _, err := ParseAddress(string(s)); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress for corrupted checksum, got %v", err)
	}

	eth, _ := newMeta(t, ETH, "")
	ethAddr, _ := eth.GenerateAddress(User)
	flipped := []byte(ethAddr.String())
	for i := 2; i < len(flipped); i++ {
		c := flipped[i]
		if c >= 'a' && c <= 'f' {
			flipped[i] = c - 'a' + 'A'
			break
		}
		if c >= 'A' && c <= 'F' {
			flipped[i] = c - 'A' + 'a'
			break
		}
	}
	if _, err := ParseAddress(string(flipped)); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress for broken EIP-55 casing, got %v", err)
	}
}

func TestFounder(t *testing.T) {
	member, memberPriv := newMeta(t, MKM, "moky")
	memberID, _ := member.GenerateID(User, "")

	group, err := GenerateMeta(MKM, memberPriv, "Group-1")
	if err != nil {
		t.Fatalf("GenerateMeta: %v", err)
	}
	groupID, _ := group.GenerateID(Group, "")

	if !IsFounder(member, group) {
		t.Fatalf("IsFounder rejected the founder")
	}
	if !VerifyFounder(memberID, member, groupID, group) {
		t.Fatalf("VerifyFounder rejected the founder chain")
	}

	stranger, _ := newMeta(t, MKM, "hulk")
	strangerID, _ := stranger.GenerateID(User, "")
	if IsFounder(stranger, group) || VerifyFounder(strangerID, stranger, groupID, group) {
		t.Fatalf("stranger accepted as founder")
	}
	if VerifyFounder(groupID, group, memberID, member) {
		t.Fatalf("roles swapped should fail")
	}
}

func TestMetaJSON(t *testing.T) {
	meta, _ := newMeta(t, MKM, "moky")
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Meta
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Version != meta.Version || decoded.Seed != meta.Seed || !decoded.MatchKey(meta.Key) {
		t.Fatalf("meta changed across JSON")
	}

	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	obj["seed"] = "hulk"
	tampered, _ := json.Marshal(obj)
	if err := json.Unmarshal(tampered, &decoded); err == nil {
		t.Fatalf("tampered meta accepted")
	}
}

func BenchmarkVerifyAddress(b *testing.B) {
	priv, _ := crypto.GenerateECC()
	meta, _ := GenerateMeta(MKM, priv, "moky")
	addr, _ := meta.GenerateAddress(User)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyAddress(meta, addr)
	}
}

func TestParseMetaVersion(t *testing.T) {
	for _, v := range []MetaVersion{MKM, BTC, ExBTC, ETH, ExETH} {
		got, err := ParseMetaVersion(strings.ToLower(v.String()))
		if err != nil || got != v {
			t.Fatalf("ParseMetaVersion(%s) = %v, %v", v, got, err)
		}
	}
	if _, err := ParseMetaVersion("RSA"); err != ErrUnknownVersion {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}
