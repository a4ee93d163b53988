package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

func newIdentity(t *testing.T, seed string) (identity.ID, identity.Meta, crypto.PrivateKey) {
	t.Helper()
	priv, err := crypto.GenerateECC()
	if err != nil {
		t.Fatalf("GenerateECC: %v", err)
	}
	meta, err := identity.GenerateMeta(identity.MKM, priv, seed)
	if err != nil {
		t.Fatalf("GenerateMeta: %v", err)
	}
	id, err := meta.GenerateID(identity.User, "")
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	return id, meta, priv
}

func TestHelloSignAndVerify(t *testing.T) {
	id, meta, priv := newIdentity(t, "moki")

	hello, err := NewHello(id, meta, map[string]string{"version": "1", "compression": "lz4"})
	if err != nil {
		t.Fatalf("NewHello: %v", err)
	}
	if err := hello.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(hello.Signature) == 0 {
		t.Fatalf("expected signature")
	}
	if err := hello.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	encoded, err := EncodeHello(hello)
	if err != nil {
		t.Fatalf("EncodeHello: %v", err)
	}
	decoded, err := DecodeHello(encoded)
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("Verify after decode: %v", err)
	}
	if !decoded.ID.Equal(id) {
		t.Fatalf("ID mismatch")
	}
	if decoded.Capabilities["compression"] != "lz4" {
		t.Fatalf("capabilities mismatch")
	}
}

func TestHelloVerifyFailures(t *testing.T) {
	id, meta, priv := newIdentity(t, "moki")
	hello, _ := NewHello(id, meta, nil)
	_ = hello.Sign(priv)

	tampered := hello
	tampered.Signature = append([]byte(nil), hello.Signature...)
	tampered.Signature[0] ^= 0xff
	if err := tampered.Verify(); err != ErrHelloBadSignature {
		t.Fatalf("expected ErrHelloBadSignature, got %v", err)
	}

	replayed := hello
	replayed.Nonce = make([]byte, 32)
	if err := replayed.Verify(); err != ErrHelloBadSignature {
		t.Fatalf("expected ErrHelloBadSignature for changed nonce, got %v", err)
	}

	// Claiming someone else's ID with our own meta.
	otherID, _, _ := newIdentity(t, "moki")
	impostor, _ := NewHello(otherID, meta, nil)
	_ = impostor.Sign(priv)
	if err := impostor.Verify(); err != ErrHelloIDMismatch {
		t.Fatalf("expected ErrHelloIDMismatch, got %v", err)
	}

	// Signed by a key other than the meta's.
	_, _, otherPriv := newIdentity(t, "hulk")
	forged, _ := NewHello(id, meta, nil)
	_ = forged.Sign(otherPriv)
	if err := forged.Verify(); err != ErrHelloBadSignature {
		t.Fatalf("expected ErrHelloBadSignature, got %v", err)
	}

	if err := (Hello{ID: id}).Verify(); err != ErrHelloMissingMeta {
		t.Fatalf("expected ErrHelloMissingMeta, got %v", err)
	}
}

func TestHelloFreshness(t *testing.T) {
	id, meta, _ := newIdentity(t, "moki")
	hello, _ := NewHello(id, meta, nil)
	now := time.Unix(hello.Timestamp, 0)

	if err := hello.CheckFresh(now.Add(time.Minute), 2*time.Minute); err != nil {
		t.Fatalf("CheckFresh: %v", err)
	}
	if err := hello.CheckFresh(now.Add(-time.Minute), 2*time.Minute); err != nil {
		t.Fatalf("CheckFresh in the past: %v", err)
	}
	if err := hello.CheckFresh(now.Add(10*time.Minute), 2*time.Minute); !errors.Is(err, ErrHelloStale) {
		t.Fatalf("expected ErrHelloStale, got %v", err)
	}
}

func TestDecodeHelloRejectsMissingFields(t *testing.T) {
	if _, err := DecodeHello([]byte(`{"timestamp":1}`)); err == nil {
		t.Fatalf("hello without id accepted")
	}
	if _, err := DecodeHello([]byte(`not json`)); err == nil {
		t.Fatalf("garbage accepted")
	}
}
