package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

var (
	ErrHelloIDMismatch   = errors.New("hello: meta does not match id")
	ErrHelloBadSignature = errors.New("hello: invalid signature")
	ErrHelloMissingMeta  = errors.New("hello: missing meta")
	ErrHelloMissingID    = errors.New("hello: missing id")
	ErrHelloStale        = errors.New("hello: timestamp outside allowed skew")
)

const (
	helloDomain    = "dimp-hello-v1"
	helloNonceSize = 32
)

// Hello binds a session to a DIMP identity. The signature is made with the
// key of Meta over SigningBytes().
type Hello struct {
	ID           identity.ID       `json:"id"`
	Meta         identity.Meta     `json:"meta"`
	Timestamp    int64             `json:"timestamp"`
	Nonce        []byte            `json:"nonce"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Signature    []byte            `json:"signature"`
}

// NewHello stamps a hello for id with the current time and a fresh nonce.
func NewHello(id identity.ID, meta identity.Meta, capabilities map[string]string) (Hello, error) {
	h := Hello{
		ID:           id,
		Meta:         meta,
		Timestamp:    time.Now().Unix(),
		Nonce:        make([]byte, helloNonceSize),
		Capabilities: maps.Clone(capabilities),
	}
	if h.Capabilities == nil {
		h.Capabilities = map[string]string{}
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return Hello{}, err
	}
	return h, nil
}

// SigningBytes is the domain tag followed by length-prefixed fields, the
// timestamp as 8 big-endian bytes and capabilities sorted by name.
func (h Hello) SigningBytes() ([]byte, error) {
	if h.Meta.Key == nil {
		return nil, ErrHelloMissingMeta
	}

	buf := []byte(helloDomain)
	buf = appendField(buf, h.ID.String())
	buf = appendField(buf, h.Meta.Key.Algorithm())
	buf = appendField(buf, string(h.Meta.Key.Data()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Timestamp))
	buf = appendField(buf, string(h.Nonce))
	for _, name := range slices.Sorted(maps.Keys(h.Capabilities)) {
		buf = appendField(buf, name)
		buf = appendField(buf, h.Capabilities[name])
	}
	return buf, nil
}

func appendField(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func (h *Hello) Sign(priv crypto.PrivateKey) error {
	msg, err := h.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := priv.Sign(msg)
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

// Verify checks that Meta binds to ID and that the signature was made with
// Meta's key.
func (h Hello) Verify() error {
	if h.Meta.Key == nil {
		return ErrHelloMissingMeta
	}
	if !h.Meta.MatchID(h.ID) {
		return ErrHelloIDMismatch
	}
	msg, err := h.SigningBytes()
	if err != nil {
		return err
	}
	if !h.Meta.Key.Verify(msg, h.Signature) {
		return ErrHelloBadSignature
	}
	return nil
}

// CheckFresh rejects a hello whose timestamp is further than skew from now.
func (h Hello) CheckFresh(now time.Time, skew time.Duration) error {
	d := now.Sub(time.Unix(h.Timestamp, 0))
	if d < 0 {
		d = -d
	}
	if d > skew {
		return fmt.Errorf("%w: %s", ErrHelloStale, d)
	}
	return nil
}

func EncodeHello(h Hello) ([]byte, error) { return json.Marshal(h) }

// DecodeHello parses a hello payload. It does not verify it.
func DecodeHello(payload []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(payload, &h); err != nil {
		return Hello{}, err
	}
	if h.ID.IsZero() {
		return Hello{}, ErrHelloMissingID
	}
	if h.Meta.Key == nil {
		return Hello{}, ErrHelloMissingMeta
	}
	return h, nil
}
