// Package message holds the three states of a DIMP message and their wire form.
//
//	InstantMessage  - plaintext content
//	SecureMessage   - content encrypted with a symmetric key, key encrypted for the receiver
//	ReliableMessage - secure message signed by the sender
//
// Values are never mutated after construction; every transition builds a new one.
package message

import (
	"bytes"
	"errors"
	"time"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/identity"
)

var (
	ErrMalformed       = errors.New("message: malformed message")
	ErrNotGroupMessage = errors.New("message: not a group message")
)

// State tells which stage of the pipeline a message is in.
type State int

const (
	Instant State = iota + 1
	Secure
	Reliable
)

func (s State) String() string {
	switch s {
	case Instant:
		return "instant"
	case Secure:
		return "secure"
	case Reliable:
		return "reliable"
	default:
		return "unknown"
	}
}

// Message is implemented by *InstantMessage, *SecureMessage and *ReliableMessage.
type Message interface {
	Head() Envelope
	State() State
}

// Envelope is the routing part shared by all states.
type Envelope struct {
	Sender   identity.ID
	Receiver identity.ID
	Time     time.Time
	// Group is set on a member's copy of a group message; zero otherwise.
	Group identity.ID
}

func NewEnvelope(sender, receiver identity.ID, t time.Time) Envelope {
	return Envelope{Sender: sender, Receiver: receiver, Time: t}
}

// Conversation returns the group a message belongs to, or its receiver when it
// is personal.
func (e Envelope) Conversation() identity.ID {
	if !e.Group.IsZero() {
		return e.Group
	}
	return e.Receiver
}

// IsGroup reports whether the envelope addresses a group, directly or as a
// member's copy.
func (e Envelope) IsGroup() bool {
	return !e.Group.IsZero() || e.Receiver.IsGroup()
}

type InstantMessage struct {
	Envelope
	Content content.Content
}

func NewInstantMessage(env Envelope, c content.Content) *InstantMessage {
	return &InstantMessage{Envelope: env, Content: c}
}

func (m *InstantMessage) Head() Envelope { return m.Envelope }
func (m *InstantMessage) State() State   { return Instant }

type SecureMessage struct {
	Envelope
	Data []byte
	// Key is the symmetric key encrypted for the receiver. It is only present
	// when the key is new to the conversation.
	Key []byte
	// Keys maps each member (bare ID string) to the symmetric key encrypted for
	// that member. Only group messages carry it.
	Keys map[string][]byte
	// Meta is the sender's meta, attached when a new key is distributed so a
	// first-contact receiver can verify the signature.
	Meta *identity.Meta
}

// NewSecureMessage copies data, key and keys.
func NewSecureMessage(env Envelope, data, key []byte, keys map[string][]byte) *SecureMessage {
	return &SecureMessage{
		Envelope: env,
		Data:     cloneBytes(data),
		Key:      cloneBytes(key),
		Keys:     cloneKeys(keys),
	}
}

func (m *SecureMessage) Head() Envelope { return m.Envelope }
func (m *SecureMessage) State() State   { return Secure }

// Clone returns a deep copy.
func (m *SecureMessage) Clone() *SecureMessage {
	out := NewSecureMessage(m.Envelope, m.Data, m.Key, m.Keys)
	out.Meta = m.Meta
	return out
}

// WithMeta returns a copy carrying meta.
func (m *SecureMessage) WithMeta(meta identity.Meta) *SecureMessage {
	out := m.Clone()
	out.Meta = &meta
	return out
}

// EncryptedKeyFor returns the encrypted key addressed to receiver, if any.
func (m *SecureMessage) EncryptedKeyFor(receiver identity.ID) []byte {
	if len(m.Key) > 0 {
		return m.Key
	}
	return m.Keys[receiver.Bare().String()]
}

// SigningBytes is what the sender signs: Data || Key. Group messages sign Data
// only, so a member's trimmed copy still verifies.
func (m *SecureMessage) SigningBytes() []byte {
	if m.IsGroup() || len(m.Key) == 0 {
		return cloneBytes(m.Data)
	}
	var buf bytes.Buffer
	buf.Grow(len(m.Data) + len(m.Key))
	buf.Write(m.Data)
	buf.Write(m.Key)
	return buf.Bytes()
}

// Trim returns member's copy of a group message: the receiver becomes the
// member, the group is recorded in the envelope and only the member's key is
// kept.
func (m *SecureMessage) Trim(member identity.ID) (*SecureMessage, error) {
	group := m.Group
	if group.IsZero() {
		if !m.Receiver.IsGroup() {
			return nil, ErrNotGroupMessage
		}
		group = m.Receiver
	}
	env := m.Envelope
	env.Receiver = member
	env.Group = group
	out := NewSecureMessage(env, m.Data, m.EncryptedKeyFor(member), nil)
	out.Meta = m.Meta
	return out, nil
}

// Split trims m for every member.
func (m *SecureMessage) Split(members []identity.ID) ([]*SecureMessage, error) {
	out := make([]*SecureMessage, 0, len(members))
	for _, member := range members {
		trimmed, err := m.Trim(member)
		if err != nil {
			return nil, err
		}
		out = append(out, trimmed)
	}
	return out, nil
}

type ReliableMessage struct {
	SecureMessage
	Signature []byte
}

// NewReliableMessage copies secure and signature.
func NewReliableMessage(secure *SecureMessage, signature []byte) *ReliableMessage {
	return &ReliableMessage{SecureMessage: *secure.Clone(), Signature: cloneBytes(signature)}
}

func (m *ReliableMessage) Head() Envelope { return m.Envelope }
func (m *ReliableMessage) State() State   { return Reliable }

// Secure returns the message without its signature.
func (m *ReliableMessage) Secure() *SecureMessage {
	return m.SecureMessage.Clone()
}

// Trim returns member's copy of a group message, keeping the signature.
func (m *ReliableMessage) Trim(member identity.ID) (*ReliableMessage, error) {
	secure, err := m.SecureMessage.Trim(member)
	if err != nil {
		return nil, err
	}
	return &ReliableMessage{SecureMessage: *secure, Signature: cloneBytes(m.Signature)}, nil
}

// Split trims m for every member.
func (m *ReliableMessage) Split(members []identity.ID) ([]*ReliableMessage, error) {
	out := make([]*ReliableMessage, 0, len(members))
	for _, member := range members {
		trimmed, err := m.Trim(member)
		if err != nil {
			return nil, err
		}
		out = append(out, trimmed)
	}
	return out, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneKeys(keys map[string][]byte) map[string][]byte {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(keys))
	for k, v := range keys {
		out[k] = cloneBytes(v)
	}
	return out
}
