package message

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/identity"
)

// wireMessage is the JSON layout shared by all states. Field order is the wire
// order. The state is never written explicitly: it follows from which fields
// are present.
type wireMessage struct {
	Sender    identity.ID       `json:"sender"`
	Receiver  identity.ID       `json:"receiver"`
	Time      float64           `json:"time"`
	Group     *identity.ID      `json:"group,omitempty"`
	Content   json.RawMessage   `json:"content,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	Key       []byte            `json:"key,omitempty"`
	Keys      map[string][]byte `json:"keys,omitempty"`
	Meta      *identity.Meta    `json:"meta,omitempty"`
	Signature []byte            `json:"signature,omitempty"`
}

func wireEnvelope(env Envelope) wireMessage {
	w := wireMessage{
		Sender:   env.Sender,
		Receiver: env.Receiver,
		Time:     timeToWire(env.Time),
	}
	if !env.Group.IsZero() {
		g := env.Group
		w.Group = &g
	}
	return w
}

func (w *wireMessage) envelope() Envelope {
	env := Envelope{Sender: w.Sender, Receiver: w.Receiver, Time: timeFromWire(w.Time)}
	if w.Group != nil {
		env.Group = *w.Group
	}
	return env
}

// Seconds since the epoch, millisecond precision.
func timeToWire(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

func timeFromWire(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(math.Round(f * 1000)))
}

// Encode writes m in its wire form. codec is only used for instant messages.
func Encode(m Message, codec content.Codec) ([]byte, error) {
	switch msg := m.(type) {
	case *InstantMessage:
		if msg.Content == nil {
			return nil, fmt.Errorf("%w: instant message without content", ErrMalformed)
		}
		body, err := codec.Serialize(msg.Content)
		if err != nil {
			return nil, err
		}
		w := wireEnvelope(msg.Envelope)
		w.Content = body
		return json.Marshal(w)
	case *SecureMessage:
		return json.Marshal(msg.wire())
	case *ReliableMessage:
		w := msg.SecureMessage.wire()
		w.Signature = msg.Signature
		return json.Marshal(w)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformed, m)
	}
}

func (m *SecureMessage) wire() wireMessage {
	w := wireEnvelope(m.Envelope)
	w.Data = m.Data
	w.Key = m.Key
	w.Keys = m.Keys
	w.Meta = m.Meta
	return w
}

// Decode parses a message of any state: "signature" makes it reliable, "data"
// secure and "content" instant. codec is only used for instant messages.
func Decode(data []byte, codec content.Codec) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Sender.IsZero() || w.Receiver.IsZero() {
		return nil, fmt.Errorf("%w: missing sender or receiver", ErrMalformed)
	}
	env := w.envelope()

	switch {
	case len(w.Signature) > 0:
		if len(w.Data) == 0 {
			return nil, fmt.Errorf("%w: signature without data", ErrMalformed)
		}
		secure := NewSecureMessage(env, w.Data, w.Key, w.Keys)
		secure.Meta = w.Meta
		return &ReliableMessage{SecureMessage: *secure, Signature: w.Signature}, nil
	case len(w.Data) > 0:
		secure := NewSecureMessage(env, w.Data, w.Key, w.Keys)
		secure.Meta = w.Meta
		return secure, nil
	case len(w.Content) > 0:
		if codec == nil {
			return nil, fmt.Errorf("%w: no content codec", ErrMalformed)
		}
		c, err := codec.Parse(w.Content)
		if err != nil {
			return nil, err
		}
		return NewInstantMessage(env, c), nil
	default:
		return nil, fmt.Errorf("%w: no content, data or signature", ErrMalformed)
	}
}

// DecodeReliable decodes data and requires it to be a reliable message.
func DecodeReliable(data []byte) (*ReliableMessage, error) {
	m, err := Decode(data, nil)
	if err != nil {
		return nil, err
	}
	r, ok := m.(*ReliableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: expected reliable message, got %s", ErrMalformed, m.State())
	}
	return r, nil
}

func (m *SecureMessage) MarshalJSON() ([]byte, error) { return Encode(m, nil) }

func (m *ReliableMessage) MarshalJSON() ([]byte, error) { return Encode(m, nil) }

func (m *ReliableMessage) UnmarshalJSON(data []byte) error {
	r, err := DecodeReliable(data)
	if err != nil {
		return err
	}
	*m = *r
	return nil
}
