package session

import (
	"context"
	"errors"
	"time"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/protocol"
)

var (
	ErrHandshakeExpectedHello = errors.New("session: handshake expected HELLO")
	ErrUnexpectedPeer         = errors.New("session: remote identity is not the expected peer")
	ErrNoIdentity             = errors.New("session: local identity incomplete")
)

// DefaultClockSkew bounds how far a HELLO timestamp may be from local time.
const DefaultClockSkew = 5 * time.Minute

// Local is the identity a node presents during the handshake.
type Local struct {
	ID         identity.ID
	Meta       identity.Meta
	PrivateKey crypto.PrivateKey
}

type HandshakeOptions struct {
	Capabilities map[string]string
	// Expect, when set, makes the handshake fail unless the remote presents
	// this ID.
	Expect identity.ID
	// MaxClockSkew defaults to DefaultClockSkew.
	MaxClockSkew time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// HandshakeClient performs the session handshake as a client.
// The client opens a dedicated control stream.
func HandshakeClient(ctx context.Context, conn *q.Conn, local Local, opts HandshakeOptions) (*Session, error) {
	if err := local.check(); err != nil {
		return nil, err
	}
	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeHello(control, local, opts); err != nil {
		return nil, err
	}
	remote, err := readHello(control, opts)
	if err != nil {
		return nil, err
	}
	return newSession(conn, control, local, remote), nil
}

// HandshakeServer performs the session handshake as a server.
// The server accepts the control stream opened by the client.
func HandshakeServer(ctx context.Context, conn *q.Conn, local Local, opts HandshakeOptions) (*Session, error) {
	if err := local.check(); err != nil {
		return nil, err
	}
	control, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := readHello(control, opts)
	if err != nil {
		return nil, err
	}
	if err := writeHello(control, local, opts); err != nil {
		return nil, err
	}
	return newSession(conn, control, local, remote), nil
}

func (l Local) check() error {
	if l.ID.IsZero() || l.PrivateKey == nil || !l.Meta.MatchID(l.ID) {
		return ErrNoIdentity
	}
	return nil
}

func writeHello(control *q.Stream, local Local, opts HandshakeOptions) error {
	hello, err := protocol.NewHello(local.ID, local.Meta, opts.Capabilities)
	if err != nil {
		return err
	}
	if opts.Now != nil {
		hello.Timestamp = opts.Now().Unix()
	}
	if err := hello.Sign(local.PrivateKey); err != nil {
		return err
	}
	payload, err := protocol.EncodeHello(hello)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(control, protocol.Frame{Type: protocol.MessageTypeHello, Payload: payload})
}

func readHello(control *q.Stream, opts HandshakeOptions) (protocol.Hello, error) {
	frame, err := protocol.ReadFrame(control)
	if err != nil {
		return protocol.Hello{}, err
	}
	if frame.Type != protocol.MessageTypeHello {
		return protocol.Hello{}, ErrHandshakeExpectedHello
	}
	hello, err := protocol.DecodeHello(frame.Payload)
	if err != nil {
		return protocol.Hello{}, err
	}
	if err := hello.Verify(); err != nil {
		return protocol.Hello{}, err
	}
	now, skew := time.Now, opts.MaxClockSkew
	if opts.Now != nil {
		now = opts.Now
	}
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	if err := hello.CheckFresh(now(), skew); err != nil {
		return protocol.Hello{}, err
	}
	if !opts.Expect.IsZero() && !opts.Expect.Equal(hello.ID) {
		return protocol.Hello{}, ErrUnexpectedPeer
	}
	return hello, nil
}
