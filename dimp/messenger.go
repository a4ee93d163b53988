package dimp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/message"
	"github.com/TheusHen/dimp/dimp/pipeline"
	"github.com/TheusHen/dimp/dimp/protocol"
	"github.com/TheusHen/dimp/dimp/ratelimit"
	"github.com/TheusHen/dimp/dimp/session"
	"github.com/TheusHen/dimp/dimp/transport/quic"
)

var (
	ErrNotListening = errors.New("dimp: messenger is not listening")
	ErrRateLimited  = errors.New("dimp: sender is rate limited")
	ErrRejected     = errors.New("dimp: message rejected by peer")
	ErrUnexpected   = errors.New("dimp: unexpected frame")
)

const (
	capVersion     = "version"
	capCompression = "compression"
	compressionLZ4 = "lz4"
	protocolV1     = "1"
)

// Receipt statuses.
const (
	StatusOK          = "ok"
	StatusRateLimited = "rate_limited"
	StatusRejected    = "rejected"
)

// Handler receives every message that verified and decrypted.
type Handler func(ctx context.Context, from *session.Session, msg *message.InstantMessage) error

type Config struct {
	Local    session.Local
	Pipeline *pipeline.Pipeline
	// Metas receives the metas proven during handshakes. Optional.
	Metas directory.MetaStore
	// Limiter throttles inbound messages per sender. nil disables it.
	Limiter          *ratelimit.Limiter
	Compression      bool
	HandshakeTimeout time.Duration
	Transport        quic.Options
	Logger           *logrus.Logger
}

// Messenger sends and receives reliable messages over authenticated sessions.
type Messenger struct {
	local            session.Local
	pipeline         *pipeline.Pipeline
	metas            directory.MetaStore
	limiter          *ratelimit.Limiter
	compression      bool
	handshakeTimeout time.Duration
	transport        quic.Options
	log              *logrus.Logger

	mu       sync.Mutex
	listener *quic.Listener
}

func NewMessenger(cfg Config) (*Messenger, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("dimp: pipeline is required")
	}
	if cfg.Local.ID.IsZero() || cfg.Local.PrivateKey == nil {
		return nil, session.ErrNoIdentity
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
	return &Messenger{
		local:            cfg.Local,
		pipeline:         cfg.Pipeline,
		metas:            cfg.Metas,
		limiter:          cfg.Limiter,
		compression:      cfg.Compression,
		handshakeTimeout: cfg.HandshakeTimeout,
		transport:        cfg.Transport,
		log:              cfg.Logger,
	}, nil
}

func (m *Messenger) ID() identity.ID { return m.local.ID }

func (m *Messenger) capabilities() map[string]string {
	caps := map[string]string{capVersion: protocolV1}
	if m.compression {
		caps[capCompression] = compressionLZ4
	}
	return caps
}

// Listen accepts a QUIC multiaddr or host:port.
func (m *Messenger) Listen(addr string) error {
	ln, err := quic.Listen(addr, m.transport)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()
	m.log.WithField("addr", ln.AddrString()).Info("listening")
	return nil
}

// ListenAddr returns the listening address as a multiaddr string, or "".
func (m *Messenger) ListenAddr() string {
	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()
	if ln == nil {
		return ""
	}
	addr, err := ln.Multiaddr()
	if err != nil {
		return ln.AddrString()
	}
	return addr.String()
}

func (m *Messenger) Close() error {
	m.mu.Lock()
	ln := m.listener
	m.listener = nil
	m.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Accept waits for the next inbound connection and runs the server side of
// the handshake.
func (m *Messenger) Accept(ctx context.Context) (*session.Session, error) {
	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()
	if ln == nil {
		return nil, ErrNotListening
	}
	conn, err := ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()
	sess, err := session.HandshakeServer(hctx, conn, m.local, session.HandshakeOptions{Capabilities: m.capabilities()})
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, err
	}
	m.learn(ctx, sess)
	return sess, nil
}

// Dial connects to addr. If expect is not zero the remote must prove that
// identity.
func (m *Messenger) Dial(ctx context.Context, addr string, expect identity.ID) (*session.Session, error) {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()
	conn, err := quic.Dial(hctx, addr, m.transport)
	if err != nil {
		return nil, err
	}
	sess, err := session.HandshakeClient(hctx, conn, m.local, session.HandshakeOptions{
		Capabilities: m.capabilities(),
		Expect:       expect,
	})
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, err
	}
	m.learn(ctx, sess)
	return sess, nil
}

// learn saves the meta the remote proved during the handshake.
func (m *Messenger) learn(ctx context.Context, sess *session.Session) {
	fields := logrus.Fields{"remote": sess.RemoteID().String()}
	if m.metas != nil {
		if err := m.metas.SaveMeta(ctx, sess.RemoteID(), sess.RemoteMeta()); err != nil {
			m.log.WithFields(fields).WithError(err).Warn("saving handshake meta failed")
		}
	}
	m.log.WithFields(fields).Info("session established")
}

type receipt struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Send seals msg and delivers it over sess, waiting for the peer's receipt.
func (m *Messenger) Send(ctx context.Context, sess *session.Session, msg *message.InstantMessage) (*message.ReliableMessage, error) {
	reliable, err := m.pipeline.Seal(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := m.SendReliable(ctx, sess, reliable); err != nil {
		return nil, err
	}
	return reliable, nil
}

// SendReliable delivers an already sealed message, e.g. when relaying.
func (m *Messenger) SendReliable(ctx context.Context, sess *session.Session, msg *message.ReliableMessage) error {
	payload, err := message.Encode(msg, nil)
	if err != nil {
		return err
	}
	st, err := sess.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}

	frame := protocol.Frame{Type: protocol.MessageTypeMessage, Payload: payload}
	if m.compression && sess.RemoteCapabilities()[capCompression] == compressionLZ4 {
		frame.Flags = protocol.FlagCompressed
	}
	if err := protocol.WriteFrame(st, frame); err != nil {
		return err
	}

	reply, err := protocol.ReadFrame(st)
	if err != nil {
		return err
	}
	if reply.Type != protocol.MessageTypeReceipt {
		return fmt.Errorf("%w: %s", ErrUnexpected, reply.Type)
	}
	var r receipt
	if err := json.Unmarshal(reply.Payload, &r); err != nil {
		return err
	}
	switch r.Status {
	case StatusOK:
		return nil
	case StatusRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %s", ErrRejected, r.Error)
	}
}

// Serve handles inbound messages on sess until ctx is done or the connection
// closes. Each stream carries one message and gets one receipt.
func (m *Messenger) Serve(ctx context.Context, sess *session.Session, handle Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer st.Close()
			if err := m.serveStream(ctx, sess, st, handle); err != nil {
				m.log.WithField("remote", sess.RemoteID().String()).WithError(err).Debug("stream failed")
			}
		}()
	}
}

func (m *Messenger) serveStream(ctx context.Context, sess *session.Session, st io.ReadWriter, handle Handler) error {
	frame, err := protocol.ReadFrame(st)
	if err != nil {
		return err
	}
	if frame.Type != protocol.MessageTypeMessage {
		return fmt.Errorf("%w: %s", ErrUnexpected, frame.Type)
	}
	r := m.receive(ctx, sess, frame.Payload, handle)
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(st, protocol.Frame{Type: protocol.MessageTypeReceipt, Payload: payload})
}

func (m *Messenger) receive(ctx context.Context, sess *session.Session, payload []byte, handle Handler) receipt {
	reliable, err := message.DecodeReliable(payload)
	if err != nil {
		return receipt{Status: StatusRejected, Error: err.Error()}
	}
	// The limiter is charged for verified senders only.
	secure, err := m.pipeline.Verify(ctx, reliable)
	if err != nil {
		return receipt{Status: StatusRejected, Error: err.Error()}
	}
	if !m.limiter.Allow(secure.Sender, time.Now()) {
		m.log.WithField("sender", secure.Sender.String()).Warn("rate limited")
		return receipt{Status: StatusRateLimited}
	}
	instant, err := m.pipeline.Decrypt(ctx, secure)
	if err != nil {
		return receipt{Status: StatusRejected, Error: err.Error()}
	}
	if handle != nil {
		if err := handle(ctx, sess, instant); err != nil {
			return receipt{Status: StatusRejected, Error: err.Error()}
		}
	}
	return receipt{Status: StatusOK}
}
