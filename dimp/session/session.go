package session

import (
	"context"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/protocol"
)

// Session is an authenticated DIMP session over a QUIC connection.
// QUIC provides transport encryption; the DIMP identity of each side is bound
// by the signed HELLO exchange.
type Session struct {
	conn       *q.Conn
	control    *q.Stream
	controlID  q.StreamID
	localID    identity.ID
	remoteID   identity.ID
	remoteMeta identity.Meta
	caps       map[string]string
}

func newSession(conn *q.Conn, control *q.Stream, local Local, remote protocol.Hello) *Session {
	return &Session{
		conn:       conn,
		control:    control,
		controlID:  control.StreamID(),
		localID:    local.ID,
		remoteID:   remote.ID,
		remoteMeta: remote.Meta,
		caps:       remote.Capabilities,
	}
}

func (s *Session) Connection() *q.Conn { return s.conn }

func (s *Session) LocalID() identity.ID { return s.localID }

func (s *Session) RemoteID() identity.ID { return s.remoteID }

// RemoteMeta is the meta the remote proved ownership of during the handshake.
func (s *Session) RemoteMeta() identity.Meta { return s.remoteMeta }

func (s *Session) RemoteCapabilities() map[string]string {
	out := map[string]string{}
	for k, v := range s.caps {
		out[k] = v
	}
	return out
}

// OpenStream opens an application data stream.
func (s *Session) OpenStream(ctx context.Context) (*q.Stream, error) {
	return s.conn.OpenStreamSync(ctx)
}

// AcceptStream accepts an application data stream, skipping the control stream.
func (s *Session) AcceptStream(ctx context.Context) (*q.Stream, error) {
	for {
		st, err := s.conn.AcceptStream(ctx)
		if err != nil {
			return nil, err
		}
		if st.StreamID() == s.controlID {
			_ = st.Close()
			continue
		}
		return st, nil
	}
}

// Done is closed when the underlying connection is gone.
func (s *Session) Done() <-chan struct{} { return s.conn.Context().Done() }

func (s *Session) CloseWithError(code q.ApplicationErrorCode, msg string) error {
	return s.conn.CloseWithError(code, msg)
}
