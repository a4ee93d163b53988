package quic

import (
	"context"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	q "github.com/quic-go/quic-go"
)

// Options tune the QUIC connection. Zero values use the quic-go defaults.
type Options struct {
	HandshakeTimeout time.Duration
	MaxIdleTimeout   time.Duration
	KeepAlive        time.Duration
}

func (o Options) config() *q.Config {
	return &q.Config{
		HandshakeIdleTimeout: o.HandshakeTimeout,
		MaxIdleTimeout:       o.MaxIdleTimeout,
		KeepAlivePeriod:      o.KeepAlive,
	}
}

// Listener hands out inbound DIMP connections.
type Listener struct {
	ln *q.Listener
}

// Listen accepts a multiaddr or host:port.
func Listen(addr string, opts Options) (*Listener, error) {
	hostPort, err := ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	conf, err := serverTLS()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(hostPort, conf, opts.config())
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (*q.Conn, error) { return l.ln.Accept(ctx) }
func (l *Listener) Addr() net.Addr                              { return l.ln.Addr() }
func (l *Listener) Close() error                                { return l.ln.Close() }

// AddrString is the host:port being listened on.
func (l *Listener) AddrString() string { return l.ln.Addr().String() }

// Multiaddr is the listening address in multiaddr form.
func (l *Listener) Multiaddr() (ma.Multiaddr, error) { return Multiaddr(l.ln.Addr()) }

// Dial accepts a multiaddr or host:port.
func Dial(ctx context.Context, addr string, opts Options) (*q.Conn, error) {
	hostPort, err := ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, hostPort, clientTLS(), opts.config())
}
