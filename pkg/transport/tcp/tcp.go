// Package tcp implements transport.Transport over TCP+TLS 1.3, the fallback
// peer-to-peer transport when QUIC is unavailable.
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/transport"
)

// Peer is a single TCP+TLS connection multiplexing addressed sends/receives
// for one remote participant, per transport.Transport.
type Peer struct {
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	cond     *sync.Cond
	inbox    map[address.Address][]byte
	readErr  error
	closedCh chan struct{}
}

func newPeer(conn net.Conn) *Peer {
	p := &Peer{conn: conn, inbox: make(map[address.Address][]byte), closedCh: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	go p.readLoop()
	return p
}

// Dial opens a TCP+TLS connection to addr and returns a Peer transport.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Peer, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"streams/1"}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial: %w", err)
	}
	return newPeer(conn), nil
}

// Listener accepts TCP+TLS connections and yields a Peer per connection.
type Listener struct {
	listener  *net.TCPListener
	tlsConfig *tls.Config
}

// Listen starts listening for TCP+TLS connections on addr.
func Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (*Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: resolve address: %w", err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"streams/1"}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}
	return &Listener{listener: ln, tlsConfig: cfg}, nil
}

// Accept waits for the next incoming connection and wraps it as a Peer.
func (l *Listener) Accept(ctx context.Context) (*Peer, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}
	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Server(tcpConn, l.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("tcp: tls handshake: %w", err)
	}
	return newPeer(tlsConn), nil
}

// Close closes the listener.
func (l *Listener) Close() error { return l.listener.Close() }

func (p *Peer) Name() string { return "tcp" }

// SendMessage writes one addressed frame to the peer. TCP is a pairwise
// transport: address conflicts are the remote's concern, not detectable
// locally, so SendMessage never returns streamerr.AddressConflict itself.
func (p *Peer) SendMessage(_ context.Context, addr address.Address, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write(transport.EncodeFrame(addr, data))
	if err != nil {
		return fmt.Errorf("tcp: send: %w", err)
	}
	return nil
}

// RecvMessage blocks until a frame for addr has been read off the
// connection, ctx is cancelled, or the connection closes.
func (p *Peer) RecvMessage(ctx context.Context, addr address.Address) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if data, ok := p.inbox[addr]; ok {
			return data, nil
		}
		if p.readErr != nil {
			return nil, p.readErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.cond.Wait()
	}
}

// Close closes the underlying connection.
func (p *Peer) Close() error { return p.conn.Close() }

func (p *Peer) readLoop() {
	for {
		addr, payload, err := transport.DecodeFrame(p.conn)
		p.mu.Lock()
		if err != nil {
			p.readErr = fmt.Errorf("tcp: receive: %w", err)
			p.cond.Broadcast()
			p.mu.Unlock()
			close(p.closedCh)
			return
		}
		p.inbox[addr] = payload
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

var _ transport.Transport = (*Peer)(nil)
