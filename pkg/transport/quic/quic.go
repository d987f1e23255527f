// Package quic implements transport.Transport over QUIC+TLS 1.3, following
// the same addressed-frame multiplexing as pkg/transport/tcp but over a
// single quic.Stream.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/transport"
)

var quicConfig = &quic.Config{
	MaxIdleTimeout:  5 * time.Minute,
	KeepAlivePeriod: 30 * time.Second,
}

// Peer is a single QUIC connection (and its one control stream) multiplexing
// addressed sends/receives for one remote participant.
type Peer struct {
	connection *quic.Conn
	stream     *quic.Stream

	writeMu sync.Mutex

	mu       sync.Mutex
	cond     *sync.Cond
	inbox    map[address.Address][]byte
	readErr  error
}

func newPeer(conn *quic.Conn, stream *quic.Stream) *Peer {
	p := &Peer{connection: conn, stream: stream, inbox: make(map[address.Address][]byte)}
	p.cond = sync.NewCond(&p.mu)
	go p.readLoop()
	return p
}

// Dial opens a QUIC connection and control stream to addr.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Peer, error) {
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"streams/1"}
	}
	conn, err := quic.DialAddr(ctx, addr, cfg, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic: dial: %w", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic: open stream: %w", err)
	}
	return newPeer(conn, stream), nil
}

// Listener accepts QUIC connections and yields a Peer per accepted
// connection and its first stream.
type Listener struct {
	listener *quic.Listener
}

// Listen starts listening for QUIC connections on addr.
func Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("quic: resolve address: %w", err)
	}
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"streams/1"}
	}
	ln, err := quic.ListenAddr(udpAddr.String(), cfg, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic: listen: %w", err)
	}
	return &Listener{listener: ln}, nil
}

// Accept waits for the next incoming connection and wraps its first stream
// as a Peer.
func (l *Listener) Accept(ctx context.Context) (*Peer, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("quic: accept stream: %w", err)
	}
	return newPeer(conn, stream), nil
}

// Close closes the listener.
func (l *Listener) Close() error { return l.listener.Close() }

func (p *Peer) Name() string { return "quic" }

// SendMessage writes one addressed frame to the peer's control stream.
func (p *Peer) SendMessage(_ context.Context, addr address.Address, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stream.Write(transport.EncodeFrame(addr, data)); err != nil {
		return fmt.Errorf("quic: send: %w", err)
	}
	return nil
}

// RecvMessage blocks until a frame for addr has been read off the control
// stream, ctx is cancelled, or the stream closes.
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

// Close closes the control stream and its connection.
func (p *Peer) Close() error {
	if err := p.stream.Close(); err != nil {
		p.connection.CloseWithError(0, "stream close error")
		return err
	}
	return p.connection.CloseWithError(0, "normal close")
}

func (p *Peer) readLoop() {
	for {
		addr, payload, err := transport.DecodeFrame(p.stream)
		p.mu.Lock()
		if err != nil {
			p.readErr = fmt.Errorf("quic: receive: %w", err)
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		p.inbox[addr] = payload
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

var _ transport.Transport = (*Peer)(nil)
