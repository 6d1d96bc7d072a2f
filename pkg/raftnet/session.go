package raftnet

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

// maxFrameBytes bounds a single decoded message, guarding against a
// corrupt or hostile length prefix before it drives an allocation.
const maxFrameBytes = 64 << 20

// Session is a reliable, ordered, bidirectional channel carrying
// raftrpc-encoded messages, used identically for dial-out and accepted
// connections (spec.md §4.3).
type Session interface {
	// Send writes one message. Concurrent Send calls are serialized
	// internally; callers do not need their own lock.
	Send(ctx context.Context, msg raftrpc.Message) error
	// Receive blocks for the next message, or returns an error (including
	// io.EOF) when the peer closes the session.
	Receive(ctx context.Context) (raftrpc.Message, error)
	// RemoteAddress is the dial string this session connects to, or the
	// accepted peer's network address for inbound sessions.
	RemoteAddress() string
	Close() error
}

// tcpSession frames raftrpc messages over a net.Conn as a 4-byte
// big-endian length prefix followed by the JSON body, the same framing
// pkg/recordlog uses for on-disk records.
type tcpSession struct {
	conn       net.Conn
	remoteAddr string
	br         *bufio.Reader

	sendMu sync.Mutex
}

func newTCPSession(conn net.Conn, remoteAddr string) *tcpSession {
	return &tcpSession{conn: conn, remoteAddr: remoteAddr, br: bufio.NewReader(conn)}
}

func (s *tcpSession) Send(ctx context.Context, msg raftrpc.Message) error {
	body, err := raftrpc.Encode(msg)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := s.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("raftnet: write frame length to %s: %w", s.remoteAddr, err)
	}
	if _, err := s.conn.Write(body); err != nil {
		return fmt.Errorf("raftnet: write frame body to %s: %w", s.remoteAddr, err)
	}
	return nil
}

func (s *tcpSession) Receive(ctx context.Context) (raftrpc.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.br, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameBytes {
		return nil, fmt.Errorf("raftnet: frame from %s too large: %d bytes", s.remoteAddr, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(s.br, body); err != nil {
		return nil, fmt.Errorf("raftnet: read frame body from %s: %w", s.remoteAddr, err)
	}

	msg, err := raftrpc.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("raftnet: decode frame from %s: %w", s.remoteAddr, err)
	}
	return msg, nil
}

func (s *tcpSession) RemoteAddress() string { return s.remoteAddr }

func (s *tcpSession) Close() error { return s.conn.Close() }

// Dialer opens outbound sessions, using TLS when the address scheme calls
// for it.
type Dialer struct {
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Dial opens a new session to addr.
func (d *Dialer) Dial(ctx context.Context, addr Address) (Session, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	netDialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if addr.TLS() {
		if d.TLSConfig == nil {
			return nil, fmt.Errorf("raftnet: ssl address %s requires a TLS config", addr)
		}
		conn, err = tls.DialWithDialer(netDialer, "tcp", addr.HostPort(), d.TLSConfig)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr.HostPort())
	}
	if err != nil {
		return nil, fmt.Errorf("raftnet: dial %s: %w", addr, err)
	}
	return newTCPSession(conn, addr.String()), nil
}

// Listener accepts inbound sessions on a bound address.
type Listener struct {
	net.Listener
}

// Listen binds a TCP or TLS listener depending on the address scheme.
func Listen(addr Address, tlsConfig *tls.Config) (*Listener, error) {
	var l net.Listener
	var err error
	if addr.TLS() {
		if tlsConfig == nil {
			return nil, fmt.Errorf("raftnet: ssl address %s requires a TLS config", addr)
		}
		l, err = tls.Listen("tcp", addr.HostPort(), tlsConfig)
	} else {
		l, err = net.Listen("tcp", addr.HostPort())
	}
	if err != nil {
		return nil, fmt.Errorf("raftnet: listen on %s: %w", addr, err)
	}
	return &Listener{Listener: l}, nil
}

// Accept blocks for the next inbound session.
func (l *Listener) Accept() (Session, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPSession(conn, conn.RemoteAddr().String()), nil
}
