package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// PlainConnection is an unencrypted TCP connection.
type PlainConnection struct {
	conn     net.Conn
	timeouts Timeouts

	mu      sync.Mutex
	fd      int
	closed  bool
	pending []byte
}

// NewPlainConnection takes ownership of conn.
func NewPlainConnection(conn net.Conn, timeouts Timeouts) *PlainConnection {
	return &PlainConnection{
		conn:     conn,
		timeouts: timeouts,
		fd:       socketDescriptor(conn),
	}
}

func (c *PlainConnection) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	if err := applyDeadline(c.conn.SetReadDeadline, c.timeouts.Receive); err != nil {
		return 0, err
	}
	return c.conn.Read(p)
}

func (c *PlainConnection) Write(p []byte) (int, error) {
	if err := applyDeadline(c.conn.SetWriteDeadline, c.timeouts.Send); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

func (c *PlainConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.fd = -1
	return c.conn.Close()
}

func (c *PlainConnection) Transparent() bool { return true }

func (c *PlainConnection) DataAvailable(timeout time.Duration) bool {
	c.mu.Lock()
	if len(c.pending) > 0 {
		c.mu.Unlock()
		return true
	}
	fd, closed := c.fd, c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	if pollSupported && fd >= 0 {
		ready, err := pollReadable([]int{fd}, timeout)
		return err == nil && ready[0]
	}

	// Without poll(2), read one byte under a deadline and keep it.
	if timeout >= 0 {
		if timeout < time.Millisecond {
			timeout = time.Millisecond
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	var b [1]byte
	n, err := c.conn.Read(b[:])
	if n == 1 {
		c.mu.Lock()
		c.pending = append(c.pending, b[0])
		c.mu.Unlock()
		return true
	}
	// EOF counts as readable so the caller observes the close on Read.
	return err != nil && !errors.Is(err, os.ErrDeadlineExceeded)
}

func (c *PlainConnection) Parameters() string {
	return "Transport connection: TCP/IP, unencrypted.\n"
}

func (c *PlainConnection) Socket() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

func (c *PlainConnection) PeerCertificate() []byte { return nil }

func (c *PlainConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Dialer opens outbound connections to a peer.
type Dialer interface {
	Dial(ctx context.Context, address string) (Connection, error)
}

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout  time.Duration
	Timeouts Timeouts
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Connection, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewPlainConnection(conn, d.Timeouts), nil
}
