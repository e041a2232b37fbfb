package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const maxTLSRecord = 16384

// SecureConnection is a TLS connection. Decrypted bytes may sit in the
// reader above the socket, so it is never Transparent.
type SecureConnection struct {
	conn     *tls.Conn
	reader   *bufio.Reader
	timeouts Timeouts

	mu     sync.Mutex
	fd     int
	closed bool
}

// NewSecureConnection takes ownership of conn. The handshake runs lazily on
// first use unless the caller already completed it.
func NewSecureConnection(conn *tls.Conn, timeouts Timeouts) *SecureConnection {
	return &SecureConnection{
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, 2*maxTLSRecord),
		timeouts: timeouts,
		fd:       socketDescriptor(conn.NetConn()),
	}
}

func (c *SecureConnection) Read(p []byte) (int, error) {
	if c.reader.Buffered() == 0 {
		if err := applyDeadline(c.conn.SetReadDeadline, c.timeouts.Receive); err != nil {
			return 0, err
		}
	}
	return c.reader.Read(p)
}

func (c *SecureConnection) Write(p []byte) (int, error) {
	if err := applyDeadline(c.conn.SetWriteDeadline, c.timeouts.Send); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

// Close sends close_notify before closing the socket.
func (c *SecureConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.fd = -1
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *SecureConnection) Transparent() bool { return false }

// DataAvailable reports buffered plaintext first. tls.Conn keeps whole
// records it already read from the socket where poll(2) cannot see them,
// so a short peek pulls those into the reader before the socket is polled.
func (c *SecureConnection) DataAvailable(timeout time.Duration) bool {
	if c.reader.Buffered() > 0 {
		return true
	}
	c.mu.Lock()
	fd, closed := c.fd, c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	if pollSupported && fd >= 0 {
		// Peeking before the handshake would run it under the peek deadline.
		if c.conn.ConnectionState().HandshakeComplete && c.peek(0) {
			return true
		}
		ready, err := pollReadable([]int{fd}, timeout)
		return err == nil && ready[0]
	}
	return c.peek(timeout)
}

// peek waits up to timeout for one byte of plaintext. A negative timeout
// waits indefinitely. The read deadline is cleared afterwards; Read sets
// its own.
func (c *SecureConnection) peek(timeout time.Duration) bool {
	if timeout >= 0 {
		if timeout < time.Millisecond {
			timeout = time.Millisecond
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	_, err := c.reader.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})
	return err == nil || !errors.Is(err, os.ErrDeadlineExceeded)
}

func (c *SecureConnection) Parameters() string {
	state := c.conn.ConnectionState()
	var b strings.Builder
	b.WriteString("Transport connection: TLS/SSL over TCP/IP\n")
	if !state.HandshakeComplete {
		b.WriteString("  Handshake not completed\n")
		return b.String()
	}
	fmt.Fprintf(&b, "  Protocol: %s\n", tls.VersionName(state.Version))
	fmt.Fprintf(&b, "  Ciphersuite: %s\n", tls.CipherSuiteName(state.CipherSuite))
	if len(state.PeerCertificates) > 0 {
		fmt.Fprintf(&b, "  Peer certificate subject: %s\n", state.PeerCertificates[0].Subject)
	} else {
		b.WriteString("  No peer certificate\n")
	}
	return b.String()
}

func (c *SecureConnection) Socket() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

func (c *SecureConnection) PeerCertificate() []byte {
	return leafCertificate(c.conn.ConnectionState().PeerCertificates)
}

func (c *SecureConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Handshake runs the TLS handshake bounded by ctx.
func (c *SecureConnection) Handshake(ctx context.Context) error {
	return c.conn.HandshakeContext(ctx)
}

// TLSDialer establishes TLS connections and completes the handshake.
type TLSDialer struct {
	Timeout  time.Duration
	Timeouts Timeouts
	Config   *tls.Config
}

// Dial connects to address and performs the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Connection, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	cfg := d.Config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}
	sc := NewSecureConnection(tls.Client(raw, cfg), d.Timeouts)
	if err := sc.Handshake(ctx); err != nil {
		sc.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", address, err)
	}
	return sc, nil
}
