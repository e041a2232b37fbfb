// Package transport provides the byte-stream connections an association
// runs over (plain TCP or TLS) and readiness multiplexing across many of them.
package transport

import (
	"crypto/x509"
	"io"
	"net"
	"syscall"
	"time"
)

// Connection is one bidirectional byte stream bound to a single socket.
// Each Connection exclusively owns its socket.
type Connection interface {
	io.Reader
	io.Writer

	// Close releases the socket. Calling it more than once is safe.
	Close() error

	// Transparent reports whether the socket's readiness reflects the
	// connection's readiness, i.e. nothing is buffered above the socket.
	Transparent() bool

	// DataAvailable reports whether a Read would not block. A zero timeout
	// polls, a negative one blocks until data arrives.
	DataAvailable(timeout time.Duration) bool

	// Parameters describes the connection for diagnostics.
	Parameters() string

	// Socket returns the underlying descriptor, or -1 once closed.
	Socket() int

	// PeerCertificate returns the peer's DER encoded leaf certificate, or
	// nil when the connection is not secure or the peer sent none.
	PeerCertificate() []byte

	RemoteAddr() net.Addr
}

// Timeouts are the socket send and receive timeouts in whole seconds.
// A value of 1 or more sets the timeout, 0 disables it and a negative value
// leaves whatever deadline the socket already has.
type Timeouts struct {
	Send    int
	Receive int
}

// DefaultTimeouts returns 60 seconds for both directions.
func DefaultTimeouts() Timeouts {
	return Timeouts{Send: 60, Receive: 60}
}

func applyDeadline(set func(time.Time) error, seconds int) error {
	switch {
	case seconds > 0:
		return set(time.Now().Add(time.Duration(seconds) * time.Second))
	case seconds == 0:
		return set(time.Time{})
	default:
		return nil
	}
}

// socketDescriptor extracts the file descriptor of conn, or -1 when it has none.
func socketDescriptor(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}

func leafCertificate(chain []*x509.Certificate) []byte {
	if len(chain) == 0 {
		return nil
	}
	return chain[0].Raw
}
