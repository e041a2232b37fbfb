package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn is a Connection whose readiness is scripted.
type stubConn struct {
	fd          int
	transparent bool
	readable    bool
	checks      []time.Duration
}

func (s *stubConn) Read(p []byte) (int, error) { return 0, nil }
func (s *stubConn) Write(p []byte) (int, error) { return len(p), nil }
func (s *stubConn) Close() error { return nil }
func (s *stubConn) Transparent() bool { return s.transparent }
func (s *stubConn) Parameters() string { return "stub" }
func (s *stubConn) Socket() int { return s.fd }
func (s *stubConn) PeerCertificate() []byte { return nil }
func (s *stubConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

func (s *stubConn) DataAvailable(timeout time.Duration) bool {
	s.checks = append(s.checks, timeout)
	return s.readable
}

func TestSelectReadable_FastPathKeepsOnlyReadable(t *testing.T) {
	first := &stubConn{fd: 10, transparent: true}
	second := &stubConn{fd: 11, transparent: true}
	third := &stubConn{fd: 12, transparent: true}
	conns := []Connection{first, second, third}

	var polled []int
	m := &Multiplexer{Poll: func(fds []int, timeout time.Duration) ([]bool, error) {
		polled = fds
		ready := make([]bool, len(fds))
		for i, fd := range fds {
			ready[i] = fd == 11
		}
		return ready, nil
	}}

	require.True(t, m.SelectReadable(conns, 5*time.Second))
	assert.Equal(t, []int{10, 11, 12}, polled)
	assert.Nil(t, conns[0])
	assert.Same(t, second, conns[1])
	assert.Nil(t, conns[2])
	assert.Empty(t, second.checks, "fast path must not call DataAvailable")
}

func TestSelectReadable_FastPathTimeoutLeavesEntries(t *testing.T) {
	a := &stubConn{fd: 3, transparent: true}
	b := &stubConn{fd: 4, transparent: true}
	conns := []Connection{a, nil, b}

	m := &Multiplexer{Poll: func(fds []int, timeout time.Duration) ([]bool, error) {
		return make([]bool, len(fds)), nil
	}}

	assert.False(t, m.SelectReadable(conns, 0))
	assert.Same(t, a, conns[0])
	assert.Nil(t, conns[1])
	assert.Same(t, b, conns[2])
}

func TestSelectReadable_MixedUsesSafePath(t *testing.T) {
	plain := &stubConn{fd: 5, transparent: true}
	secure := &stubConn{fd: 6, readable: true}
	conns := []Connection{plain, secure}

	m := &Multiplexer{Poll: func(fds []int, timeout time.Duration) ([]bool, error) {
		t.Fatal("poll must not be used for heterogeneous connections")
		return nil, nil
	}}

	require.True(t, m.SelectReadable(conns, 10*time.Second))
	assert.Nil(t, conns[0])
	assert.Same(t, secure, conns[1])
	// First round checks without waiting.
	require.NotEmpty(t, plain.checks)
	assert.Equal(t, time.Duration(0), plain.checks[0])
}

func TestSelectReadable_SafePathRoundBudget(t *testing.T) {
	idle := &stubConn{fd: 7}
	conns := []Connection{idle}

	assert.False(t, (&Multiplexer{}).SelectReadable(conns, 2*time.Second))
	// timeout+1 rounds plus the final zero-wait pass.
	assert.Equal(t, []time.Duration{0, time.Second, time.Second, 0}, idle.checks)
	assert.Nil(t, conns[0])
}

func TestSelectReadable_AllAbsent(t *testing.T) {
	assert.False(t, SelectReadable([]Connection{nil, nil}, time.Second))
}

func TestSelectReadable_LoopbackTCP(t *testing.T) {
	if !pollSupported {
		t.Skip("poll(2) not available")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	quiet, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer quiet.Close()
	chatty, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer chatty.Close()

	srvQuiet := NewPlainConnection(<-accepted, DefaultTimeouts())
	srvChatty := NewPlainConnection(<-accepted, DefaultTimeouts())
	defer srvQuiet.Close()
	defer srvChatty.Close()

	// Accept order is not guaranteed; identify by remote address.
	if srvQuiet.RemoteAddr().String() != quiet.LocalAddr().String() {
		srvQuiet, srvChatty = srvChatty, srvQuiet
	}

	_, err = chatty.Write([]byte{0x05})
	require.NoError(t, err)

	conns := []Connection{srvQuiet, srvChatty}
	require.True(t, SelectReadable(conns, 5*time.Second))
	assert.Nil(t, conns[0])
	assert.Same(t, srvChatty, conns[1])
}
