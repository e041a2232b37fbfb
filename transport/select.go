package transport

import (
	"log/slog"
	"math"
	"time"
)

// PollFunc waits until at least one fd is readable or timeout elapses and
// reports readiness per fd. A negative timeout blocks indefinitely.
type PollFunc func(fds []int, timeout time.Duration) ([]bool, error)

// Multiplexer waits for one of several connections to become readable.
type Multiplexer struct {
	// Poll replaces the platform poll(2) wrapper. Nil uses the platform.
	Poll   PollFunc
	Logger *slog.Logger
}

func (m *Multiplexer) logger() *slog.Logger {
	if m != nil && m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// SelectReadable uses a Multiplexer with platform defaults.
func SelectReadable(conns []Connection, timeout time.Duration) bool {
	return (&Multiplexer{}).SelectReadable(conns, timeout)
}

// SelectReadable blocks until at least one connection in conns is readable
// or timeout elapses. Nil entries are ignored. When it returns true every
// entry that is not readable has been set to nil.
func (m *Multiplexer) SelectReadable(conns []Connection, timeout time.Duration) bool {
	present := 0
	transparent := true
	for _, c := range conns {
		if c == nil {
			continue
		}
		present++
		if !c.Transparent() || c.Socket() < 0 {
			transparent = false
		}
	}
	if present == 0 {
		return false
	}

	poll := m.Poll
	if poll == nil && pollSupported {
		poll = pollReadable
	}
	if transparent && poll != nil {
		return m.selectFast(conns, poll, timeout)
	}
	return m.selectSafe(conns, timeout)
}

// selectFast waits once on every socket.
func (m *Multiplexer) selectFast(conns []Connection, poll PollFunc, timeout time.Duration) bool {
	fds := make([]int, 0, len(conns))
	index := make([]int, 0, len(conns))
	for i, c := range conns {
		if c != nil {
			fds = append(fds, c.Socket())
			index = append(index, i)
		}
	}

	ready, err := poll(fds, timeout)
	if err != nil {
		m.logger().Debug("Poll failed", "error", err)
		return false
	}

	found := false
	for _, r := range ready {
		found = found || r
	}
	if !found {
		return false
	}
	for k, i := range index {
		if !ready[k] {
			conns[i] = nil
		}
	}
	return true
}

// selectSafe asks each connection in turn. The first round does not wait,
// later rounds wait up to one second per connection.
func (m *Multiplexer) selectSafe(conns []Connection, timeout time.Duration) bool {
	rounds := int(timeout/time.Second) + 1
	if timeout < 0 {
		rounds = math.MaxInt32
	}

	var wait time.Duration
	found := false
	for round := 0; round < rounds && !found; round++ {
		for _, c := range conns {
			if c != nil && c.DataAvailable(wait) {
				found = true
				break
			}
		}
		wait = time.Second
	}

	found = false
	for i, c := range conns {
		if c == nil {
			continue
		}
		if c.DataAvailable(0) {
			found = true
		} else {
			conns[i] = nil
		}
	}
	return found
}
