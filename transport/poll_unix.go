//go:build unix

package transport

import (
	"errors"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

const pollSupported = true

// sysPoll is swapped in tests to simulate interrupted system calls.
var sysPoll = unix.Poll

// pollReadable waits once on all fds and reports which became readable.
// EINTR restarts the wait with whatever time remains.
func pollReadable(fds []int, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		_, err := sysPoll(pfds, pollMillis(timeout, deadline))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	ready := make([]bool, len(fds))
	for i := range pfds {
		// Hang-up and error count as readable; the next Read reports them.
		ready[i] = pfds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return ready, nil
}

func pollMillis(timeout time.Duration, deadline time.Time) int {
	if timeout < 0 {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	ms := (remaining + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
