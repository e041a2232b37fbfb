//go:build unix

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollReadable_RetriesOnEINTR(t *testing.T) {
	orig := sysPoll
	defer func() { sysPoll = orig }()

	calls := 0
	var timeouts []int
	sysPoll = func(fds []unix.PollFd, timeout int) (int, error) {
		calls++
		timeouts = append(timeouts, timeout)
		if calls == 1 {
			return -1, unix.EINTR
		}
		fds[0].Revents = unix.POLLIN
		return 1, nil
	}

	ready, err := pollReadable([]int{42}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, ready)
	assert.Equal(t, 2, calls)
	require.Len(t, timeouts, 2)
	assert.LessOrEqual(t, timeouts[1], timeouts[0], "retry must use the remaining time")
}

func TestPollReadable_PropagatesErrors(t *testing.T) {
	orig := sysPoll
	defer func() { sysPoll = orig }()

	sysPoll = func(fds []unix.PollFd, timeout int) (int, error) {
		return -1, unix.EBADF
	}

	_, err := pollReadable([]int{42}, time.Second)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestPollMillis(t *testing.T) {
	assert.Equal(t, -1, pollMillis(-1, time.Time{}))
	assert.Equal(t, 0, pollMillis(time.Second, time.Now().Add(-time.Second)))
	ms := pollMillis(time.Second, time.Now().Add(time.Second))
	assert.Greater(t, ms, 900)
	assert.LessOrEqual(t, ms, 1000)
}
