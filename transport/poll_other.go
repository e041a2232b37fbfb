//go:build !unix

package transport

import (
	"errors"
	"time"
)

const pollSupported = false

func pollReadable(fds []int, timeout time.Duration) ([]bool, error) {
	return nil, errors.New("transport: poll(2) not available on this platform")
}
