//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeout keeps the read loop live between chunks
const DefaultPollTimeout = 2500 * time.Microsecond

// ErrSocket means poll flagged the descriptor as broken
var ErrSocket = errors.New("socket error")

// Receiver drains one connection. The peer closing its side is only
// reliably visible through poll, so the descriptor is polled directly
// instead of going through the runtime netpoller.
type Receiver struct {
	file    *os.File
	timeout time.Duration
	logger  *zap.Logger
}

// NewReceiver reads from file. A zero timeout uses DefaultPollTimeout.
func NewReceiver(file *os.File, timeout time.Duration, logger *zap.Logger) *Receiver {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		file:    file,
		timeout: timeout,
		logger:  logger.Named("receiver"),
	}
}

// Receive accumulates chunks until a zero length read coincides with a
// hangup and returns the concatenated bytes.
func (r *Receiver) Receive(ctx context.Context) ([]byte, error) {
	fd := int(r.file.Fd())
	ts := unix.NsecToTimespec(r.timeout.Nanoseconds())
	segment := make([]byte, DatagramSize)
	var data []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Ppoll(fds, &ts, nil); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("ppoll failed: %w", err)
		}

		revents := fds[0].Revents
		if revents&unix.POLLERR != 0 {
			return nil, fmt.Errorf("%w: socket had an error", ErrSocket)
		}
		if revents&unix.POLLNVAL != 0 {
			return nil, fmt.Errorf("%w: socket was invalid", ErrSocket)
		}
		if revents&(unix.POLLIN|unix.POLLHUP) == 0 {
			continue
		}

		n, err := unix.Read(fd, segment)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			if revents&unix.POLLHUP != 0 {
				break
			}
			continue
		}
		data = append(data, segment[:n]...)
	}

	r.logger.Debug("Connection drained", zap.Int("bytes", len(data)))
	return data, nil
}

// ReceiveRecord receives one frame and parses it
func (r *Receiver) ReceiveRecord(ctx context.Context) (*domain.Record, error) {
	data, err := r.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return ParseFrame(data)
}

// Close closes the descriptor
func (r *Receiver) Close() error {
	return r.file.Close()
}
