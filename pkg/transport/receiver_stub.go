//go:build !linux

package transport

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"go.uber.org/zap"
)

// DefaultPollTimeout keeps the read loop live between chunks
const DefaultPollTimeout = 2500 * time.Microsecond

var (
	ErrSocket = errors.New("socket error")

	errUnsupported = errors.New("receiver is only supported on linux")
)

// Receiver is unavailable outside Linux
type Receiver struct {
	file *os.File
}

func NewReceiver(file *os.File, timeout time.Duration, logger *zap.Logger) *Receiver {
	return &Receiver{file: file}
}

func (r *Receiver) Receive(ctx context.Context) ([]byte, error) {
	return nil, errUnsupported
}

func (r *Receiver) ReceiveRecord(ctx context.Context) (*domain.Record, error) {
	return nil, errUnsupported
}

func (r *Receiver) Close() error {
	return r.file.Close()
}
