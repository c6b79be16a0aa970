package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown times out
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Manager owns the background goroutines of one process and stops them
// together.
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	logger   *zap.Logger

	running atomic.Int32
}

// NewManager creates a manager whose goroutines see a context derived from ctx
func NewManager(ctx context.Context, logger *zap.Logger) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Go launches a named goroutine. fn must return once its context is done.
func (m *Manager) Go(name string, fn func(ctx context.Context)) {
	m.wg.Add(1)
	m.running.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.running.Add(-1)

		m.logger.Debug("Starting goroutine", zap.String("name", name))
		defer m.logger.Debug("Goroutine stopped", zap.String("name", name))

		fn(m.ctx)
	}()
}

// Stop cancels every goroutine and waits up to timeout for them to return.
// Calling Stop more than once is safe.
func (m *Manager) Stop(timeout time.Duration) error {
	m.stopOnce.Do(func() {
		m.logger.Debug("Initiating graceful shutdown",
			zap.Int32("running_goroutines", m.running.Load()),
			zap.Duration("timeout", timeout))
		m.cancel()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		m.logger.Warn("Shutdown timeout exceeded",
			zap.Int32("still_running", m.running.Load()))
		return ErrShutdownTimeout
	}
}
