package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultSocketTemplate is the per-user launcher socket, %UID% is replaced
// with the crashed process's uid.
const DefaultSocketTemplate = "/run/user/%UID%/dumptruck-launcher"

// maxSocketPath is sizeof(sockaddr_un.sun_path) minus the terminator
const maxSocketPath = 107

var (
	// ErrNoLauncher means no launcher socket exists for the user. Not every
	// user runs a launcher, so this is a decline rather than a failure.
	ErrNoLauncher = errors.New("launcher socket does not exist")
	// ErrSocketPath means the socket path does not fit sockaddr_un
	ErrSocketPath = errors.New("socket path too long")
)

// SenderConfig configures the forwarding side
type SenderConfig struct {
	SocketTemplate string        `mapstructure:"socket_template"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ChunkSize      int           `mapstructure:"chunk_size"`
}

// SetDefaults fills unset fields
func (c *SenderConfig) SetDefaults() {
	if c.SocketTemplate == "" {
		c.SocketTemplate = DefaultSocketTemplate
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ChunkSize <= 0 || c.ChunkSize > DatagramSize {
		c.ChunkSize = DatagramSize
	}
}

// Sender writes one record per connection to the launcher socket
type Sender struct {
	config SenderConfig
	logger *zap.Logger

	framesSent metric.Int64Counter
	bytesSent  metric.Int64Counter
}

// NewSender creates a sender
func NewSender(config SenderConfig, logger *zap.Logger) *Sender {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sender")

	meter := otel.Meter("dumptruck/transport")
	framesSent, err := meter.Int64Counter(
		"transport_frames_sent_total",
		metric.WithDescription("Records forwarded to the launcher"),
	)
	if err != nil {
		logger.Warn("Failed to create frames counter", zap.Error(err))
	}
	bytesSent, err := meter.Int64Counter(
		"transport_bytes_sent_total",
		metric.WithDescription("Frame bytes written to the launcher socket"),
		metric.WithUnit("By"),
	)
	if err != nil {
		logger.Warn("Failed to create bytes counter", zap.Error(err))
	}

	return &Sender{
		config:     config,
		logger:     logger,
		framesSent: framesSent,
		bytesSent:  bytesSent,
	}
}

// SocketPath returns the launcher socket of uid
func (s *Sender) SocketPath(uid int) string {
	return strings.ReplaceAll(s.config.SocketTemplate, "%UID%", strconv.Itoa(uid))
}

// Send forwards record to the launcher of the record's uid. Each chunk is
// written with a blocking write before the next one. There is no retry.
func (s *Sender) Send(ctx context.Context, record *domain.Record, pickup bool) error {
	path := s.SocketPath(record.UID)

	// Looked up per record, the uid is only known from the entry.
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoLauncher, path)
		}
		return fmt.Errorf("failed to stat socket %s: %w", path, err)
	}
	if len(path) > maxSocketPath {
		return fmt.Errorf("%w: %s", ErrSocketPath, path)
	}

	data, err := EncodeFrame(record, pickup)
	if err != nil {
		return err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	chunks := Split(data, s.config.ChunkSize)
	for i, chunk := range chunks {
		if _, err := conn.Write(chunk); err != nil {
			return fmt.Errorf("failed to write chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	if s.framesSent != nil {
		s.framesSent.Add(ctx, 1)
	}
	if s.bytesSent != nil {
		s.bytesSent.Add(ctx, int64(len(data)))
	}

	s.logger.Debug("Record forwarded",
		zap.String("socket", path),
		zap.String("exe", record.Exe),
		zap.Int("pid", record.PID),
		zap.Int("bytes", len(data)),
		zap.Int("chunks", len(chunks)))
	return nil
}
