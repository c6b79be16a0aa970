//go:build linux

package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*os.File, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return os.NewFile(uintptr(fds[0]), "receiver"), fds[1]
}

func TestReceiverDrainsUntilHangup(t *testing.T) {
	file, peer := socketPair(t)
	r := NewReceiver(file, time.Millisecond, zaptest.NewLogger(t))
	defer r.Close()

	payload := []byte(`{"COREDUMP_EXE":"/usr/bin/kate","MESSAGE":"` + strings.Repeat("x", 3*DatagramSize) + `"}`)
	go func() {
		for _, chunk := range Split(payload, DatagramSize) {
			if _, err := unix.Write(peer, chunk); err != nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
		unix.Close(peer)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := r.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReceiverMalformedFrame(t *testing.T) {
	file, peer := socketPair(t)
	r := NewReceiver(file, 0, zaptest.NewLogger(t))
	defer r.Close()

	_, err := unix.Write(peer, []byte(`{"COREDUMP_EXE":`))
	require.NoError(t, err)
	require.NoError(t, unix.Close(peer))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = r.ReceiveRecord(ctx)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReceiverEmptyConnection(t *testing.T) {
	file, peer := socketPair(t)
	r := NewReceiver(file, 0, zaptest.NewLogger(t))
	defer r.Close()

	require.NoError(t, unix.Close(peer))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.ReceiveRecord(ctx)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestReceiverHonoursContext(t *testing.T) {
	file, peer := socketPair(t)
	defer unix.Close(peer)
	r := NewReceiver(file, time.Millisecond, zaptest.NewLogger(t))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSenderToReceiver(t *testing.T) {
	dir, err := os.MkdirTemp("", "dt")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	uid := 1000
	socketPath := filepath.Join(dir, strconv.Itoa(uid), "launcher")
	require.NoError(t, os.MkdirAll(filepath.Dir(socketPath), 0o700))

	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: socketPath, Net: "unixpacket"})
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan *domain.Record, 1)
	errs := make(chan error, 1)
	go func() {
		conn, err := listener.AcceptUnix()
		if err != nil {
			errs <- err
			return
		}
		file, err := conn.File()
		conn.Close()
		if err != nil {
			errs <- err
			return
		}
		r := NewReceiver(file, 0, nil)
		defer r.Close()
		rec, err := r.ReceiveRecord(context.Background())
		if err != nil {
			errs <- err
			return
		}
		received <- rec
	}()

	fields := testRecord().Fields()
	fields["COREDUMP_PROC_MAPS"] = strings.Repeat("m", 5*DatagramSize)
	record := domain.NewRecord("s=sent", fields)

	sender := NewSender(SenderConfig{SocketTemplate: filepath.Join(dir, "%UID%", "launcher")}, zaptest.NewLogger(t))
	require.Equal(t, socketPath, sender.SocketPath(uid))
	require.NoError(t, sender.Send(context.Background(), record, false))

	select {
	case got := <-received:
		assert.Equal(t, record.Field("COREDUMP_PROC_MAPS"), got.Field("COREDUMP_PROC_MAPS"))
		assert.Equal(t, "s=sent", got.Cursor())
		assert.False(t, got.Pickup())
		assert.Equal(t, record.Identity(), got.Identity())
	case err := <-errs:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not finish")
	}
}

func TestSenderWithoutLauncher(t *testing.T) {
	sender := NewSender(SenderConfig{SocketTemplate: filepath.Join(t.TempDir(), "%UID%", "launcher")}, zaptest.NewLogger(t))

	err := sender.Send(context.Background(), testRecord(), false)
	assert.ErrorIs(t, err, ErrNoLauncher)
}

func TestSenderRefused(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the socket should be refuses the connection.
	path := filepath.Join(dir, "launcher")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	sender := NewSender(SenderConfig{SocketTemplate: path}, zaptest.NewLogger(t))
	err := sender.Send(context.Background(), testRecord(), false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoLauncher)
}

func TestSenderSocketPathTooLong(t *testing.T) {
	dir := t.TempDir()
	long := filepath.Join(dir, strings.Repeat("d", 120))
	require.NoError(t, os.MkdirAll(long, 0o700))
	path := filepath.Join(long, "launcher")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	sender := NewSender(SenderConfig{SocketTemplate: path}, zaptest.NewLogger(t))
	err := sender.Send(context.Background(), testRecord(), false)
	assert.ErrorIs(t, err, ErrSocketPath)
}
