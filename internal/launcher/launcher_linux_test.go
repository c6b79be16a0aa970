//go:build linux

package launcher

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/transport"
	"golang.org/x/sys/unix"
)

func connectedPair(t *testing.T) (*os.File, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return os.NewFile(uintptr(fds[0]), "activated"), fds[1]
}

func TestReceive(t *testing.T) {
	f := newFixture(t)
	file, peer := connectedPair(t)

	frame, err := transport.EncodeFrame(crash(nil), true)
	require.NoError(t, err)
	go func() {
		for _, chunk := range transport.Split(frame, transport.DatagramSize) {
			unix.Write(peer, chunk)
		}
		unix.Close(peer)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := f.launcher.Receive(ctx, file)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/kate", record.Exe)
	assert.Equal(t, 4242, record.PID)
	assert.True(t, record.Pickup())
	assert.Equal(t, coreFile, record.Field(domain.KeyFilename))
}

func TestReceiveMalformed(t *testing.T) {
	f := newFixture(t)
	file, peer := connectedPair(t)

	_, err := unix.Write(peer, []byte("{not json"))
	require.NoError(t, err)
	require.NoError(t, unix.Close(peer))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = f.launcher.Receive(ctx, file)
	assert.ErrorIs(t, err, transport.ErrMalformedFrame)
}
