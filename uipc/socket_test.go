package uipc

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketChannelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.sock")
	ch := NewSocketChannel(ChannelControl, path)
	rec := &eventRecorder{}

	require.NoError(t, ch.Open(rec.handle))
	t.Cleanup(func() { _ = ch.Close() })

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		evs := rec.snapshot()
		return len(evs) > 0 && evs[0] == EventOpen
	}, time.Second, 5*time.Millisecond)

	_, err = client.Write([]byte{1, 2})
	require.NoError(t, err)

	buf := make([]byte, 8)
	var got []byte
	require.Eventually(t, func() bool {
		n, err := ch.Read(buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{1, 2}, got)

	_, err = ch.Write([]byte{0})
	require.NoError(t, err)
	ack := make([]byte, 1)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(client, ack)
	require.NoError(t, err)
	assert.Equal(t, byte(0), ack[0])
}

func TestSocketChannelDetachClosesChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.sock")
	ch := NewSocketChannel(ChannelAudio, path)
	rec := &eventRecorder{}
	require.NoError(t, ch.Open(rec.handle))
	t.Cleanup(func() { _ = ch.Close() })

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Close())

	buf := make([]byte, 8)
	require.Eventually(t, func() bool {
		_, err := ch.Read(buf)
		return err == io.EOF
	}, time.Second, 5*time.Millisecond)

	assert.False(t, ch.IsOpen())
	evs := rec.snapshot()
	assert.Equal(t, EventClose, evs[len(evs)-1])
}

func TestSocketChannelReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.sock")
	ch := NewSocketChannel(ChannelControl, path)

	require.NoError(t, ch.Open(nil))
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Open(nil))
	require.NoError(t, ch.Close())

	_, err := ch.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrChannelClosed)
}
