package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestDialReadWrite(t *testing.T) {
	ln := listen(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	d := NewTCPDialer(ln.Addr().String(), time.Second, time.Second)
	ch, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	peer := <-accepted
	defer peer.Close()

	_, err = ch.Write([]byte("stopj(2)\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := io.ReadAtLeast(peer, buf, 9)
	require.NoError(t, err)
	assert.Equal(t, "stopj(2)\n", string(buf[:n]))

	_, err = peer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	n, err = io.ReadAtLeast(ch, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewTCPDialer(addr, 500*time.Millisecond, time.Second).Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)

	var connErr *types.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "dial", connErr.Op)
	assert.Equal(t, addr, connErr.Address)
}

func TestReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConn(client, "pipe", 20*time.Millisecond, 0)
	defer c.Close()

	_, err := c.Read(make([]byte, 8))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.True(t, IsTimeout(err))
}

func TestReadEOF(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(client, "pipe", time.Second, time.Second)
	defer c.Close()

	server.Close()
	_, err := c.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)
}

func TestWriteAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConn(client, "pipe", 0, 0)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Write([]byte("x"))
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestDialerFunc(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var d Dialer = DialerFunc(func(ctx context.Context) (Channel, error) {
		return NewConn(client, "pipe", 0, 0), nil
	})
	ch, err := d.Dial(context.Background())
	require.NoError(t, err)
	assert.NoError(t, ch.Close())
}
