// Package wire provides the byte-stream channels to the controller.
package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/types"
)

// Channel is a framing-free duplex byte stream.
type Channel interface {
	io.ReadWriteCloser
}

// Dialer opens a fresh Channel. Monitors call it again after every
// connection loss.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// TCPDialer dials address with a connect timeout. Channels it returns use
// ReadTimeout and WriteTimeout as per-call deadlines.
type TCPDialer struct {
	Address      string
	Timeout      time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewTCPDialer(address string, timeout, readTimeout time.Duration) *TCPDialer {
	return &TCPDialer{
		Address:      address,
		Timeout:      timeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: timeout,
	}
}

// Dial stellt die TCP-Verbindung her
func (d *TCPDialer) Dial(ctx context.Context) (Channel, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, &types.ConnectionError{Address: d.Address, Op: "dial", Err: err}
	}
	return NewConn(conn, d.Address, d.ReadTimeout, d.WriteTimeout), nil
}

// Conn wraps a net.Conn with deadlines and typed errors. Reads are expected
// from one goroutine; writes are serialized.
type Conn struct {
	conn         net.Conn
	address      string
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewConn(conn net.Conn, address string, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         conn,
		address:      address,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Read returns io.EOF unchanged when the peer closed the stream.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	n, err := c.conn.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, c.wrap("read", err)
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, c.wrap("write", net.ErrClosed)
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, c.wrap("write", err)
	}
	return n, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Conn) Address() string {
	return c.address
}

func (c *Conn) wrap(op string, err error) error {
	return &types.ConnectionError{Address: c.address, Op: op, Err: err}
}

// IsTimeout reports whether err came from an expired read or write deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
