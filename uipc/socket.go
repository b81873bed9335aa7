package uipc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWriteTimeout bounds a single write to the client.
const DefaultWriteTimeout = 250 * time.Millisecond

// SocketChannel is a Channel served over a Unix domain socket. One client is
// served at a time; further connection attempts are refused until the
// channel is closed and reopened.
type SocketChannel struct {
	mu       sync.Mutex
	id       ChannelID
	path     string
	timeout  time.Duration
	handler  EventHandler
	listener net.Listener
	conn     net.Conn
	open     bool
	hungUp   bool
	callback bool
	rx       bytes.Buffer
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewSocketChannel creates a closed channel that will listen on path.
func NewSocketChannel(id ChannelID, path string) *SocketChannel {
	return &SocketChannel{id: id, path: path, timeout: DefaultWriteTimeout}
}

// SetWriteTimeout changes the deadline applied to each write. Non-positive
// values restore DefaultWriteTimeout.
func (c *SocketChannel) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// ID returns the logical channel identifier.
func (c *SocketChannel) ID() ChannelID {
	return c.id
}

// Path returns the socket path.
func (c *SocketChannel) Path() string {
	return c.path
}

// Open starts listening on the socket path. A stale socket file left by a
// previous run is removed first.
func (c *SocketChannel) Open(handler EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return ErrChannelOpen
	}

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "SocketChannel.Open",
			"channel":  c.id.String(),
			"path":     c.path,
			"error":    err.Error(),
		}).Warn("Could not remove stale socket")
	}

	ln, err := net.Listen("unix", c.path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SocketChannel.Open",
			"channel":  c.id.String(),
			"path":     c.path,
			"error":    err.Error(),
		}).Error("Failed to listen")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	c.listener = ln
	c.handler = handler
	c.open = true
	c.hungUp = false
	c.callback = true
	c.rx.Reset()
	c.cancel = cancel
	c.group = g

	g.Go(func() error {
		return c.serve(ctx, ln)
	})

	logrus.WithFields(logrus.Fields{
		"function": "SocketChannel.Open",
		"channel":  c.id.String(),
		"path":     c.path,
	}).Info("Channel listening")
	return nil
}

// serve accepts clients until the listener is closed.
func (c *SocketChannel) serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "SocketChannel.serve",
				"channel":  c.id.String(),
				"error":    err.Error(),
			}).Error("Accept failed")
			return err
		}

		c.mu.Lock()
		if c.conn != nil || !c.open {
			c.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "SocketChannel.serve",
				"channel":  c.id.String(),
			}).Warn("Refusing second client")
			conn.Close()
			continue
		}
		c.conn = conn
		c.hungUp = false
		h := c.handler
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "SocketChannel.serve",
			"channel":  c.id.String(),
		}).Info("Client attached")
		c.notify(h, EventOpen)

		c.readLoop(conn)
	}
}

// readLoop buffers everything the client sends until it hangs up.
func (c *SocketChannel) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.rx.Write(buf[:n])
			var h EventHandler
			if c.callback {
				h = c.handler
			}
			c.mu.Unlock()
			c.notify(h, EventDataReady)
		}
		if err != nil {
			c.mu.Lock()
			var h EventHandler
			if c.conn == conn {
				c.hungUp = true
				if c.callback {
					h = c.handler
				}
			}
			c.mu.Unlock()

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "SocketChannel.readLoop",
					"channel":  c.id.String(),
					"error":    err.Error(),
				}).Warn("Client read failed")
			}
			c.notify(h, EventDataReady)
			return
		}
	}
}

// Close detaches the client, stops listening and raises EventClose if the
// channel was open.
func (c *SocketChannel) Close() error {
	c.mu.Lock()
	h := c.closeLocked()
	g := c.group
	c.group = nil
	c.mu.Unlock()

	if g != nil {
		if err := g.Wait(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SocketChannel.Close",
				"channel":  c.id.String(),
				"error":    err.Error(),
			}).Warn("Server goroutine ended with error")
		}
	}
	c.notify(h, EventClose)
	return nil
}

func (c *SocketChannel) closeLocked() EventHandler {
	if !c.open {
		return nil
	}
	h := c.handler
	c.open = false
	c.handler = nil
	c.cancel()
	c.listener.Close()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.rx.Reset()
	os.Remove(c.path)

	logrus.WithFields(logrus.Fields{
		"function": "SocketChannel.close",
		"channel":  c.id.String(),
	}).Info("Channel closed")
	return h
}

// Read copies buffered bytes into p without blocking. Once the client has
// hung up and the buffer is drained the channel closes itself and io.EOF is
// returned.
func (c *SocketChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ErrChannelClosed
	}
	if c.rx.Len() == 0 {
		if c.hungUp {
			h := c.closeLocked()
			c.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "SocketChannel.Read",
				"channel":  c.id.String(),
			}).Warn("Channel detached remotely")
			c.notify(h, EventClose)
			return 0, io.EOF
		}
		c.mu.Unlock()
		return 0, nil
	}
	n, _ := c.rx.Read(p)
	c.mu.Unlock()
	return n, nil
}

// Write sends p to the attached client.
func (c *SocketChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ErrChannelClosed
	}
	conn := c.conn
	timeout := c.timeout
	c.mu.Unlock()

	if conn == nil {
		return 0, ErrNoClient
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return conn.Write(p)
}

// Ioctl performs a control operation on the channel.
func (c *SocketChannel) Ioctl(req IoctlRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req {
	case IoctlFlushRx:
		c.rx.Reset()
	case IoctlRegisterCallback:
		c.callback = true
	case IoctlDeregisterCallback:
		c.callback = false
	default:
		return ErrUnsupportedIoctl
	}
	return nil
}

// IsOpen reports whether the channel is listening or serving a client.
func (c *SocketChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *SocketChannel) notify(h EventHandler, ev Event) {
	if h != nil {
		h(c.id, ev)
	}
}
