package uipc

import (
	"bytes"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemChannel is an in-process Channel. The server side is the Channel
// interface; the client side is Connect, Send, Hangup and Received.
//
// It is used when the audio source lives in the same process and by tests.
type MemChannel struct {
	mu        sync.Mutex
	id        ChannelID
	handler   EventHandler
	open      bool
	connected bool
	hungUp    bool
	callback  bool
	rx        bytes.Buffer // client -> server
	tx        bytes.Buffer // server -> client
}

// NewMemChannel creates a closed in-memory channel.
func NewMemChannel(id ChannelID) *MemChannel {
	return &MemChannel{id: id}
}

// ID returns the logical channel identifier.
func (c *MemChannel) ID() ChannelID {
	return c.id
}

// Open starts accepting a client. The channel starts in callback mode.
func (c *MemChannel) Open(handler EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return ErrChannelOpen
	}
	c.open = true
	c.connected = false
	c.hungUp = false
	c.callback = true
	c.handler = handler
	c.rx.Reset()
	c.tx.Reset()

	logrus.WithFields(logrus.Fields{
		"function": "MemChannel.Open",
		"channel":  c.id.String(),
	}).Debug("Channel listening")
	return nil
}

// Close detaches the client and raises EventClose if the channel was open.
func (c *MemChannel) Close() error {
	c.mu.Lock()
	h := c.closeLocked()
	c.mu.Unlock()

	c.notify(h, EventClose)
	return nil
}

// closeLocked resets the channel and returns the handler to notify, or nil
// if the channel was not open.
func (c *MemChannel) closeLocked() EventHandler {
	if !c.open {
		return nil
	}
	h := c.handler
	c.open = false
	c.connected = false
	c.handler = nil
	c.rx.Reset()

	logrus.WithFields(logrus.Fields{
		"function": "MemChannel.close",
		"channel":  c.id.String(),
	}).Debug("Channel closed")
	return h
}

// Read copies buffered bytes into p without blocking. Once the client has
// hung up and the buffer is empty the channel closes itself and io.EOF is
// returned.
func (c *MemChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ErrChannelClosed
	}
	if c.rx.Len() == 0 {
		if c.hungUp {
			h := c.closeLocked()
			c.mu.Unlock()
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
func (c *MemChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0, ErrChannelClosed
	}
	if !c.connected {
		return 0, ErrNoClient
	}
	return c.tx.Write(p)
}

// Ioctl performs a control operation on the channel.
func (c *MemChannel) Ioctl(req IoctlRequest) error {
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

// IsOpen reports whether the channel is accepting or serving a client.
func (c *MemChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Connect attaches a client and raises EventOpen.
func (c *MemChannel) Connect() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.connected = true
	c.hungUp = false
	h := c.handler
	c.mu.Unlock()

	c.notify(h, EventOpen)
	return nil
}

// Send delivers p from the client to the server side. EventDataReady is
// raised in callback mode.
func (c *MemChannel) Send(p []byte) error {
	c.mu.Lock()
	if !c.open || !c.connected {
		c.mu.Unlock()
		return ErrNoClient
	}
	c.rx.Write(p)
	var h EventHandler
	if c.callback {
		h = c.handler
	}
	c.mu.Unlock()

	c.notify(h, EventDataReady)
	return nil
}

// Hangup detaches the client. Buffered bytes stay readable; the next read
// after they are drained closes the channel.
func (c *MemChannel) Hangup() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.hungUp = true
	var h EventHandler
	if c.callback {
		h = c.handler
	}
	c.mu.Unlock()

	c.notify(h, EventDataReady)
}

// Received drains and returns the bytes the server wrote to the client.
func (c *MemChannel) Received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]byte, c.tx.Len())
	copy(out, c.tx.Bytes())
	c.tx.Reset()
	return out
}

// Buffered returns the number of unread bytes on the server side.
func (c *MemChannel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rx.Len()
}

func (c *MemChannel) notify(h EventHandler, ev Event) {
	if h != nil {
		h(c.id, ev)
	}
}
