package uipc

import (
	"errors"
	"fmt"
)

// ChannelID identifies a logical channel.
type ChannelID uint8

const (
	// ChannelControl carries control requests and acknowledgements.
	ChannelControl ChannelID = iota
	// ChannelAudio carries PCM audio from the client.
	ChannelAudio
)

// String returns the channel name used in logs.
func (id ChannelID) String() string {
	switch id {
	case ChannelControl:
		return "av_ctrl"
	case ChannelAudio:
		return "av_audio"
	default:
		return fmt.Sprintf("channel(%d)", uint8(id))
	}
}

// Event is a channel lifecycle or data notification.
type Event uint8

const (
	// EventOpen is raised when a client attaches to the channel.
	EventOpen Event = iota + 1
	// EventClose is raised when the channel is closed by either side.
	EventClose
	// EventDataReady is raised when new bytes are buffered and the channel
	// is in callback mode.
	EventDataReady
)

// String returns the event name used in logs.
func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventDataReady:
		return "data_ready"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// EventHandler receives channel events. Handlers must not block; the media
// task forwards them into its own mailbox.
type EventHandler func(id ChannelID, ev Event)

// IoctlRequest selects a channel control operation.
type IoctlRequest uint8

const (
	// IoctlFlushRx discards all buffered, unread bytes.
	IoctlFlushRx IoctlRequest = iota + 1
	// IoctlRegisterCallback switches the channel to callback mode, where
	// EventDataReady is raised whenever bytes arrive.
	IoctlRegisterCallback
	// IoctlDeregisterCallback switches the channel to polling mode. The
	// reader is expected to poll with Read; no EventDataReady is raised.
	IoctlDeregisterCallback
)

// String returns the request name used in logs.
func (r IoctlRequest) String() string {
	switch r {
	case IoctlFlushRx:
		return "flush_rx"
	case IoctlRegisterCallback:
		return "register_callback"
	case IoctlDeregisterCallback:
		return "deregister_callback"
	default:
		return fmt.Sprintf("ioctl(%d)", uint8(r))
	}
}

// Channel is a duplex, non-blocking byte channel.
type Channel interface {
	// ID returns the logical channel identifier.
	ID() ChannelID
	// Open starts accepting a client. Events are delivered to handler.
	Open(handler EventHandler) error
	// Close detaches the client and stops accepting. EventClose is raised
	// if the channel was open.
	Close() error
	// Read copies up to len(p) buffered bytes into p and returns
	// immediately. It returns io.EOF once the client has hung up and the
	// buffer is drained.
	Read(p []byte) (int, error)
	// Write sends p to the attached client.
	Write(p []byte) (int, error)
	// Ioctl performs a control operation on the channel.
	Ioctl(req IoctlRequest) error
	// IsOpen reports whether Open has been called without a matching Close.
	IsOpen() bool
}

var (
	// ErrChannelClosed indicates an operation on a channel that is not open.
	ErrChannelClosed = errors.New("uipc: channel closed")

	// ErrChannelOpen indicates Open on an already open channel.
	ErrChannelOpen = errors.New("uipc: channel already open")

	// ErrNoClient indicates a write while no client is attached.
	ErrNoClient = errors.New("uipc: no client attached")

	// ErrUnsupportedIoctl indicates an unknown ioctl request.
	ErrUnsupportedIoctl = errors.New("uipc: unsupported ioctl")
)
