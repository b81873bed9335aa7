package av

import (
	"fmt"

	"github.com/opd-ai/bluemedia/av/audio"
	"github.com/opd-ai/bluemedia/av/sbc"
)

// ControlCommand is a request byte received on the control channel.
// The numeric values are part of the wire contract with the audio client.
type ControlCommand uint8

const (
	// CmdNone means no command is pending.
	CmdNone ControlCommand = iota
	// CmdCheckReady asks whether a stream could be started.
	CmdCheckReady
	// CmdStart asks for the stream to start.
	CmdStart
	// CmdStop asks for the stream to stop.
	CmdStop
	// CmdSuspend asks for the stream to be suspended.
	CmdSuspend
)

// String returns the command name used in logs and metrics.
func (c ControlCommand) String() string {
	switch c {
	case CmdNone:
		return "none"
	case CmdCheckReady:
		return "check_ready"
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// AckStatus is the single byte written back for a control command.
type AckStatus uint8

const (
	// AckSuccess reports that the command completed.
	AckSuccess AckStatus = iota
	// AckFailure reports that the command was refused or failed.
	AckFailure
)

// String returns the status name used in logs and metrics.
func (a AckStatus) String() string {
	switch a {
	case AckSuccess:
		return "success"
	case AckFailure:
		return "failure"
	default:
		return fmt.Sprintf("ack(%d)", uint8(a))
	}
}

// TaskState is the lifecycle state of a MediaTask.
type TaskState uint32

const (
	// TaskOff means the event loop is not running.
	TaskOff TaskState = iota
	// TaskOn means the event loop is processing events.
	TaskOn
	// TaskShuttingDown means Shutdown has been called.
	TaskShuttingDown
)

// String returns the state name used in logs.
func (s TaskState) String() string {
	switch s {
	case TaskOff:
		return "off"
	case TaskOn:
		return "on"
	case TaskShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// TranscodingFormat selects the conversion the pipeline performs.
type TranscodingFormat uint8

const (
	// TranscodeNone means no feeding has been configured.
	TranscodeNone TranscodingFormat = iota
	// TranscodePCMToSBC encodes PCM from the audio channel into SBC.
	TranscodePCMToSBC
)

// String returns the format name used in logs.
func (f TranscodingFormat) String() string {
	switch f {
	case TranscodeNone:
		return "none"
	case TranscodePCMToSBC:
		return "pcm_to_sbc"
	default:
		return fmt.Sprintf("transcoding(%d)", uint8(f))
	}
}

// FeedingConfig describes the audio the client writes to the data channel.
type FeedingConfig struct {
	Format        TranscodingFormat
	SampleRate    uint32
	BitsPerSample int
	Channels      int
	Mode          audio.Mode
}

// pcmFormat returns the source format handed to the feeder.
func (f FeedingConfig) pcmFormat() audio.Format {
	return audio.Format{
		SampleRate:    f.SampleRate,
		BitsPerSample: f.BitsPerSample,
		Channels:      f.Channels,
	}
}

// EncoderConfig is the SBC configuration negotiated with the sink.
type EncoderConfig struct {
	ChannelMode  sbc.ChannelMode
	Subbands     int
	Blocks       int
	Allocation   sbc.AllocationMethod
	SamplingFreq sbc.SamplingFreq
	// MTU is the largest media payload the peer accepts.
	MTU int
}

// EncoderUpdate carries the negotiated bitpool range and the peer MTU.
type EncoderUpdate struct {
	MinBitPool int
	MaxBitPool int
	MinMTU     int
}

// CodecConfig is what the AV connection reports after negotiation.
type CodecConfig struct {
	Encoder EncoderConfig
	Update  EncoderUpdate
}

// StreamRequest is an asynchronous request to the AV connection.
type StreamRequest uint8

const (
	// RequestStartStream asks the AV layer to start the stream.
	RequestStartStream StreamRequest = iota + 1
	// RequestStopStream asks the AV layer to stop the stream.
	RequestStopStream
	// RequestSuspendStream asks the AV layer to suspend the stream.
	RequestSuspendStream
)

// String returns the request name used in logs.
func (r StreamRequest) String() string {
	switch r {
	case RequestStartStream:
		return "start_stream"
	case RequestStopStream:
		return "stop_stream"
	case RequestSuspendStream:
		return "suspend_stream"
	default:
		return fmt.Sprintf("request(%d)", uint8(r))
	}
}

// AVConnection is the narrow view the media task has of the Bluetooth AV
// layer. Calls are made from the media task goroutine and must not block;
// results of dispatched requests come back through the MediaTask On*
// callbacks.
type AVConnection interface {
	// StreamReady reports whether a stream can be set up and started.
	StreamReady() bool
	// StreamStartedReady reports whether the stream is already started.
	StreamStartedReady() bool
	// Dispatch posts an asynchronous stream request.
	Dispatch(req StreamRequest)
	// DataReady signals that new media packets are queued.
	DataReady()
	// CodecConfig returns the negotiated SBC configuration.
	CodecConfig() (CodecConfig, error)
}

// PipelineStats is a snapshot of the pipeline accounting.
type PipelineStats struct {
	Running       bool
	TxFlush       bool
	Timestamp     uint32
	FrameCounter  int64
	FeedResidue   int
	QueueLen      int
	FramesEncoded uint64
	Underflows    uint64
	EncodeErrors  uint64
}
