package audio

import "errors"

var (
	// ErrInvalidRate indicates a zero sample rate.
	ErrInvalidRate = errors.New("audio: invalid sample rate")

	// ErrUnsupportedChannels indicates a channel count other than 1 or 2.
	ErrUnsupportedChannels = errors.New("audio: unsupported channel count")

	// ErrUnsupportedFormat indicates a sample width the feeder cannot
	// convert, such as 24-bit PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported sample format")

	// ErrFrameBuffer indicates a destination too small for one frame.
	ErrFrameBuffer = errors.New("audio: destination shorter than one frame")
)
