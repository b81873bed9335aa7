package rtp

import "errors"

var (
	// ErrNoBuffers indicates the buffer pool is exhausted.
	ErrNoBuffers = errors.New("rtp: no free media buffers")

	// ErrEmptyPacket indicates an empty datagram.
	ErrEmptyPacket = errors.New("rtp: empty packet")

	// ErrShortPayload indicates a payload missing its media headers.
	ErrShortPayload = errors.New("rtp: payload shorter than media headers")

	// ErrFragmented indicates a fragmented SBC payload, which is not
	// produced or accepted.
	ErrFragmented = errors.New("rtp: fragmented payload not supported")

	// ErrUnexpectedSSRC indicates a packet from a different source.
	ErrUnexpectedSSRC = errors.New("rtp: unexpected SSRC")

	// ErrTooManyFrames indicates a media packet with more than 15 frames.
	ErrTooManyFrames = errors.New("rtp: frame count exceeds header field")
)
