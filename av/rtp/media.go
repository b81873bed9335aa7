package rtp

import "fmt"

// Sizes reserved in front of the SBC frames of each transport buffer.
const (
	// BufferHeaderSize is the per-buffer bookkeeping header.
	BufferHeaderSize = 8
	// MediaOffset is the room kept for the AVDTP and L2CAP headers.
	MediaOffset = 23
	// SBCHeaderSize is the A2DP SBC media payload header.
	SBCHeaderSize = 1
	// ContentProtectionHeaderSize is the SCMS-T header.
	ContentProtectionHeaderSize = 1
	// PacketPrefixSize counts the timestamp and frame count that travel
	// with every packet.
	PacketPrefixSize = 5
	// MaxFramesPerPacket is the largest count the 4-bit header field holds.
	MaxFramesPerPacket = 15
)

// PayloadCeiling returns the most frame bytes a buffer of bufferSize bytes
// can carry once all headers are reserved.
func PayloadCeiling(bufferSize int, contentProtection bool) int {
	n := bufferSize - BufferHeaderSize - MediaOffset - SBCHeaderSize
	if contentProtection {
		n -= ContentProtectionHeaderSize
	}
	return max(n, 0)
}

// MediaPacket is one outbound packet: consecutive SBC frames sharing a
// timestamp.
type MediaPacket struct {
	// Timestamp is the sample count of the first frame.
	Timestamp uint32
	// FrameCount is the number of frames in Payload, at most 15.
	FrameCount int
	// Payload holds the concatenated frames.
	Payload []byte
}

// Len returns the number of frame bytes in the packet.
func (p *MediaPacket) Len() int {
	return len(p.Payload)
}

// Append adds one encoded frame.
func (p *MediaPacket) Append(frame []byte) {
	p.Payload = append(p.Payload, frame...)
	p.FrameCount++
}

// Reset empties the packet, keeping its storage.
func (p *MediaPacket) Reset() {
	p.Timestamp = 0
	p.FrameCount = 0
	p.Payload = p.Payload[:0]
}

// String describes the packet for logs.
func (p *MediaPacket) String() string {
	return fmt.Sprintf("media(ts=%d frames=%d bytes=%d)", p.Timestamp, p.FrameCount, len(p.Payload))
}
