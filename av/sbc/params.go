// Package sbc provides the SBC codec engine used by the A2DP media task.
package sbc

import (
	"fmt"
)

// ChannelMode is the SBC channel mode. Values match the two-bit field of the
// frame header.
type ChannelMode uint8

const (
	// Mono encodes a single channel.
	Mono ChannelMode = iota
	// DualChannel encodes two independent channels with separate bitpools.
	DualChannel
	// Stereo encodes two channels sharing one bitpool.
	Stereo
	// JointStereo is Stereo with per-subband mid/side coding.
	JointStereo
)

// String returns the mode name used in logs.
func (m ChannelMode) String() string {
	switch m {
	case Mono:
		return "mono"
	case DualChannel:
		return "dual_channel"
	case Stereo:
		return "stereo"
	case JointStereo:
		return "joint_stereo"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Channels returns the number of audio channels carried by the mode.
func (m ChannelMode) Channels() int {
	if m == Mono {
		return 1
	}
	return 2
}

// AllocationMethod selects how bits are distributed across subbands.
type AllocationMethod uint8

const (
	// AllocLoudness weights subbands with a psychoacoustic offset table.
	AllocLoudness AllocationMethod = iota
	// AllocSNR distributes bits by scale factor only.
	AllocSNR
)

// String returns the allocation name used in logs.
func (a AllocationMethod) String() string {
	if a == AllocSNR {
		return "snr"
	}
	return "loudness"
}

// SamplingFreq is the SBC sampling frequency code.
type SamplingFreq uint8

const (
	// Freq16000 is 16 kHz.
	Freq16000 SamplingFreq = iota
	// Freq32000 is 32 kHz.
	Freq32000
	// Freq44100 is 44.1 kHz.
	Freq44100
	// Freq48000 is 48 kHz.
	Freq48000
)

// Hz returns the frequency in hertz.
func (f SamplingFreq) Hz() uint32 {
	switch f {
	case Freq16000:
		return 16000
	case Freq32000:
		return 32000
	case Freq44100:
		return 44100
	default:
		return 48000
	}
}

// String returns the frequency in hertz as text.
func (f SamplingFreq) String() string {
	return fmt.Sprintf("%dHz", f.Hz())
}

// FreqFromHz maps a rate in hertz to its SBC code.
func FreqFromHz(hz uint32) (SamplingFreq, bool) {
	switch hz {
	case 16000:
		return Freq16000, true
	case 32000:
		return Freq32000, true
	case 44100:
		return Freq44100, true
	case 48000:
		return Freq48000, true
	default:
		return Freq48000, false
	}
}

// Params is the encoder configuration negotiated with the sink plus the
// bitrate/bitpool pair chosen by the bitpool search.
type Params struct {
	ChannelMode  ChannelMode
	Subbands     int // 4 or 8
	Blocks       int // 4, 8, 12 or 16
	Allocation   AllocationMethod
	SamplingFreq SamplingFreq
	BitRate      uint32 // target bitrate in kbps
	BitPool      int
}

// Channels returns the number of PCM channels the encoder consumes.
func (p Params) Channels() int {
	return p.ChannelMode.Channels()
}

// SamplesPerFrame returns the number of samples per channel in one frame.
func (p Params) SamplesPerFrame() int {
	return p.Subbands * p.Blocks
}

// PCMBytesPerFrame returns the size of one frame of 16-bit interleaved input.
func (p Params) PCMBytesPerFrame() int {
	return p.SamplesPerFrame() * p.Channels() * 2
}

// FrameLength returns the encoded frame size in bytes.
func (p Params) FrameLength() int {
	nch := p.Channels()
	n := 4 + (4*p.Subbands*nch)/8
	var bits int
	switch p.ChannelMode {
	case Mono, DualChannel:
		bits = p.Blocks * nch * p.BitPool
	case Stereo:
		bits = p.Blocks * p.BitPool
	case JointStereo:
		bits = p.Subbands + p.Blocks*p.BitPool
	}
	return n + (bits+7)/8
}

// ActualBitRate returns the bitrate in bits per second produced by these
// parameters.
func (p Params) ActualBitRate() uint32 {
	spf := p.SamplesPerFrame()
	if spf == 0 {
		return 0
	}
	return uint32(8 * p.FrameLength() * int(p.SamplingFreq.Hz()) / spf)
}

// MaxBitPool returns the largest bitpool the channel mode allows.
func (p Params) MaxBitPool() int {
	switch p.ChannelMode {
	case Stereo, JointStereo:
		if p.Subbands == 8 {
			return 255
		}
		return 32 * p.Subbands
	default:
		return 16 * p.Subbands
	}
}

// Validate checks that the parameters describe a legal SBC stream.
func (p Params) Validate() error {
	if p.ChannelMode > JointStereo {
		return fmt.Errorf("%w: channel mode %d", ErrInvalidParams, p.ChannelMode)
	}
	if p.Subbands != 4 && p.Subbands != 8 {
		return fmt.Errorf("%w: subbands %d (must be 4 or 8)", ErrInvalidParams, p.Subbands)
	}
	switch p.Blocks {
	case 4, 8, 12, 16:
	default:
		return fmt.Errorf("%w: blocks %d (must be 4, 8, 12 or 16)", ErrInvalidParams, p.Blocks)
	}
	if p.Allocation > AllocSNR {
		return fmt.Errorf("%w: allocation method %d", ErrInvalidParams, p.Allocation)
	}
	if p.SamplingFreq > Freq48000 {
		return fmt.Errorf("%w: sampling frequency code %d", ErrInvalidParams, p.SamplingFreq)
	}
	if p.BitPool < 2 || p.BitPool > p.MaxBitPool() {
		return fmt.Errorf("%w: bitpool %d outside [2,%d]", ErrInvalidParams, p.BitPool, p.MaxBitPool())
	}
	return nil
}
