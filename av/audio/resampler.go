package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved PCM between sample rates, sample widths
// and channel layouts.
//
// Uses linear interpolation on an integer phase accumulator, so the number
// of output frames produced over any run of calls is exact. Output is
// always 16-bit little-endian. State is kept between calls; one Resampler
// serves one stream.
type Resampler struct {
	inputRate      uint32
	outputRate     uint32
	inputChannels  int
	outputChannels int
	bitsPerSample  int

	phase   int64   // position of the next output frame, in 1/outputRate source frames
	history []int32 // last input frame, per input channel
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate      uint32 // Input sample rate in Hz
	OutputRate     uint32 // Output sample rate in Hz
	InputChannels  int    // 1=mono, 2=stereo
	OutputChannels int    // 1=mono, 2=stereo
	BitsPerSample  int    // Input sample width: 8 (unsigned) or 16 (signed LE)
}

// NewResampler creates a new audio resampler instance.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: Any error that occurred during initialization
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("%w: input=%d, output=%d", ErrInvalidRate, config.InputRate, config.OutputRate)
	}
	if !validChannels(config.InputChannels) || !validChannels(config.OutputChannels) {
		logrus.WithFields(logrus.Fields{
			"function":        "NewResampler",
			"input_channels":  config.InputChannels,
			"output_channels": config.OutputChannels,
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("%w: input=%d, output=%d (must be 1 or 2)", ErrUnsupportedChannels, config.InputChannels, config.OutputChannels)
	}
	if config.BitsPerSample != 8 && config.BitsPerSample != 16 {
		logrus.WithFields(logrus.Fields{
			"function":        "NewResampler",
			"bits_per_sample": config.BitsPerSample,
		}).Error("Sample width validation failed")
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, config.BitsPerSample)
	}

	r := &Resampler{
		inputRate:      config.InputRate,
		outputRate:     config.OutputRate,
		inputChannels:  config.InputChannels,
		outputChannels: config.OutputChannels,
		bitsPerSample:  config.BitsPerSample,
		history:        make([]int32, config.InputChannels),
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewResampler",
		"input_rate":      r.inputRate,
		"output_rate":     r.outputRate,
		"input_channels":  r.inputChannels,
		"output_channels": r.outputChannels,
		"bits_per_sample": r.bitsPerSample,
	}).Debug("Audio resampler created")

	return r, nil
}

func validChannels(n int) bool {
	return n == 1 || n == 2
}

// InputFrameSize returns the byte size of one interleaved input frame.
func (r *Resampler) InputFrameSize() int {
	return r.inputChannels * r.bitsPerSample / 8
}

// OutputFrameSize returns the byte size of one interleaved output frame.
func (r *Resampler) OutputFrameSize() int {
	return r.outputChannels * 2
}

// Resample converts src and appends the output to dst.
//
// src must hold whole input frames. Every input frame is consumed; the
// number of output frames varies by one between calls as the phase
// accumulator wraps.
//
// Parameters:
//   - dst: Buffer the 16-bit output is appended to
//   - src: Interleaved input PCM
//
// Returns:
//   - []byte: dst extended with the converted frames
func (r *Resampler) Resample(dst, src []byte) []byte {
	frameSize := r.InputFrameSize()
	n := int64(len(src) / frameSize)
	if n == 0 {
		return dst
	}

	inRate := int64(r.inputRate)
	outRate := int64(r.outputRate)
	prev := make([]int32, r.inputChannels)
	cur := make([]int32, r.inputChannels)
	out := make([]int32, r.inputChannels)

	for {
		idx := r.phase / outRate
		if idx >= n {
			break
		}
		frac := r.phase % outRate

		if idx == 0 {
			copy(prev, r.history)
		} else {
			r.decodeFrame(src, int(idx-1), prev)
		}
		r.decodeFrame(src, int(idx), cur)
		for ch := range out {
			out[ch] = prev[ch] + int32(int64(cur[ch]-prev[ch])*frac/outRate)
		}
		dst = r.appendFrame(dst, out)

		r.phase += inRate
	}

	r.phase -= n * outRate
	r.decodeFrame(src, int(n-1), r.history)
	return dst
}

// decodeFrame widens input frame i to signed 16-bit range.
func (r *Resampler) decodeFrame(src []byte, i int, out []int32) {
	base := i * r.InputFrameSize()
	for ch := 0; ch < r.inputChannels; ch++ {
		if r.bitsPerSample == 8 {
			out[ch] = (int32(src[base+ch]) - 128) << 8
		} else {
			off := base + 2*ch
			out[ch] = int32(int16(binary.LittleEndian.Uint16(src[off:])))
		}
	}
}

// appendFrame maps the input channel layout onto the output layout.
func (r *Resampler) appendFrame(dst []byte, in []int32) []byte {
	var l, rr int32
	switch {
	case r.inputChannels == r.outputChannels:
		l = in[0]
		rr = in[len(in)-1]
	case r.inputChannels == 1:
		l, rr = in[0], in[0]
	default:
		l = (in[0] + in[1]) / 2
		rr = l
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(l)))
	if r.outputChannels == 2 {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(rr)))
	}
	return dst
}

// Reset clears the interpolation state, for use after a discontinuity.
func (r *Resampler) Reset() {
	r.phase = 0
	for i := range r.history {
		r.history[i] = 0
	}
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 {
	return r.inputRate
}

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 {
	return r.outputRate
}
