package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Mode selects how a short read is treated.
type Mode uint8

const (
	// ModeSync keeps whatever arrived and reports the frame as not ready.
	ModeSync Mode = iota
	// ModeAsync pads the missing bytes with silence.
	ModeAsync
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Format describes interleaved PCM.
type Format struct {
	SampleRate    uint32
	BitsPerSample int
	Channels      int
}

// FrameSize returns the byte size of one interleaved frame.
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// FeederConfig configures a Feeder.
type FeederConfig struct {
	// Source is the PCM the client writes to the audio channel.
	Source Format
	// OutputRate is the encoder sampling frequency.
	OutputRate uint32
	// OutputChannels is the encoder channel count.
	OutputChannels int
	// SamplesPerFrame is the encoder block length per channel.
	SamplesPerFrame int
	// Mode selects short read handling.
	Mode Mode
}

// Feeder pulls PCM from a non-blocking reader and hands out exactly one
// encoder frame of 16-bit interleaved samples per successful ReadFrame.
//
// Bytes that arrive without completing a frame are kept as residue and
// used first on the next call.
type Feeder struct {
	cfg          FeederConfig
	bytesNeeded  int
	direct       bool
	resampler    *Resampler
	residue      []byte
	carry        int64
	pending      []byte
	readBuf      []byte
	sourceFrames int64
}

// NewFeeder creates a feeder for the given source and encoder geometry.
func NewFeeder(cfg FeederConfig) (*Feeder, error) {
	src := cfg.Source
	if src.BitsPerSample != 8 && src.BitsPerSample != 16 {
		logrus.WithFields(logrus.Fields{
			"function":        "NewFeeder",
			"bits_per_sample": src.BitsPerSample,
		}).Error("Unsupported feeding sample width")
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, src.BitsPerSample)
	}
	if cfg.SamplesPerFrame <= 0 {
		return nil, fmt.Errorf("audio: samples per frame must be positive, got %d", cfg.SamplesPerFrame)
	}

	r, err := NewResampler(ResamplerConfig{
		InputRate:      src.SampleRate,
		OutputRate:     cfg.OutputRate,
		InputChannels:  src.Channels,
		OutputChannels: cfg.OutputChannels,
		BitsPerSample:  src.BitsPerSample,
	})
	if err != nil {
		return nil, err
	}

	bytesNeeded := cfg.SamplesPerFrame * cfg.OutputChannels * 2
	f := &Feeder{
		cfg:         cfg,
		bytesNeeded: bytesNeeded,
		direct: src.SampleRate == cfg.OutputRate &&
			src.BitsPerSample == 16 &&
			src.Channels == cfg.OutputChannels,
		resampler: r,
		residue:   make([]byte, 0, 2*bytesNeeded),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewFeeder",
		"source_rate":  src.SampleRate,
		"source_bits":  src.BitsPerSample,
		"source_ch":    src.Channels,
		"output_rate":  cfg.OutputRate,
		"output_ch":    cfg.OutputChannels,
		"bytes_needed": bytesNeeded,
		"direct":       f.direct,
		"mode":         cfg.Mode.String(),
	}).Info("Feeder configured")

	return f, nil
}

// BytesNeeded returns the size of one output frame in bytes.
func (f *Feeder) BytesNeeded() int {
	return f.bytesNeeded
}

// Residue returns the number of output bytes buffered toward the next frame.
func (f *Feeder) Residue() int {
	return len(f.residue)
}

// Direct reports whether the source is copied without conversion.
func (f *Feeder) Direct() bool {
	return f.direct
}

// SourceFrames returns the number of whole source frames consumed so far.
func (f *Feeder) SourceFrames() int64 {
	return f.sourceFrames
}

// Format returns the source PCM format.
func (f *Feeder) Format() Format {
	return f.cfg.Source
}

// Reset discards residue and conversion state.
func (f *Feeder) Reset() {
	f.residue = f.residue[:0]
	f.pending = f.pending[:0]
	f.carry = 0
	f.sourceFrames = 0
	f.resampler.Reset()
}

// ReadFrame fills dst with one frame of 16-bit interleaved samples read
// from r. It returns false when not enough audio is available yet; bytes
// read so far are kept for the next call.
func (f *Feeder) ReadFrame(r io.Reader, dst []int16) bool {
	if len(dst) < f.bytesNeeded/2 {
		logrus.WithFields(logrus.Fields{
			"function": "Feeder.ReadFrame",
			"dst":      len(dst),
			"need":     f.bytesNeeded / 2,
			"error":    ErrFrameBuffer.Error(),
		}).Error("Frame buffer too small")
		return false
	}
	if f.direct {
		return f.readDirect(r, dst)
	}
	return f.readConverted(r, dst)
}

func (f *Feeder) readDirect(r io.Reader, dst []int16) bool {
	have := len(f.residue)
	want := f.bytesNeeded - have
	f.residue = f.residue[:f.bytesNeeded]
	n := readSome(r, f.residue[have:])
	f.residue = f.residue[:have+n]

	if n < want {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Feeder.readDirect",
				"read":     n,
				"wanted":   want,
				"residue":  len(f.residue),
			}).Debug("Partial read, keeping residue")
		}
		return false
	}

	f.emit(dst)
	return true
}

// readConverted keeps carry in units of 1/OutputRate source frames. A
// negative carry is source already read beyond what emitted frames used.
func (f *Feeder) readConverted(r io.Reader, dst []int16) bool {
	if len(f.residue) >= f.bytesNeeded {
		f.emit(dst)
		return true
	}

	outRate := int64(f.cfg.OutputRate)
	perFrame := int64(f.cfg.SamplesPerFrame) * int64(f.cfg.Source.SampleRate)
	need := f.carry + perFrame
	srcFrames := (need + outRate - 1) / outRate

	frameSize := f.cfg.Source.FrameSize()
	total := int(srcFrames) * frameSize
	prior := len(f.pending)
	want := max(total-prior, 0)

	if cap(f.readBuf) < prior+want {
		f.readBuf = make([]byte, prior+want)
	}
	buf := f.readBuf[:prior+want]
	copy(buf, f.pending)

	n := readSome(r, buf[prior:])
	if n == 0 {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Feeder.readConverted",
				"wanted":   want,
			}).Debug("Nothing to read")
		}
		return false
	}

	got := prior + n
	if n < want {
		logrus.WithFields(logrus.Fields{
			"function": "Feeder.readConverted",
			"read":     n,
			"wanted":   want,
			"mode":     f.cfg.Mode.String(),
		}).Warn("Underrun on audio channel")
		if f.cfg.Mode == ModeAsync {
			clear(buf[got:])
			got = len(buf)
		}
	}

	whole := got - got%frameSize
	f.pending = append(f.pending[:0], buf[whole:got]...)

	frames := int64(whole / frameSize)
	f.carry = need - frames*outRate
	f.sourceFrames += frames

	f.residue = f.resampler.Resample(f.residue, buf[:whole])
	if len(f.residue) < f.bytesNeeded {
		// The frame is still owed; the next call asks only for the rest.
		f.carry -= perFrame
		return false
	}

	f.emit(dst)
	return true
}

// emit decodes one frame from the head of residue into dst and moves any
// surplus to the front.
func (f *Feeder) emit(dst []int16) {
	for i := 0; i < f.bytesNeeded/2; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(f.residue[2*i:]))
	}
	n := copy(f.residue, f.residue[f.bytesNeeded:])
	f.residue = f.residue[:n]
}

// readSome performs one non-blocking read. Errors, including io.EOF on a
// detached client, count as an empty read.
func readSome(r io.Reader, p []byte) int {
	if len(p) == 0 {
		return 0
	}
	n, err := r.Read(p)
	if err != nil && n == 0 {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "readSome",
				"error":    err.Error(),
			}).Debug("Audio channel read failed")
		}
		return 0
	}
	return n
}
