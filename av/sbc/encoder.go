package sbc

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Syncword is the first byte of every SBC frame.
const Syncword = 0x9C

// Encoder turns one frame worth of 16-bit PCM into one SBC frame.
//
// The media task owns its encoder exclusively; implementations need not be
// safe for concurrent use.
type Encoder interface {
	// Init validates p and resets all filter state.
	Init(p Params) error
	// Params returns the active configuration.
	Params() Params
	// Encode consumes exactly Params().SamplesPerFrame() samples per channel,
	// interleaved, and appends one frame of Params().FrameLength() bytes to dst.
	Encode(dst []byte, pcm []int16) ([]byte, error)
}

// FrameEncoder is a floating point reference SBC encoder.
type FrameEncoder struct {
	params  Params
	filters [2]*analysisFilter
	ready   bool

	sb   [16][2][8]float64
	sf   [2][8]int
	bits [2][8]int
	join [8]bool
}

// NewFrameEncoder returns an uninitialized encoder.
func NewFrameEncoder() *FrameEncoder {
	return &FrameEncoder{}
}

// Init implements Encoder.
func (e *FrameEncoder) Init(p Params) error {
	if err := p.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FrameEncoder.Init",
			"error":    err.Error(),
		}).Error("Rejected encoder parameters")
		return err
	}

	e.params = p
	for ch := 0; ch < 2; ch++ {
		if e.filters[ch] == nil || e.filters[ch].m != p.Subbands {
			e.filters[ch] = newAnalysisFilter(p.Subbands)
		} else {
			e.filters[ch].reset()
		}
	}
	e.ready = true

	logrus.WithFields(logrus.Fields{
		"function":     "FrameEncoder.Init",
		"mode":         p.ChannelMode.String(),
		"subbands":     p.Subbands,
		"blocks":       p.Blocks,
		"allocation":   p.Allocation.String(),
		"freq":         p.SamplingFreq.String(),
		"bitpool":      p.BitPool,
		"frame_length": p.FrameLength(),
	}).Info("SBC encoder initialized")
	return nil
}

// Params implements Encoder.
func (e *FrameEncoder) Params() Params {
	return e.params
}

// Encode implements Encoder.
func (e *FrameEncoder) Encode(dst []byte, pcm []int16) ([]byte, error) {
	if !e.ready {
		return dst, ErrNotInitialized
	}
	p := e.params
	nsb, nblk, nch := p.Subbands, p.Blocks, p.Channels()
	if want := nsb * nblk * nch; len(pcm) != want {
		return dst, fmt.Errorf("%w: got %d samples, want %d", ErrPCMLength, len(pcm), want)
	}

	for blk := 0; blk < nblk; blk++ {
		base := blk * nsb * nch
		for ch := 0; ch < nch; ch++ {
			e.filters[ch].process(pcm[base+ch:], nch, e.sb[blk][ch][:nsb])
		}
	}

	e.join = [8]bool{}
	if p.ChannelMode == JointStereo {
		e.chooseJoint()
	}
	for ch := 0; ch < nch; ch++ {
		for sb := 0; sb < nsb; sb++ {
			e.sf[ch][sb] = scaleFactor(e.peak(ch, sb))
		}
	}
	allocateBits(p, &e.sf, &e.bits)

	frame, err := e.pack()
	if err != nil {
		return dst, err
	}
	return append(dst, frame...), nil
}

func (e *FrameEncoder) peak(ch, sb int) float64 {
	var m float64
	for blk := 0; blk < e.params.Blocks; blk++ {
		m = math.Max(m, math.Abs(e.sb[blk][ch][sb]))
	}
	return m
}

// chooseJoint switches a subband to mid/side coding when that lowers the
// combined scale factors. The top subband is never joined.
func (e *FrameEncoder) chooseJoint() {
	nblk := e.params.Blocks
	for sb := 0; sb < e.params.Subbands-1; sb++ {
		var pl, pr, pm, ps float64
		for blk := 0; blk < nblk; blk++ {
			l, r := e.sb[blk][0][sb], e.sb[blk][1][sb]
			pl = math.Max(pl, math.Abs(l))
			pr = math.Max(pr, math.Abs(r))
			pm = math.Max(pm, math.Abs((l+r)/2))
			ps = math.Max(ps, math.Abs((l-r)/2))
		}
		if scaleFactor(pm)+scaleFactor(ps) >= scaleFactor(pl)+scaleFactor(pr) {
			continue
		}
		e.join[sb] = true
		for blk := 0; blk < nblk; blk++ {
			l, r := e.sb[blk][0][sb], e.sb[blk][1][sb]
			e.sb[blk][0][sb] = (l + r) / 2
			e.sb[blk][1][sb] = (l - r) / 2
		}
	}
}

// scaleFactor returns the smallest sf in [0,15] with peak < 2^(sf+1).
func scaleFactor(peak float64) int {
	sf := 0
	for sf < 15 && peak >= float64(int(2)<<sf) {
		sf++
	}
	return sf
}

func quantize(s float64, sf, bits int) uint32 {
	levels := (1 << uint(bits)) - 1
	scale := float64(int(2) << sf)
	q := int(math.Floor((s/scale + 1) * float64(levels) / 2))
	if q < 0 {
		q = 0
	}
	if q > levels {
		q = levels
	}
	return uint32(q)
}

func (e *FrameEncoder) headerByte() byte {
	p := e.params
	return byte(p.SamplingFreq)<<6 |
		byte(p.Blocks/4-1)<<4 |
		byte(p.ChannelMode)<<2 |
		byte(p.Allocation)<<1 |
		byte(p.Subbands/4-1)
}

func (e *FrameEncoder) pack() ([]byte, error) {
	p := e.params
	nsb, nch := p.Subbands, p.Channels()
	frameLen := p.FrameLength()

	h1 := e.headerByte()
	h2 := byte(p.BitPool)

	w := bitWriter{buf: make([]byte, 0, frameLen)}
	crc := newCRC8()
	crc.writeByte(h1)
	crc.writeByte(h2)

	w.write(Syncword, 8)
	w.write(uint32(h1), 8)
	w.write(uint32(h2), 8)
	w.write(0, 8)

	if p.ChannelMode == JointStereo {
		for sb := 0; sb < nsb; sb++ {
			var bit uint32
			if e.join[sb] {
				bit = 1
			}
			w.write(bit, 1)
			crc.writeBits(bit, 1)
		}
	}
	for ch := 0; ch < nch; ch++ {
		for sb := 0; sb < nsb; sb++ {
			w.write(uint32(e.sf[ch][sb]), 4)
			crc.writeBits(uint32(e.sf[ch][sb]), 4)
		}
	}
	for blk := 0; blk < p.Blocks; blk++ {
		for ch := 0; ch < nch; ch++ {
			for sb := 0; sb < nsb; sb++ {
				if b := e.bits[ch][sb]; b > 0 {
					w.write(quantize(e.sb[blk][ch][sb], e.sf[ch][sb], b), b)
				}
			}
		}
	}
	w.flush()

	frame := w.buf
	if len(frame) > frameLen {
		return nil, fmt.Errorf("sbc: packed %d bytes into a %d byte frame", len(frame), frameLen)
	}
	frame[3] = crc.sum()
	for len(frame) < frameLen {
		frame = append(frame, 0)
	}
	return frame, nil
}

// ParseHeader decodes the configuration carried in a frame header. BitRate
// is left zero.
func ParseHeader(frame []byte) (Params, error) {
	if len(frame) < 4 {
		return Params{}, ErrShortFrame
	}
	if frame[0] != Syncword {
		return Params{}, fmt.Errorf("%w: 0x%02x", ErrSyncword, frame[0])
	}
	b := frame[1]
	return Params{
		SamplingFreq: SamplingFreq(b >> 6),
		Blocks:       4 * (int(b>>4&3) + 1),
		ChannelMode:  ChannelMode(b >> 2 & 3),
		Allocation:   AllocationMethod(b >> 1 & 1),
		Subbands:     4 * (int(b&1) + 1),
		BitPool:      int(frame[2]),
	}, nil
}

// VerifyCRC checks the header CRC of a complete frame.
func VerifyCRC(frame []byte) error {
	p, err := ParseHeader(frame)
	if err != nil {
		return err
	}
	if len(frame) < p.FrameLength() {
		return fmt.Errorf("%w: have %d bytes, header implies %d", ErrShortFrame, len(frame), p.FrameLength())
	}

	crc := newCRC8()
	crc.writeByte(frame[1])
	crc.writeByte(frame[2])

	n := 4 * p.Subbands * p.Channels()
	if p.ChannelMode == JointStereo {
		n += p.Subbands
	}
	r := bitReader{buf: frame[4:]}
	for i := 0; i < n; i++ {
		bit, ok := r.read(1)
		if !ok {
			return ErrShortFrame
		}
		crc.writeBits(bit, 1)
	}
	if got := crc.sum(); got != frame[3] {
		return fmt.Errorf("%w: computed 0x%02x, frame carries 0x%02x", ErrCRCMismatch, got, frame[3])
	}
	return nil
}
