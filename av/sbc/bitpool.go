package sbc

import (
	"github.com/sirupsen/logrus"
)

// DefaultMaxSearchSteps bounds the bitpool search when the caller passes 0.
const DefaultMaxSearchSteps = 1000

// SearchResult reports the outcome of SearchBitPool.
type SearchResult struct {
	// BitPool is the last candidate computed. It lies inside the requested
	// range only when Converged is true.
	BitPool int
	// BitRate is the working bitrate in kbps that produced BitPool.
	BitRate uint32
	// Converged is true when BitPool lies inside [min, max].
	Converged bool
	// Oscillated is true when the search had to move the bitrate both down
	// and up, which happens when the range is empty or too narrow.
	Oscillated bool
	// Steps is the number of bitrate adjustments performed.
	Steps int
}

// candidateBitPool computes the bitpool that yields at most bitrateKbps for
// the frame geometry in p.
func candidateBitPool(p Params, bitrateKbps int) int {
	nsb := p.Subbands
	nblk := p.Blocks
	nch := p.Channels()
	fs := int(p.SamplingFreq.Hz())

	var bp int
	switch p.ChannelMode {
	case Stereo, JointStereo:
		joint := 0
		if p.ChannelMode == JointStereo {
			joint = 1
		}
		bp = (bitrateKbps * nsb * 1000 / fs) - ((32 + 4*nsb*nch + joint*nsb) / nblk)

		frameLen := 4 + (4*nsb*nch)/8 + (joint*nsb+nblk*bp)/8
		rate := (8 * frameLen * fs) / (nsb * nblk * 1000)
		if rate > bitrateKbps {
			bp--
		}

		limit := 128
		if nsb == 8 {
			limit = 255
		}
		if bp > limit {
			bp = limit
		}
	default:
		bp = (nsb * bitrateKbps * 1000 / (fs * nch)) - ((32/nch + 4*nsb) / nblk)
		if bp > 16*nsb {
			bp = 16 * nsb
		}
	}

	if bp < 0 {
		bp = 0
	}
	return bp
}

// SearchBitPool finds a bitpool in [minBitPool, maxBitPool] by walking the
// bitrate in stepKbps increments from p.BitRate. The search stops once a
// candidate fits, once it has moved the bitrate in both directions, or after
// maxSteps adjustments.
func SearchBitPool(p Params, minBitPool, maxBitPool int, stepKbps uint32, maxSteps int) SearchResult {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSearchSteps
	}
	step := int(stepKbps)
	if step <= 0 {
		step = 1
	}
	rate := int(p.BitRate)

	var (
		protect int
		res     SearchResult
	)
	for {
		bp := candidateBitPool(p, rate)
		res.BitPool = bp
		res.BitRate = uint32(rate)

		if bp > maxBitPool {
			rate -= step
			if rate < 0 {
				rate = 0
			}
			protect |= 1
		} else if bp < minBitPool {
			rate += step
			protect |= 2
		} else {
			res.Converged = true
			break
		}

		res.Steps++
		if protect == 3 {
			res.Oscillated = true
			logrus.WithFields(logrus.Fields{
				"function": "SearchBitPool",
				"min":      minBitPool,
				"max":      maxBitPool,
				"bitpool":  bp,
				"rate":     rate,
			}).Error("Bitpool range unreachable, abort bitrate search")
			break
		}
		if res.Steps >= maxSteps {
			logrus.WithFields(logrus.Fields{
				"function": "SearchBitPool",
				"min":      minBitPool,
				"max":      maxBitPool,
				"bitpool":  bp,
				"steps":    res.Steps,
			}).Error("Bitpool search step limit reached")
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SearchBitPool",
		"bitpool":   res.BitPool,
		"rate_kbps": res.BitRate,
		"steps":     res.Steps,
		"converged": res.Converged,
	}).Debug("Bitpool search finished")

	return res
}
