package sbc

var (
	loudnessOffset4 = [4][4]int{
		{-1, 0, 0, 0},
		{-2, 0, 0, 1},
		{-2, 0, 0, 1},
		{-2, 0, 0, 1},
	}
	loudnessOffset8 = [4][8]int{
		{-2, 0, 0, 0, 0, 0, 0, 1},
		{-3, 0, 0, 0, 0, 0, 1, 2},
		{-4, 0, 0, 0, 0, 0, 1, 2},
		{-4, 0, 0, 0, 0, 0, 1, 2},
	}
)

// bitNeed derives the per-subband bit demand for one channel.
func bitNeed(p Params, sf []int, need []int) {
	for sb := 0; sb < p.Subbands; sb++ {
		if p.Allocation == AllocSNR {
			need[sb] = sf[sb]
			continue
		}
		if sf[sb] == 0 {
			need[sb] = -5
			continue
		}
		var off int
		if p.Subbands == 4 {
			off = loudnessOffset4[p.SamplingFreq][sb]
		} else {
			off = loudnessOffset8[p.SamplingFreq][sb]
		}
		loudness := sf[sb] - off
		if loudness > 0 {
			need[sb] = loudness / 2
		} else {
			need[sb] = loudness
		}
	}
}

// allocate distributes bitpool bits over the (channel, subband) cells listed
// in need. Cells are visited in the order given, which for two-channel
// joint allocation interleaves the channels per subband.
func allocate(need []int, bitpool int, bits []int) {
	maxNeed, minNeed := need[0], need[0]
	for _, n := range need[1:] {
		maxNeed = max(maxNeed, n)
		minNeed = min(minNeed, n)
	}

	bitcount := 0
	slicecount := 0
	bitslice := maxNeed + 1
	for {
		bitslice--
		bitcount += slicecount
		slicecount = 0
		for _, n := range need {
			if n > bitslice+1 && n < bitslice+16 {
				slicecount++
			} else if n == bitslice+1 {
				slicecount += 2
			}
		}
		if bitcount+slicecount >= bitpool {
			break
		}
		// Every cell has handed out its 16 bits; nothing left to slice.
		if bitslice < minNeed-16 {
			break
		}
	}
	if bitcount+slicecount == bitpool {
		bitcount += slicecount
		bitslice--
	}

	for i, n := range need {
		if n < bitslice+2 {
			bits[i] = 0
		} else {
			bits[i] = min(n-bitslice, 16)
		}
	}

	for i := 0; bitcount < bitpool && i < len(need); i++ {
		if bits[i] >= 2 && bits[i] < 16 {
			bits[i]++
			bitcount++
		} else if need[i] == bitslice+1 && bitpool > bitcount+1 {
			bits[i] = 2
			bitcount += 2
		}
	}
	for i := 0; bitcount < bitpool && i < len(need); i++ {
		if bits[i] < 16 {
			bits[i]++
			bitcount++
		}
	}
}

// allocateBits fills bits[ch][sb] from the scale factors of one frame.
func allocateBits(p Params, sf *[2][8]int, bits *[2][8]int) {
	nsb := p.Subbands
	switch p.ChannelMode {
	case Mono, DualChannel:
		need := make([]int, nsb)
		out := make([]int, nsb)
		for ch := 0; ch < p.Channels(); ch++ {
			bitNeed(p, sf[ch][:nsb], need)
			allocate(need, p.BitPool, out)
			copy(bits[ch][:nsb], out)
		}
	default:
		var perCh [2][8]int
		bitNeed(p, sf[0][:nsb], perCh[0][:nsb])
		bitNeed(p, sf[1][:nsb], perCh[1][:nsb])

		need := make([]int, 2*nsb)
		for sb := 0; sb < nsb; sb++ {
			need[2*sb] = perCh[0][sb]
			need[2*sb+1] = perCh[1][sb]
		}
		out := make([]int, 2*nsb)
		allocate(need, p.BitPool, out)
		for sb := 0; sb < nsb; sb++ {
			bits[0][sb] = out[2*sb]
			bits[1][sb] = out[2*sb+1]
		}
	}
}
