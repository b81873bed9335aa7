package sbc

// crc8 implements the SBC header check: polynomial x^8+x^4+x^3+x^2+1,
// initial value 0x0F, fed MSB first.
type crc8 struct {
	v uint8
}

func newCRC8() *crc8 {
	return &crc8{v: 0x0F}
}

func (c *crc8) writeBits(val uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := uint8(val>>uint(i)) & 1
		top := c.v >> 7
		c.v <<= 1
		if top^bit == 1 {
			c.v ^= 0x1D
		}
	}
}

func (c *crc8) writeByte(b byte) {
	c.writeBits(uint32(b), 8)
}

func (c *crc8) sum() uint8 {
	return c.v
}

// bitWriter packs MSB-first bit fields into a byte slice.
type bitWriter struct {
	buf  []byte
	acc  uint32
	nacc int
}

func (w *bitWriter) write(val uint32, n int) {
	for n > 0 {
		take := min(n, 8-w.nacc)
		shift := n - take
		chunk := (val >> uint(shift)) & (1<<uint(take) - 1)
		w.acc = w.acc<<uint(take) | chunk
		w.nacc += take
		n -= take
		if w.nacc == 8 {
			w.buf = append(w.buf, byte(w.acc))
			w.acc, w.nacc = 0, 0
		}
	}
}

// flush pads the final partial byte with zero bits.
func (w *bitWriter) flush() {
	if w.nacc > 0 {
		w.buf = append(w.buf, byte(w.acc<<uint(8-w.nacc)))
		w.acc, w.nacc = 0, 0
	}
}

// bitReader reads MSB-first bit fields.
type bitReader struct {
	buf []byte
	pos int // bit position
}

func (r *bitReader) read(n int) (uint32, bool) {
	if r.pos+n > len(r.buf)*8 {
		return 0, false
	}
	var v uint32
	for i := 0; i < n; i++ {
		b := r.buf[r.pos>>3] >> (7 - uint(r.pos&7)) & 1
		v = v<<1 | uint32(b)
		r.pos++
	}
	return v, true
}
