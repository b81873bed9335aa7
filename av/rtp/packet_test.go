package rtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket(ts uint32, frames int, frameLen int) *MediaPacket {
	mp := &MediaPacket{Timestamp: ts}
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameLen)
		frame[0] = 0x9C
		frame[1] = byte(i)
		mp.Append(frame)
	}
	return mp
}

func TestNewPacketizer(t *testing.T) {
	tests := []struct {
		name      string
		cfg       PacketizerConfig
		wantPT    uint8
		fixedSSRC bool
	}{
		{
			name:   "Defaults",
			cfg:    PacketizerConfig{},
			wantPT: DefaultPayloadType,
		},
		{
			name:      "Explicit values",
			cfg:       PacketizerConfig{PayloadType: 101, SSRC: 0xCAFEBABE},
			wantPT:    101,
			fixedSSRC: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPacketizer(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPT, p.payloadType)
			if tt.fixedSSRC {
				assert.Equal(t, tt.cfg.SSRC, p.SSRC())
			}
		})
	}
}

func TestPacketizerHeaderLayout(t *testing.T) {
	tests := []struct {
		name string
		cp   bool
		skip int
	}{
		{name: "Without content protection", cp: false, skip: 1},
		{name: "With content protection", cp: true, skip: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPacketizer(PacketizerConfig{ContentProtection: tt.cp, SSRC: 7})
			require.NoError(t, err)

			mp := testPacket(1024, 3, 119)
			data, err := p.Packetize(mp)
			require.NoError(t, err)

			var pkt rtp.Packet
			require.NoError(t, pkt.Unmarshal(data))
			assert.Equal(t, uint8(2), pkt.Version)
			assert.Equal(t, uint8(DefaultPayloadType), pkt.PayloadType)
			assert.Equal(t, uint32(1024), pkt.Timestamp)
			assert.Equal(t, uint32(7), pkt.SSRC)
			require.Len(t, pkt.Payload, tt.skip+3*119)
			if tt.cp {
				assert.Equal(t, byte(0x00), pkt.Payload[0])
			}
			assert.Equal(t, byte(3), pkt.Payload[tt.skip-1])
			assert.Equal(t, mp.Payload, pkt.Payload[tt.skip:])
		})
	}
}

func TestPacketizerSequenceNumbers(t *testing.T) {
	p, err := NewPacketizer(PacketizerConfig{SSRC: 1})
	require.NoError(t, err)
	p.sequenceNumber = 0xFFFE

	var seqs []uint16
	for i := 0; i < 3; i++ {
		data, err := p.Packetize(testPacket(uint32(i*128), 1, 10))
		require.NoError(t, err)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(data))
		seqs = append(seqs, pkt.SequenceNumber)
	}
	assert.Equal(t, []uint16{0xFFFE, 0xFFFF, 0x0000}, seqs)
}

func TestPacketizerRejectsTooManyFrames(t *testing.T) {
	p, err := NewPacketizer(PacketizerConfig{SSRC: 1})
	require.NoError(t, err)

	_, err = p.Packetize(testPacket(0, MaxFramesPerPacket+1, 4))
	assert.ErrorIs(t, err, ErrTooManyFrames)

	_, err = p.Packetize(testPacket(0, MaxFramesPerPacket, 4))
	assert.NoError(t, err)
}

func TestDepacketizerRoundTrip(t *testing.T) {
	for _, cp := range []bool{false, true} {
		p, err := NewPacketizer(PacketizerConfig{ContentProtection: cp})
		require.NoError(t, err)
		d := NewDepacketizer(cp)

		for i := 0; i < 4; i++ {
			in := testPacket(uint32(i*15*128), 15, 119)
			data, err := p.Packetize(in)
			require.NoError(t, err)

			out, err := d.Unpack(data)
			require.NoError(t, err)
			assert.Equal(t, in.Timestamp, out.Timestamp)
			assert.Equal(t, in.FrameCount, out.FrameCount)
			assert.Equal(t, in.Payload, out.Payload)
		}
		assert.Zero(t, d.Lost())
	}
}

func TestDepacketizerErrors(t *testing.T) {
	marshal := func(ssrc uint32, seq uint16, payload []byte) []byte {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    DefaultPayloadType,
				SequenceNumber: seq,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name    string
		cp      bool
		prime   []byte
		data    []byte
		wantErr error
	}{
		{
			name:    "Empty datagram",
			data:    nil,
			wantErr: ErrEmptyPacket,
		},
		{
			name:    "Missing SBC header",
			data:    marshal(1, 0, nil),
			wantErr: ErrShortPayload,
		},
		{
			name:    "Missing content protection header",
			cp:      true,
			data:    marshal(1, 0, []byte{0x01}),
			wantErr: ErrShortPayload,
		},
		{
			name:    "Fragmented payload",
			data:    marshal(1, 0, []byte{sbcFragmented | sbcStart | 0x01, 0x9C}),
			wantErr: ErrFragmented,
		},
		{
			name:    "Foreign SSRC",
			prime:   marshal(1, 0, []byte{0x01, 0x9C}),
			data:    marshal(2, 1, []byte{0x01, 0x9C}),
			wantErr: ErrUnexpectedSSRC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDepacketizer(tt.cp)
			if tt.prime != nil {
				_, err := d.Unpack(tt.prime)
				require.NoError(t, err)
			}
			_, err := d.Unpack(tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDepacketizerCountsGaps(t *testing.T) {
	p, err := NewPacketizer(PacketizerConfig{SSRC: 9})
	require.NoError(t, err)
	d := NewDepacketizer(false)

	var datagrams [][]byte
	for i := 0; i < 6; i++ {
		data, err := p.Packetize(testPacket(uint32(i), 1, 8))
		require.NoError(t, err)
		datagrams = append(datagrams, data)
	}

	for _, i := range []int{0, 1, 4, 5} {
		_, err := d.Unpack(datagrams[i])
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), d.Lost())
}
