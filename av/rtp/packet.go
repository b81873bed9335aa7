package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// DefaultPayloadType is the dynamic RTP payload type used for SBC.
const DefaultPayloadType = 96

// SBC media payload header flags. The low four bits carry the frame count.
const (
	sbcFragmented = 0x80
	sbcStart      = 0x40
	sbcLast       = 0x20
	sbcFrameMask  = 0x0F
)

// PacketizerConfig configures a Packetizer.
type PacketizerConfig struct {
	// PayloadType is the RTP payload type; zero selects DefaultPayloadType.
	PayloadType uint8
	// ContentProtection prefixes every payload with an SCMS-T header.
	ContentProtection bool
	// SSRC is the stream identifier; zero draws a random one.
	SSRC uint32
}

// Packetizer turns media packets into RTP datagrams.
//
// Each datagram carries the RTP header, the optional SCMS-T byte, the SBC
// media payload header and the frames of one MediaPacket. The RTP timestamp
// is the media packet timestamp.
type Packetizer struct {
	mu                sync.Mutex
	ssrc              uint32
	sequenceNumber    uint16
	payloadType       uint8
	contentProtection bool
}

// NewPacketizer creates a new media packetizer.
//
// Parameters:
//   - cfg: Packetizer configuration
//
// Returns:
//   - *Packetizer: New packetizer instance
//   - error: Any error that occurred while drawing the SSRC
func NewPacketizer(cfg PacketizerConfig) (*Packetizer, error) {
	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrcBytes := make([]byte, 4)
		if _, err := rand.Read(ssrcBytes); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewPacketizer",
				"error":    err.Error(),
			}).Error("Failed to generate SSRC")
			return nil, fmt.Errorf("failed to generate SSRC: %w", err)
		}
		ssrc = binary.BigEndian.Uint32(ssrcBytes)
	}
	pt := cfg.PayloadType
	if pt == 0 {
		pt = DefaultPayloadType
	}

	p := &Packetizer{
		ssrc:              ssrc,
		payloadType:       pt,
		contentProtection: cfg.ContentProtection,
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewPacketizer",
		"ssrc":               ssrc,
		"payload_type":       pt,
		"content_protection": cfg.ContentProtection,
	}).Info("Media packetizer created")

	return p, nil
}

// SSRC returns the stream identifier.
func (p *Packetizer) SSRC() uint32 {
	return p.ssrc
}

// Packetize marshals mp into one RTP datagram and advances the sequence
// number.
func (p *Packetizer) Packetize(mp *MediaPacket) ([]byte, error) {
	if mp.FrameCount > MaxFramesPerPacket {
		return nil, fmt.Errorf("%w: %d", ErrTooManyFrames, mp.FrameCount)
	}

	hdrLen := SBCHeaderSize
	if p.contentProtection {
		hdrLen += ContentProtectionHeaderSize
	}
	payload := make([]byte, 0, hdrLen+len(mp.Payload))
	if p.contentProtection {
		// SCMS-T: copying permitted, no original bit.
		payload = append(payload, 0x00)
	}
	payload = append(payload, byte(mp.FrameCount)&sbcFrameMask)
	payload = append(payload, mp.Payload...)

	p.mu.Lock()
	defer p.mu.Unlock()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      mp.Timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Packetizer.Packetize",
			"error":    err.Error(),
		}).Error("Failed to marshal RTP packet")
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}
	p.sequenceNumber++

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":  "Packetizer.Packetize",
			"sequence":  packet.SequenceNumber,
			"timestamp": mp.Timestamp,
			"frames":    mp.FrameCount,
			"size":      len(data),
		}).Trace("Packetized media")
	}
	return data, nil
}

// Depacketizer parses datagrams produced by a Packetizer.
//
// The first SSRC seen is locked in; sequence gaps are counted as lost
// packets.
type Depacketizer struct {
	mu                sync.Mutex
	contentProtection bool
	expectedSSRC      uint32
	hasSSRC           bool
	lastSeq           uint16
	hasLastSeq        bool
	lost              uint64
}

// NewDepacketizer creates a depacketizer. contentProtection must match the
// sender's setting.
func NewDepacketizer(contentProtection bool) *Depacketizer {
	return &Depacketizer{contentProtection: contentProtection}
}

// Unpack parses one datagram into a MediaPacket. The returned payload
// aliases data.
func (d *Depacketizer) Unpack(data []byte) (*MediaPacket, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Depacketizer.Unpack",
			"error":    err.Error(),
		}).Error("Failed to unmarshal RTP packet")
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasSSRC {
		d.expectedSSRC = packet.SSRC
		d.hasSSRC = true
	} else if packet.SSRC != d.expectedSSRC {
		logrus.WithFields(logrus.Fields{
			"function":      "Depacketizer.Unpack",
			"expected_ssrc": d.expectedSSRC,
			"received_ssrc": packet.SSRC,
		}).Warn("Unexpected SSRC in RTP packet")
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedSSRC, d.expectedSSRC, packet.SSRC)
	}

	if d.hasLastSeq {
		expected := d.lastSeq + 1
		if gap := packet.SequenceNumber - expected; gap != 0 && gap < 0x8000 {
			d.lost += uint64(gap)
			logrus.WithFields(logrus.Fields{
				"function":          "Depacketizer.Unpack",
				"expected_sequence": expected,
				"received_sequence": packet.SequenceNumber,
			}).Warn("Sequence gap detected in RTP stream")
		}
	}
	d.lastSeq = packet.SequenceNumber
	d.hasLastSeq = true

	payload := packet.Payload
	skip := SBCHeaderSize
	if d.contentProtection {
		skip += ContentProtectionHeaderSize
	}
	if len(payload) < skip {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	hdr := payload[skip-1]
	if hdr&sbcFragmented != 0 {
		return nil, ErrFragmented
	}

	return &MediaPacket{
		Timestamp:  packet.Timestamp,
		FrameCount: int(hdr & sbcFrameMask),
		Payload:    payload[skip:],
	}, nil
}

// Lost returns the number of packets missing from the sequence so far.
func (d *Depacketizer) Lost() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}
