package rtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PacketSource is the outbound side of the media task: packets are pulled
// with ReadBuf and handed back with ReleaseBuf once sent.
type PacketSource interface {
	ReadBuf() (*MediaPacket, bool)
	ReleaseBuf(p *MediaPacket)
}

// Statistics counts what a Sender has transmitted.
type Statistics struct {
	PacketsSent uint64
	BytesSent   uint64
	FramesSent  uint64
	SendErrors  uint64
}

// Sender drains a PacketSource and writes one RTP datagram per media packet.
//
// The writer is typically a connected UDP socket towards the media
// transport.
type Sender struct {
	mu         sync.Mutex
	source     PacketSource
	packetizer *Packetizer
	out        io.Writer
	stats      Statistics
}

// NewSender creates a sender.
//
// Parameters:
//   - source: Where media packets are pulled from
//   - packetizer: RTP framing for each packet
//   - out: Destination of the marshaled datagrams
//
// Returns:
//   - *Sender: New sender instance
//   - error: Any error in the arguments
func NewSender(source PacketSource, packetizer *Packetizer, out io.Writer) (*Sender, error) {
	if source == nil {
		return nil, fmt.Errorf("packet source cannot be nil")
	}
	if packetizer == nil {
		return nil, fmt.Errorf("packetizer cannot be nil")
	}
	if out == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	return &Sender{source: source, packetizer: packetizer, out: out}, nil
}

// Flush sends every packet currently queued and returns how many were
// written. Packets that fail to marshal or write are counted as errors and
// still released.
func (s *Sender) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := 0
	for {
		mp, ok := s.source.ReadBuf()
		if !ok {
			return sent
		}
		if err := s.sendLocked(mp); err != nil {
			s.stats.SendErrors++
			logrus.WithFields(logrus.Fields{
				"function": "Sender.Flush",
				"packet":   mp.String(),
				"error":    err.Error(),
			}).Warn("Failed to send media packet")
		} else {
			sent++
		}
		s.source.ReleaseBuf(mp)
	}
}

func (s *Sender) sendLocked(mp *MediaPacket) error {
	data, err := s.packetizer.Packetize(mp)
	if err != nil {
		return err
	}
	n, err := s.out.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write datagram: %w", err)
	}
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(n)
	s.stats.FramesSent += uint64(mp.FrameCount)
	return nil
}

// Run flushes the source every interval until ctx is cancelled. A final
// flush is performed on the way out.
func (s *Sender) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("send interval must be positive, got %v", interval)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.Run",
		"interval": interval,
		"ssrc":     s.packetizer.SSRC(),
	}).Info("Media sender started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			stats := s.GetStatistics()
			logrus.WithFields(logrus.Fields{
				"function": "Sender.Run",
				"packets":  stats.PacketsSent,
				"frames":   stats.FramesSent,
				"errors":   stats.SendErrors,
			}).Info("Media sender stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Flush()
		}
	}
}

// GetStatistics returns current sender statistics.
func (s *Sender) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
