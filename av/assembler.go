package av

import (
	"github.com/opd-ai/bluemedia/av/rtp"
	"github.com/sirupsen/logrus"
)

// produce encodes up to budget frames into media packets.
//
// A packet is closed when the next frame would not fit the MTU, when it
// holds rtp.MaxFramesPerPacket frames or when the budget is spent. An
// underflow ends the whole call; frames it cost are not carried over. An
// encoder error ends it the same way but is counted separately. Nothing is
// queued once the pipeline has stopped running.
func (p *Pipeline) produce(budget int) {
	frameLen := p.params.FrameLength()
	spf := p.params.SamplesPerFrame()

	for budget > 0 {
		pkt, err := p.pool.Get()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.produce",
				"budget":   budget,
				"error":    err.Error(),
			}).Warn("No media buffer available, abandoning tick")
			return
		}

		stalled, failed := false, false
		for budget > 0 &&
			pkt.FrameCount < rtp.MaxFramesPerPacket &&
			rtp.PacketPrefixSize+pkt.Len()+frameLen <= p.mtu {
			if !p.feeder.ReadFrame(p.data, p.pcm) {
				stalled = true
				break
			}
			payload, err := p.encoder.Encode(pkt.Payload, p.pcm)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Pipeline.produce",
					"error":    err.Error(),
				}).Error("Encoding failed")
				failed = true
				break
			}
			pkt.Payload = payload
			pkt.FrameCount++
			budget--
		}

		if stalled {
			p.underflows++
			p.metrics.FeedingUnderflows.Add(p.ctx, 1)
			if logrus.IsLevelEnabled(logrus.DebugLevel) {
				logrus.WithFields(logrus.Fields{
					"function": "Pipeline.produce",
					"dropped":  budget,
					"residue":  p.feeder.Residue(),
				}).Debug("PCM underflow, dropping rest of tick")
			}
			budget = 0
		}
		if failed {
			p.encodeErrors++
			p.metrics.EncodeErrors.Add(p.ctx, 1)
			budget = 0
		}

		if pkt.FrameCount == 0 {
			p.pool.Put(pkt)
			if !stalled && !failed {
				logrus.WithFields(logrus.Fields{
					"function":     "Pipeline.produce",
					"mtu":          p.mtu,
					"frame_length": frameLen,
				}).Error("Encoded frame does not fit the MTU")
			}
			return
		}

		// StopTx runs on this goroutine, so this only holds when a
		// caller drives produce on an idle pipeline.
		if !p.running {
			p.pool.Put(pkt)
			return
		}

		p.framesEncoded += uint64(pkt.FrameCount)
		p.metrics.FramesEncoded.Add(p.ctx, int64(pkt.FrameCount))

		pkt.Timestamp = p.timestamp
		p.timestamp += uint32(pkt.FrameCount * spf)

		if p.txFlush {
			n := p.drainQueue()
			p.pool.Put(pkt)
			p.metrics.recordDrop(p.ctx, dropFlush, n+1)
			if logrus.IsLevelEnabled(logrus.DebugLevel) {
				logrus.WithFields(logrus.Fields{
					"function": "Pipeline.produce",
					"dropped":  n + 1,
				}).Debug("Flushing, discarding media")
			}
			continue
		}

		if dropped := p.queue.Push(pkt); dropped != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.produce",
				"depth":    p.queue.Depth(),
				"dropped":  dropped.String(),
			}).Warn("Media queue full, dropped oldest packet")
			p.pool.Put(dropped)
			p.metrics.recordDrop(p.ctx, dropCongestion, 1)
		} else {
			p.metrics.QueueDepth.Add(p.ctx, 1)
		}
		p.metrics.PacketsEnqueued.Add(p.ctx, 1)

		if logrus.IsLevelEnabled(logrus.TraceLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.produce",
				"packet":   pkt.String(),
			}).Trace("Media packet queued")
		}
	}
}
