// Package rtp carries encoded SBC frames from the media task to the media
// transport.
//
// # Buffers and queue
//
// MediaPacket is one outbound packet: a run of SBC frames sharing the
// sample clock timestamp of its first frame. Packets come from a fixed
// BufferPool and wait in a drop-oldest Queue until the transport pulls
// them:
//
//	pool := rtp.NewBufferPool(32, rtp.PayloadCeiling(4096, false))
//	queue := rtp.NewQueue(24)
//	p, err := pool.Get()
//	if err != nil {
//	    return err // rtp.ErrNoBuffers
//	}
//	p.Append(frame)
//	if dropped := queue.Push(p); dropped != nil {
//	    pool.Put(dropped)
//	}
//
// PayloadCeiling gives the frame bytes one transport buffer can carry once
// the buffer, AVDTP, SBC and optional SCMS-T headers are reserved.
//
// # RTP framing
//
// Packetizer wraps each MediaPacket in an RTP header (pion/rtp) followed by
// the optional SCMS-T byte and the one byte SBC media payload header whose
// low four bits hold the frame count:
//
//	pk, _ := rtp.NewPacketizer(rtp.PacketizerConfig{PayloadType: 96})
//	datagram, err := pk.Packetize(p)
//
// Depacketizer reverses this and counts sequence gaps.
//
// # Sending
//
// Sender pulls packets from a PacketSource, writes one datagram each and
// releases the buffers:
//
//	sender, _ := rtp.NewSender(task, pk, udpConn)
//	go sender.Run(ctx, 20*time.Millisecond)
package rtp
