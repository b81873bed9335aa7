// Package av implements the A2DP source media task.
//
// The media task reads PCM from an audio channel, encodes it into SBC
// frames on a fixed tick, packs the frames into media packets and queues
// them for the media transport. A control channel carries the audio
// client's start, stop and suspend requests, which the task coordinates
// with the Bluetooth AV layer.
//
// # Architecture
//
// The av package consists of the following parts:
//
//   - MediaTask: the event loop; one mailbox carries ticks, commands,
//     channel events and AV layer callbacks in arrival order
//   - Pipeline: the state the loop owns (encoder and feeding configuration,
//     tick accounting, sample clock, outbound queue)
//   - Scheduler: the media tick, armed by StartTx and disarmed by StopTx
//   - controlBridge: the request/acknowledge protocol of the control
//     channel and the audio channel lifecycle
//   - Metrics: OpenTelemetry instruments for ticks, frames, drops and
//     control commands
//
// # Sub-Packages
//
//   - av/sbc: SBC frame encoder and bitpool search
//   - av/audio: PCM feeding and sample rate conversion
//   - av/rtp: media packets, the outbound queue and RTP framing
//
// # Tick accounting
//
// Every tick adds its duration to a frame counter measured in encoder
// frames. The whole frames are produced and the remainder carries to the
// next tick, so over any run the number of frames requested equals the
// elapsed time divided by the frame duration, rounded down. Frames that
// cannot be produced because the client has not written enough PCM are
// dropped, not carried.
//
// # Control protocol
//
// Requests are single bytes (CmdCheckReady, CmdStart, CmdStop,
// CmdSuspend); each is answered with one AckStatus byte. Only one request
// may wait for an answer; a second one is answered with AckFailure at once.
//
//	task, err := av.NewMediaTask(cfg, conn, ctrl, data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := task.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer task.Shutdown()
//
// The AV layer reports the outcome of forwarded requests through
// OnStarted, OnStopped, OnSuspended and OnIdle.
package av
