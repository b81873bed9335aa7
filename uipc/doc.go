// Package uipc provides the byte-stream channels between the media task and
// the audio-path client.
//
// # Channels
//
// The media task uses two channels:
//
//   - ChannelControl: the client writes one-byte requests and reads one-byte
//     acknowledgements.
//   - ChannelAudio: the client writes raw little-endian PCM; the media task
//     polls it on every tick.
//
// # Implementations
//
// MemChannel serves a client living in the same process:
//
//	ctrl := uipc.NewMemChannel(uipc.ChannelControl)
//	ctrl.Open(handler)
//	ctrl.Connect()          // client side
//	ctrl.Send([]byte{2})    // client requests Start
//	ack := ctrl.Received()  // client reads the acknowledgement
//
// SocketChannel serves a client over a Unix domain socket:
//
//	audio := uipc.NewSocketChannel(uipc.ChannelAudio, "/run/bluemedia/audio")
//	audio.Open(handler)
//
// # Read Semantics
//
// Read never blocks. It returns the bytes that are buffered right now,
// possibly zero. When the client hangs up, buffered bytes remain readable;
// the read that finds the buffer empty closes the channel, raises
// EventClose and returns io.EOF.
//
// # Modes
//
// A freshly opened channel is in callback mode and raises EventDataReady on
// each arrival. IoctlDeregisterCallback switches to polling mode, which the
// media task uses for the audio channel once a client attaches.
package uipc
