// Package audio prepares client PCM for the SBC encoder.
//
// The media task reads raw PCM from the audio channel once per encoded
// frame. The client may send any supported rate, sample width and channel
// count; the encoder always wants 16-bit samples at its own rate and
// channel count.
//
//	Client PCM → Feeder (residue, fractional carry) → Resampler → encoder frame
//
// # Feeder
//
// Feeder.ReadFrame hands out exactly one encoder frame per successful call:
//
//	feeder, err := audio.NewFeeder(audio.FeederConfig{
//	    Source:          audio.Format{SampleRate: 32000, BitsPerSample: 16, Channels: 2},
//	    OutputRate:      48000,
//	    OutputChannels:  2,
//	    SamplesPerFrame: 128,
//	    Mode:            audio.ModeSync,
//	})
//	pcm := make([]int16, 256)
//	if feeder.ReadFrame(audioChannel, pcm) {
//	    frame, err = encoder.Encode(frame, pcm)
//	}
//
// When the source already matches the encoder format the bytes are copied
// straight into the residue buffer. Otherwise each call reads the number of
// source frames that keeps the output exactly in step with the encoder
// clock: an integer accumulator carries the fractional remainder, so
// 32 kHz input alternates between 86 and 85 frames per 128 output frames.
//
// A short read in ModeAsync is padded with silence. A read that returns
// nothing at all always fails the frame, in either mode.
//
// # Resampler
//
// Resampler performs linear interpolation on an integer phase accumulator,
// widening 8-bit unsigned input to 16 bits and mapping mono to stereo by
// duplication or stereo to mono by averaging.
package audio
