package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func decode16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func TestNewResampler(t *testing.T) {
	valid := ResamplerConfig{InputRate: 44100, OutputRate: 48000, InputChannels: 2, OutputChannels: 2, BitsPerSample: 16}

	tests := []struct {
		name    string
		mutate  func(*ResamplerConfig)
		wantErr error
	}{
		{"valid_config", func(*ResamplerConfig) {}, nil},
		{"zero_input_rate", func(c *ResamplerConfig) { c.InputRate = 0 }, ErrInvalidRate},
		{"zero_output_rate", func(c *ResamplerConfig) { c.OutputRate = 0 }, ErrInvalidRate},
		{"invalid_channels_zero", func(c *ResamplerConfig) { c.InputChannels = 0 }, ErrUnsupportedChannels},
		{"invalid_channels_three", func(c *ResamplerConfig) { c.OutputChannels = 3 }, ErrUnsupportedChannels},
		{"24_bit_input", func(c *ResamplerConfig) { c.BitsPerSample = 24 }, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			r, err := NewResampler(cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint32(44100), r.GetInputRate())
			assert.Equal(t, uint32(48000), r.GetOutputRate())
			assert.Equal(t, 4, r.InputFrameSize())
			assert.Equal(t, 4, r.OutputFrameSize())
		})
	}
}

func TestResampleSameRateDelaysOneFrame(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, InputChannels: 2, OutputChannels: 2, BitsPerSample: 16})
	require.NoError(t, err)

	out := r.Resample(nil, pcm16(100, -100, 200, -200, 300, -300))
	assert.Equal(t, []int16{0, 0, 100, -100, 200, -200}, decode16(out))

	out = r.Resample(nil, pcm16(400, -400))
	assert.Equal(t, []int16{300, -300}, decode16(out))
}

func TestResampleUpsampleInterpolates(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 16000, OutputRate: 48000, InputChannels: 1, OutputChannels: 1, BitsPerSample: 16})
	require.NoError(t, err)

	out := r.Resample(nil, pcm16(0, 300, 600))
	assert.Equal(t, []int16{0, 0, 0, 0, 100, 200, 300, 400, 500}, decode16(out))
}

func TestResampleFrameCountIsExact(t *testing.T) {
	tests := []struct {
		name       string
		in, out    uint32
		chunk      int
		calls      int
		wantFrames int
	}{
		{"32k to 48k", 32000, 48000, 7, 10, 105},
		{"22.05k to 44.1k", 22050, 44100, 13, 9, 234},
		{"8k to 48k", 8000, 48000, 5, 11, 330},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(ResamplerConfig{InputRate: tt.in, OutputRate: tt.out, InputChannels: 1, OutputChannels: 1, BitsPerSample: 16})
			require.NoError(t, err)

			chunk := make([]byte, 2*tt.chunk)
			var out []byte
			for i := 0; i < tt.calls; i++ {
				out = r.Resample(out, chunk)
			}
			assert.Equal(t, tt.wantFrames, len(out)/2)
		})
	}
}

func TestResampleChannelMapping(t *testing.T) {
	t.Run("8 bit mono to 16 bit stereo", func(t *testing.T) {
		r, err := NewResampler(ResamplerConfig{InputRate: 44100, OutputRate: 44100, InputChannels: 1, OutputChannels: 2, BitsPerSample: 8})
		require.NoError(t, err)

		out := r.Resample(nil, []byte{128, 255, 0})
		assert.Equal(t, []int16{0, 0, 0, 0, 32512, 32512}, decode16(out))
	})

	t.Run("stereo to mono averages", func(t *testing.T) {
		r, err := NewResampler(ResamplerConfig{InputRate: 44100, OutputRate: 44100, InputChannels: 2, OutputChannels: 1, BitsPerSample: 16})
		require.NoError(t, err)

		out := r.Resample(nil, pcm16(1000, 3000, 2000, 2000))
		assert.Equal(t, []int16{0, 2000}, decode16(out))
	})
}

func TestResamplerReset(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, InputChannels: 1, OutputChannels: 1, BitsPerSample: 16})
	require.NoError(t, err)

	r.Resample(nil, pcm16(500))
	r.Reset()
	out := r.Resample(nil, pcm16(700))
	assert.Equal(t, []int16{0}, decode16(out))
}

func TestResampleIgnoresEmptyInput(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 16000, OutputRate: 48000, InputChannels: 2, OutputChannels: 2, BitsPerSample: 16})
	require.NoError(t, err)

	dst := []byte{1, 2}
	assert.Equal(t, dst, r.Resample(dst, []byte{9, 9}))
}
