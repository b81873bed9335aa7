package main

import (
	"testing"

	"github.com/opd-ai/bluemedia/av"
	"github.com/opd-ai/bluemedia/av/sbc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCallback struct {
	name          string
	ok, initiator bool
}

type callbackRecorder struct {
	calls []recordedCallback
}

func (r *callbackRecorder) OnStarted(ok, initiator, _ bool) {
	r.calls = append(r.calls, recordedCallback{"started", ok, initiator})
}

func (r *callbackRecorder) OnStopped(ok, initiator bool) {
	r.calls = append(r.calls, recordedCallback{"stopped", ok, initiator})
}

func (r *callbackRecorder) OnSuspended(ok, initiator bool) {
	r.calls = append(r.calls, recordedCallback{"suspended", ok, initiator})
}

func TestLoopbackSink_Requests(t *testing.T) {
	rec := &callbackRecorder{}
	sink := newLoopbackSink(codecFor(895, 53))
	sink.attach(rec)

	assert.True(t, sink.StreamReady())
	assert.False(t, sink.StreamStartedReady())

	sink.Dispatch(av.RequestStartStream)
	assert.False(t, sink.StreamReady())
	assert.True(t, sink.StreamStartedReady())

	sink.Dispatch(av.RequestSuspendStream)
	assert.True(t, sink.StreamReady())

	sink.Dispatch(av.RequestStartStream)
	sink.Dispatch(av.RequestStopStream)

	assert.Equal(t, []recordedCallback{
		{"started", true, true},
		{"suspended", true, true},
		{"started", true, true},
		{"stopped", true, true},
	}, rec.calls)
}

func TestLoopbackSink_DispatchWithoutTask(t *testing.T) {
	sink := newLoopbackSink(codecFor(895, 53))
	assert.NotPanics(t, func() { sink.Dispatch(av.RequestStartStream) })
	assert.True(t, sink.StreamStartedReady())
}

func TestLoopbackSink_DataReadyNeverBlocks(t *testing.T) {
	sink := newLoopbackSink(codecFor(895, 53))
	for i := 0; i < 5; i++ {
		sink.DataReady()
	}

	select {
	case <-sink.Kicks():
	default:
		t.Fatal("expected a pending kick")
	}
	select {
	case <-sink.Kicks():
		t.Fatal("kicks must coalesce")
	default:
	}
}

func TestCodecFor(t *testing.T) {
	cc := codecFor(672, 35)
	assert.Equal(t, 672, cc.Encoder.MTU)
	assert.Equal(t, 672, cc.Update.MinMTU)
	assert.Equal(t, 35, cc.Update.MaxBitPool)

	sink := newLoopbackSink(cc)
	got, err := sink.CodecConfig()
	require.NoError(t, err)
	assert.Equal(t, cc, got)

	params := sbc.Params{
		ChannelMode:  cc.Encoder.ChannelMode,
		Subbands:     cc.Encoder.Subbands,
		Blocks:       cc.Encoder.Blocks,
		Allocation:   cc.Encoder.Allocation,
		SamplingFreq: cc.Encoder.SamplingFreq,
		BitPool:      cc.Update.MaxBitPool,
	}
	assert.NoError(t, params.Validate())
}
