package av

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/bluemedia/config"
	"github.com/opd-ai/bluemedia/uipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// taskHarness drives a MediaTask without its goroutine: events are posted
// as usual and handled by calling drain.
type taskHarness struct {
	task  *MediaTask
	conn  *fakeConn
	ctrl  *uipc.MemChannel
	data  *uipc.MemChannel
	clock *manualClock
}

func newTaskHarness(t *testing.T) *taskHarness {
	t.Helper()
	h := &taskHarness{
		conn:  newFakeConn(),
		ctrl:  uipc.NewMemChannel(uipc.ChannelControl),
		data:  uipc.NewMemChannel(uipc.ChannelAudio),
		clock: &manualClock{},
	}
	task, err := NewMediaTask(config.Default(), h.conn, h.ctrl, h.data, WithTimeProvider(h.clock))
	require.NoError(t, err)
	h.task = task

	task.state.Store(uint32(TaskOn))
	task.openControl()
	require.NoError(t, h.ctrl.Connect())
	task.drain()
	t.Cleanup(task.sched.Disarm)
	return h
}

// command sends one request byte and returns the acknowledgements written
// while handling it.
func (h *taskHarness) command(t *testing.T, cmd ControlCommand) []byte {
	t.Helper()
	require.NoError(t, h.ctrl.Send([]byte{byte(cmd)}))
	h.task.drain()
	return h.ctrl.Received()
}

func (h *taskHarness) tick() {
	h.task.sched.mu.Lock()
	gen := h.task.sched.gen
	h.task.sched.mu.Unlock()
	h.task.handle(tickEvent{gen: gen})
	h.task.drain()
}

// startStreaming walks a locally initiated start up to a running pipeline.
func (h *taskHarness) startStreaming(t *testing.T) {
	t.Helper()
	h.conn.set(true, false)
	h.task.SetupCodec()
	h.task.drain()
	require.Equal(t, 53, h.task.pipeline.Params().BitPool)

	assert.Empty(t, h.command(t, CmdStart))
	require.True(t, h.data.IsOpen())
	require.NoError(t, h.data.Connect())
	h.task.drain()
	require.True(t, h.task.pipeline.Running())

	h.conn.set(false, true)
	h.task.OnStarted(true, true, false)
	h.task.drain()
	require.Equal(t, []byte{byte(AckSuccess)}, h.ctrl.Received())
	require.Equal(t, CmdNone, h.task.bridge.pending)
}

func TestNewMediaTask_Validation(t *testing.T) {
	ctrl := uipc.NewMemChannel(uipc.ChannelControl)
	data := uipc.NewMemChannel(uipc.ChannelAudio)

	_, err := NewMediaTask(nil, nil, ctrl, data)
	assert.Error(t, err)

	_, err = NewMediaTask(nil, newFakeConn(), nil, data)
	assert.Error(t, err)

	task, err := NewMediaTask(nil, newFakeConn(), ctrl, data)
	require.NoError(t, err)
	assert.Equal(t, TaskOff, task.State())
}

func TestControl_CheckReady(t *testing.T) {
	tests := []struct {
		name         string
		ready        bool
		started      bool
		shuttingDown bool
		want         AckStatus
	}{
		{"stream ready", true, false, false, AckSuccess},
		{"stream started", false, true, false, AckSuccess},
		{"not ready", false, false, false, AckFailure},
		{"shutting down", true, false, true, AckFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTaskHarness(t)
			h.conn.set(tt.ready, tt.started)
			if tt.shuttingDown {
				h.task.state.Store(uint32(TaskShuttingDown))
			}
			assert.Equal(t, []byte{byte(tt.want)}, h.command(t, CmdCheckReady))
			assert.Equal(t, CmdNone, h.task.bridge.pending)
		})
	}
}

func TestControl_StopWhenIdle(t *testing.T) {
	h := newTaskHarness(t)
	assert.Equal(t, []byte{byte(AckSuccess)}, h.command(t, CmdStop))
	assert.Empty(t, h.conn.sentRequests())
}

func TestControl_SuspendWhenNotStarted(t *testing.T) {
	h := newTaskHarness(t)
	assert.Equal(t, []byte{byte(AckSuccess)}, h.command(t, CmdSuspend))
	assert.Empty(t, h.conn.sentRequests())
}

func TestControl_Start(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		h := newTaskHarness(t)
		assert.Equal(t, []byte{byte(AckFailure)}, h.command(t, CmdStart))
		assert.False(t, h.data.IsOpen())
	})

	t.Run("already started", func(t *testing.T) {
		h := newTaskHarness(t)
		h.conn.set(false, true)
		assert.Equal(t, []byte{byte(AckSuccess)}, h.command(t, CmdStart))
		assert.True(t, h.data.IsOpen())
		assert.Empty(t, h.conn.sentRequests())
	})

	t.Run("start refused", func(t *testing.T) {
		h := newTaskHarness(t)
		h.conn.set(true, false)
		assert.Empty(t, h.command(t, CmdStart))
		assert.Equal(t, []StreamRequest{RequestStartStream}, h.conn.sentRequests())

		h.task.OnStarted(false, true, false)
		h.task.drain()
		assert.Equal(t, []byte{byte(AckFailure)}, h.ctrl.Received())
	})

	t.Run("suspending start is not acknowledged", func(t *testing.T) {
		h := newTaskHarness(t)
		h.conn.set(true, false)
		assert.Empty(t, h.command(t, CmdStart))

		h.task.OnStarted(true, true, true)
		h.task.drain()
		assert.Empty(t, h.ctrl.Received())
		assert.Equal(t, CmdStart, h.task.bridge.pending)
	})
}

func TestControl_SecondRequestWhilePending(t *testing.T) {
	h := newTaskHarness(t)
	h.conn.set(true, false)

	assert.Empty(t, h.command(t, CmdStart))
	assert.Equal(t, []byte{byte(AckFailure)}, h.command(t, CmdCheckReady))
	assert.Equal(t, CmdStart, h.task.bridge.pending)

	h.task.OnStarted(true, true, false)
	h.task.drain()
	assert.Equal(t, []byte{byte(AckSuccess)}, h.ctrl.Received())
}

func TestControl_UnknownCommand(t *testing.T) {
	for _, raw := range []byte{0x00, 0x09, 0xFF} {
		h := newTaskHarness(t)
		assert.Equal(t, []byte{byte(AckFailure)}, h.command(t, ControlCommand(raw)), "byte 0x%02x", raw)
		assert.Equal(t, CmdNone, h.task.bridge.pending)
	}
}

func TestControl_AckWithNothingPending(t *testing.T) {
	h := newTaskHarness(t)
	assert.ErrorIs(t, h.task.bridge.ack(AckSuccess), ErrNoCommandPending)
	assert.Empty(t, h.ctrl.Received())
}

func TestControl_StreamAndSuspend(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	require.NoError(t, h.data.Send(sinePCM(4*882, 2, 44100)))
	for i := 0; i < 3; i++ {
		h.tick()
	}
	assert.Equal(t, uint64(20), h.task.pipeline.Stats().FramesEncoded)
	assert.Equal(t, 3, h.conn.dataReadyCount())

	pkt, ok := h.task.ReadBuf()
	require.True(t, ok)
	assert.Equal(t, 6, pkt.FrameCount)
	h.task.ReleaseBuf(pkt)

	assert.Empty(t, h.command(t, CmdSuspend))
	h.task.OnSuspended(true, true)
	h.task.drain()

	assert.Equal(t, []byte{byte(AckSuccess)}, h.ctrl.Received())
	assert.False(t, h.task.pipeline.Running())
	assert.False(t, h.data.IsOpen())
	assert.False(t, h.task.pipeline.Stats().TxFlush)
	assert.Equal(t, []StreamRequest{RequestStartStream, RequestSuspendStream}, h.conn.sentRequests())
}

func TestControl_StopWhileStreaming(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	require.NoError(t, h.data.Send(sinePCM(882, 2, 44100)))
	h.tick()
	require.Equal(t, 1, h.task.pipeline.Stats().QueueLen)

	assert.Empty(t, h.command(t, CmdStop))
	h.task.OnStopped(true, true)
	h.task.drain()

	assert.Equal(t, []byte{byte(AckSuccess)}, h.ctrl.Received())
	st := h.task.pipeline.Stats()
	assert.False(t, st.Running)
	assert.Zero(t, st.QueueLen)
	assert.False(t, h.data.IsOpen())
	assert.Equal(t, []StreamRequest{RequestStartStream, RequestStopStream}, h.conn.sentRequests())
}

func TestControl_StopRefused(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	assert.Empty(t, h.command(t, CmdStop))
	h.task.OnStopped(false, true)
	h.task.drain()

	assert.Equal(t, []byte{byte(AckFailure)}, h.ctrl.Received())
	assert.True(t, h.task.pipeline.Running())
}

func TestControl_SuspendRefused(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	assert.Empty(t, h.command(t, CmdSuspend))
	h.task.OnSuspended(false, true)
	h.task.drain()

	assert.Equal(t, []byte{byte(AckFailure)}, h.ctrl.Received())
	assert.True(t, h.task.pipeline.Running())
}

func TestControl_AudioClientHangup(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	h.data.Hangup()
	h.tick()

	assert.False(t, h.data.IsOpen())
	requests := h.conn.sentRequests()
	require.NotEmpty(t, requests)
	assert.Equal(t, RequestStopStream, requests[len(requests)-1])
	assert.Empty(t, h.ctrl.Received())
}

func TestControl_ControlClientDetach(t *testing.T) {
	t.Run("reopens while running", func(t *testing.T) {
		h := newTaskHarness(t)
		h.ctrl.Hangup()
		h.task.drain()

		assert.True(t, h.ctrl.IsOpen())
		require.NoError(t, h.ctrl.Connect())
		h.task.drain()
		assert.Equal(t, []byte{byte(AckSuccess)}, h.command(t, CmdStop))
	})

	t.Run("stays closed while shutting down", func(t *testing.T) {
		h := newTaskHarness(t)
		h.task.state.Store(uint32(TaskShuttingDown))
		h.ctrl.Hangup()
		h.task.drain()

		assert.False(t, h.ctrl.IsOpen())
	})
}

func TestControl_DataOpenUpdatesEncoder(t *testing.T) {
	h := newTaskHarness(t)
	h.conn.set(false, true)
	h.task.SetupCodec()
	h.task.drain()

	cc := defaultCodec()
	cc.Update.MaxBitPool = 32
	h.conn.mu.Lock()
	h.conn.codec = cc
	h.conn.mu.Unlock()

	assert.Equal(t, []byte{byte(AckSuccess)}, h.command(t, CmdStart))
	require.NoError(t, h.data.Connect())
	h.task.drain()

	assert.True(t, h.task.pipeline.Running())
	assert.LessOrEqual(t, h.task.pipeline.Params().BitPool, 32)
}

func TestMediaTask_RemoteStartSetsUpCodec(t *testing.T) {
	h := newTaskHarness(t)
	h.task.OnStarted(true, false, false)
	h.task.drain()

	p := h.task.pipeline
	assert.Equal(t, 53, p.Params().BitPool)
	assert.Equal(t, uint32(44100), p.Feeding().SampleRate)
	assert.Equal(t, TranscodePCMToSBC, p.Feeding().Format)
	assert.Empty(t, h.ctrl.Received())
}

func TestMediaTask_IdleStopsTransmit(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	h.task.OnIdle()
	h.task.drain()
	assert.False(t, h.task.pipeline.Running())
}

func TestMediaTask_StaleTickIgnored(t *testing.T) {
	h := newTaskHarness(t)
	h.startStreaming(t)

	h.task.sched.mu.Lock()
	stale := h.task.sched.gen - 1
	h.task.sched.mu.Unlock()

	h.task.handle(tickEvent{gen: stale})
	assert.Zero(t, h.conn.dataReadyCount())

	h.tick()
	assert.Equal(t, 1, h.conn.dataReadyCount())
}

func TestMediaTask_RequestsWhenOff(t *testing.T) {
	task, err := NewMediaTask(nil, newFakeConn(), uipc.NewMemChannel(uipc.ChannelControl), uipc.NewMemChannel(uipc.ChannelAudio))
	require.NoError(t, err)

	assert.ErrorIs(t, task.StartTx(), ErrTaskNotRunning)
	assert.ErrorIs(t, task.StopTx(), ErrTaskNotRunning)
	assert.ErrorIs(t, task.FlushTx(), ErrTaskNotRunning)
	assert.ErrorIs(t, task.EncoderInit(defaultCodec().Encoder), ErrTaskNotRunning)
	assert.ErrorIs(t, task.EncoderUpdate(defaultCodec().Update), ErrTaskNotRunning)
	assert.ErrorIs(t, task.FeedingInit(stereo44k()), ErrTaskNotRunning)

	assert.NotPanics(t, func() { task.OnStarted(true, true, false) })
	assert.False(t, task.Stats().Running)
	assert.Zero(t, task.Params().BitPool)
}

func TestMediaTask_Lifecycle(t *testing.T) {
	conn := newFakeConn()
	ctrl := uipc.NewMemChannel(uipc.ChannelControl)
	data := uipc.NewMemChannel(uipc.ChannelAudio)
	task, err := NewMediaTask(nil, conn, ctrl, data)
	require.NoError(t, err)

	require.NoError(t, task.Start(context.Background()))
	assert.Equal(t, TaskOn, task.State())
	assert.True(t, ctrl.IsOpen())
	assert.ErrorIs(t, task.Start(context.Background()), ErrTaskAlreadyRunning)

	require.NoError(t, ctrl.Connect())
	require.NoError(t, ctrl.Send([]byte{byte(CmdCheckReady)}))
	var acks []byte
	require.Eventually(t, func() bool {
		acks = append(acks, ctrl.Received()...)
		return len(acks) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{byte(AckFailure)}, acks)

	require.NoError(t, task.EncoderInit(defaultCodec().Encoder))
	assert.Zero(t, task.Stats().QueueLen)
	assert.NotZero(t, task.Params().BitPool)

	task.Shutdown()
	assert.Equal(t, TaskOff, task.State())
	assert.False(t, ctrl.IsOpen())
	assert.ErrorIs(t, task.StartTx(), ErrTaskNotRunning)
}

func TestMediaTask_StreamsOnClockTicks(t *testing.T) {
	conn := newFakeConn()
	conn.set(true, false)
	ctrl := uipc.NewMemChannel(uipc.ChannelControl)
	data := uipc.NewMemChannel(uipc.ChannelAudio)
	clock := &manualClock{}
	task, err := NewMediaTask(nil, conn, ctrl, data, WithTimeProvider(clock))
	require.NoError(t, err)

	require.NoError(t, task.Start(context.Background()))
	defer task.Shutdown()

	task.SetupCodec()
	require.NoError(t, ctrl.Connect())
	require.NoError(t, ctrl.Send([]byte{byte(CmdStart)}))
	require.Eventually(t, data.IsOpen, time.Second, 5*time.Millisecond)

	require.NoError(t, data.Connect())
	require.Eventually(t, func() bool { return task.Stats().Running }, time.Second, 5*time.Millisecond)

	require.NoError(t, data.Send(sinePCM(4410, 2, 44100)))
	require.Eventually(t, func() bool {
		clock.fire()
		return task.Stats().FramesEncoded > 0
	}, time.Second, 5*time.Millisecond)

	pkt, ok := task.ReadBuf()
	require.True(t, ok)
	assert.NotZero(t, pkt.FrameCount)
	task.ReleaseBuf(pkt)
	assert.Positive(t, conn.dataReadyCount())

	task.Shutdown()
	assert.Equal(t, TaskOff, task.State())
	assert.False(t, data.IsOpen())
}

func TestMediaTask_ContextCancel(t *testing.T) {
	task, err := NewMediaTask(nil, newFakeConn(), uipc.NewMemChannel(uipc.ChannelControl), uipc.NewMemChannel(uipc.ChannelAudio))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, task.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return task.State() == TaskOff }, time.Second, 5*time.Millisecond)
	assert.NotPanics(t, task.Shutdown)
	assert.Equal(t, TaskOff, task.State())
}
