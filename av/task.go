package av

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/bluemedia/av/audio"
	"github.com/opd-ai/bluemedia/av/rtp"
	"github.com/opd-ai/bluemedia/av/sbc"
	"github.com/opd-ai/bluemedia/config"
	"github.com/opd-ai/bluemedia/uipc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// mailbox is the single FIFO of the media task. Posting never blocks.
type mailbox struct {
	mu    sync.Mutex
	items []any
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev any) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Mailbox events.
type (
	txCommand          uint8
	encoderInitEvent   struct{ cfg EncoderConfig }
	encoderUpdateEvent struct{ upd EncoderUpdate }
	feedingInitEvent   struct{ cfg FeedingConfig }
	channelEvent       struct {
		id uipc.ChannelID
		ev uipc.Event
	}
	avStartedEvent struct {
		ok, initiator, suspending bool
	}
	avStoppedEvent struct {
		ok, initiator bool
	}
	avSuspendedEvent struct {
		ok, initiator bool
	}
	avIdleEvent     struct{}
	txFlushEvent    struct{ enable bool }
	setupCodecEvent struct{}
	shutdownEvent   struct{}
	callEvent       struct {
		fn   func()
		done chan struct{}
	}
)

const (
	cmdStartTx txCommand = iota + 1
	cmdStopTx
	cmdFlushTx
)

// Option configures a MediaTask.
type Option func(*MediaTask)

// WithTimeProvider sets the clock that drives the media tick.
func WithTimeProvider(tp TimeProvider) Option {
	return func(t *MediaTask) { t.clock = tp }
}

// WithMetrics sets the instruments the task records into.
func WithMetrics(m *Metrics) Option {
	return func(t *MediaTask) { t.metrics = m }
}

// WithEncoder replaces the SBC encoder.
func WithEncoder(enc sbc.Encoder) Option {
	return func(t *MediaTask) { t.encoder = enc }
}

// MediaTask runs the A2DP source media pipeline on a single goroutine.
//
// Ticks, pipeline commands, channel events and AV layer callbacks are all
// posted to one mailbox and handled in arrival order, so the pipeline and
// the control bridge never need locks. The exported methods only post and
// are safe to call from any goroutine.
//
// Example usage:
//
//	task, err := av.NewMediaTask(cfg, conn, ctrl, data)
//	if err != nil {
//	    return err
//	}
//	if err := task.Start(ctx); err != nil {
//	    return err
//	}
//	defer task.Shutdown()
type MediaTask struct {
	cfg     *config.Config
	conn    AVConnection
	ctrl    uipc.Channel
	data    uipc.Channel
	clock   TimeProvider
	metrics *Metrics
	encoder sbc.Encoder

	mailbox  *mailbox
	sched    *tickerScheduler
	pipeline *Pipeline
	bridge   *controlBridge
	handler  uipc.EventHandler

	state atomic.Uint32

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	exited chan struct{}
}

// NewMediaTask creates a media task in the TaskOff state.
//
// Parameters:
//   - cfg: Runtime configuration
//   - conn: The AV connection the task reports to
//   - ctrl: Control channel carrying requests and acknowledgements
//   - data: Audio channel carrying PCM
//   - opts: Optional clock, metrics and encoder overrides
//
// Returns:
//   - *MediaTask: New task instance
//   - error: Any error that occurred during setup
func NewMediaTask(cfg *config.Config, conn AVConnection, ctrl, data uipc.Channel, opts ...Option) (*MediaTask, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if conn == nil {
		return nil, fmt.Errorf("AV connection cannot be nil")
	}
	if ctrl == nil || data == nil {
		return nil, fmt.Errorf("control and data channels are required")
	}

	t := &MediaTask{
		cfg:     cfg,
		conn:    conn,
		ctrl:    ctrl,
		data:    data,
		mailbox: newMailbox(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		t.metrics = m
	}

	t.sched = newTickerScheduler(t.clock, t.mailbox.post)
	p, err := NewPipeline(PipelineConfigFrom(cfg), t.sched, conn, data, t.encoder, t.metrics)
	if err != nil {
		return nil, err
	}
	t.pipeline = p
	t.bridge = &controlBridge{task: t}
	t.handler = func(id uipc.ChannelID, ev uipc.Event) {
		t.mailbox.post(channelEvent{id: id, ev: ev})
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewMediaTask",
		"control":  ctrl.ID().String(),
		"data":     data.ID().String(),
		"tick":     cfg.TickPeriod(),
	}).Info("Media task created")

	return t, nil
}

// Start launches the event loop and waits until it reports TaskOn, at most
// for the configured startup timeout.
func (t *MediaTask) Start(ctx context.Context) error {
	t.mu.Lock()
	if TaskState(t.state.Load()) != TaskOff || t.group != nil {
		t.mu.Unlock()
		return ErrTaskAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan struct{})
	exited := make(chan struct{})
	t.cancel = cancel
	t.group = g
	t.exited = exited
	t.mu.Unlock()

	g.Go(func() error {
		defer close(exited)
		return t.run(gctx, ready)
	})

	timeout := t.cfg.StartupTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.Start",
		}).Info("Media task running")
		return nil
	case <-timer.C:
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.Start",
			"timeout":  timeout,
		}).Error("Media task did not come up")
		t.stop(true)
		return ErrStartupTimeout
	case <-ctx.Done():
		t.stop(true)
		return ctx.Err()
	}
}

// Shutdown stops transmission, closes both channels and ends the event
// loop. On a loop that already ended because its context was cancelled it
// only releases the goroutine.
func (t *MediaTask) Shutdown() {
	if !t.state.CompareAndSwap(uint32(TaskOn), uint32(TaskShuttingDown)) {
		t.stop(true)
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "MediaTask.Shutdown",
	}).Info("Shutting down media task")

	t.mailbox.post(shutdownEvent{})
	t.stop(false)
}

// stop waits for the loop goroutine and releases its context. With abort
// set the loop is cancelled instead of being left to reach shutdownEvent.
func (t *MediaTask) stop(abort bool) {
	t.mu.Lock()
	g, cancel := t.group, t.cancel
	t.mu.Unlock()
	if g == nil {
		return
	}

	if abort {
		cancel()
	}
	if err := g.Wait(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.stop",
			"error":    err.Error(),
		}).Warn("Media task loop ended with error")
	}
	cancel()

	t.mu.Lock()
	t.group, t.cancel = nil, nil
	t.mu.Unlock()
}

// State returns the lifecycle state.
func (t *MediaTask) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *MediaTask) run(ctx context.Context, ready chan<- struct{}) error {
	t.openControl()
	t.state.Store(uint32(TaskOn))
	close(ready)

	for {
		select {
		case <-ctx.Done():
			t.state.Store(uint32(TaskShuttingDown))
			t.teardown()
			return nil
		case <-t.mailbox.wake:
			if t.drain() {
				t.teardown()
				return nil
			}
		}
	}
}

// drain handles every queued event. It reports whether shutdown was
// requested; events after a shutdown are discarded.
func (t *MediaTask) drain() bool {
	for {
		items := t.mailbox.take()
		if len(items) == 0 {
			return false
		}
		for _, ev := range items {
			if t.handle(ev) {
				return true
			}
		}
	}
}

func (t *MediaTask) teardown() {
	if t.pipeline.Running() {
		t.pipeline.StopTx()
	} else {
		t.sched.Disarm()
	}
	for _, ch := range []uipc.Channel{t.ctrl, t.data} {
		if !ch.IsOpen() {
			continue
		}
		if err := ch.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "MediaTask.teardown",
				"channel":  ch.ID().String(),
				"error":    err.Error(),
			}).Warn("Failed to close channel")
		}
	}
	// Callers blocked in call still get an answer.
	for _, ev := range t.mailbox.take() {
		if c, ok := ev.(callEvent); ok {
			c.fn()
			close(c.done)
		}
	}
	t.state.Store(uint32(TaskOff))

	logrus.WithFields(logrus.Fields{
		"function": "MediaTask.teardown",
	}).Info("Media task stopped")
}

func (t *MediaTask) openControl() {
	if err := t.ctrl.Open(t.handler); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.openControl",
			"error":    err.Error(),
		}).Error("Failed to open control channel")
	}
}

// handle dispatches one mailbox event. It returns true on shutdown.
func (t *MediaTask) handle(ev any) bool {
	switch e := ev.(type) {
	case tickEvent:
		if t.sched.current(e.gen) {
			t.pipeline.ProduceTick()
		}
	case txCommand:
		switch e {
		case cmdStartTx:
			_ = t.pipeline.StartTx()
		case cmdStopTx:
			t.pipeline.StopTx()
		case cmdFlushTx:
			t.pipeline.FlushTx()
		}
	case encoderInitEvent:
		_ = t.pipeline.EncoderInit(e.cfg)
	case encoderUpdateEvent:
		_ = t.pipeline.EncoderUpdate(e.upd)
	case feedingInitEvent:
		_ = t.pipeline.FeedingInit(e.cfg)
	case channelEvent:
		if e.id == t.ctrl.ID() {
			t.bridge.handleControlEvent(e.ev)
		} else {
			t.bridge.handleDataEvent(e.ev)
		}
	case avStartedEvent:
		t.bridge.onStarted(e)
	case avStoppedEvent:
		t.bridge.onStopped(e)
	case avSuspendedEvent:
		t.bridge.onSuspended(e)
	case avIdleEvent:
		t.mailbox.post(cmdStopTx)
	case txFlushEvent:
		t.pipeline.SetTxFlush(e.enable)
	case setupCodecEvent:
		t.setupCodec()
	case callEvent:
		e.fn()
		close(e.done)
	case shutdownEvent:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.handle",
			"event":    fmt.Sprintf("%T", ev),
		}).Warn("Unknown mailbox event")
	}
	return false
}

// post queues ev if the loop is running.
func (t *MediaTask) post(ev any) error {
	if t.State() != TaskOn {
		return ErrTaskNotRunning
	}
	t.mailbox.post(ev)
	return nil
}

// StartTx requests the tick to be armed.
func (t *MediaTask) StartTx() error { return t.post(cmdStartTx) }

// StopTx requests transmission to stop.
func (t *MediaTask) StopTx() error { return t.post(cmdStopTx) }

// FlushTx requests the outbound queue and feeding state to be cleared.
func (t *MediaTask) FlushTx() error { return t.post(cmdFlushTx) }

// EncoderInit requests an encoder configuration.
func (t *MediaTask) EncoderInit(cfg EncoderConfig) error {
	return t.post(encoderInitEvent{cfg: cfg})
}

// EncoderUpdate requests a bitpool renegotiation.
func (t *MediaTask) EncoderUpdate(upd EncoderUpdate) error {
	return t.post(encoderUpdateEvent{upd: upd})
}

// FeedingInit requests a feeding configuration.
func (t *MediaTask) FeedingInit(cfg FeedingConfig) error {
	return t.post(feedingInitEvent{cfg: cfg})
}

// OnStarted reports the outcome of a start stream request.
func (t *MediaTask) OnStarted(ok, initiator, suspending bool) {
	t.postCallback(avStartedEvent{ok: ok, initiator: initiator, suspending: suspending})
}

// OnStopped reports the outcome of a stop stream request.
func (t *MediaTask) OnStopped(ok, initiator bool) {
	t.postCallback(avStoppedEvent{ok: ok, initiator: initiator})
}

// OnSuspended reports the outcome of a suspend stream request.
func (t *MediaTask) OnSuspended(ok, initiator bool) {
	t.postCallback(avSuspendedEvent{ok: ok, initiator: initiator})
}

// OnIdle reports that the AV connection went idle.
func (t *MediaTask) OnIdle() {
	t.postCallback(avIdleEvent{})
}

// SetTxFlush turns frame discarding on or off.
func (t *MediaTask) SetTxFlush(enable bool) {
	t.postCallback(txFlushEvent{enable: enable})
}

// SetupCodec configures encoder and feeding from the negotiated codec.
func (t *MediaTask) SetupCodec() {
	t.postCallback(setupCodecEvent{})
}

func (t *MediaTask) postCallback(ev any) {
	if err := t.post(ev); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.postCallback",
			"event":    fmt.Sprintf("%T", ev),
			"state":    t.State().String(),
		}).Warn("Media task not running, dropping callback")
	}
}

// setupCodec posts encoder init, encoder update and feeding init for the
// negotiated codec and the default PCM feeding.
func (t *MediaTask) setupCodec() {
	cc, err := t.conn.CodecConfig()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MediaTask.setupCodec",
			"error":    err.Error(),
		}).Error("No codec configuration available")
		return
	}

	t.mailbox.post(encoderInitEvent{cfg: cc.Encoder})
	t.mailbox.post(encoderUpdateEvent{upd: cc.Update})
	t.mailbox.post(feedingInitEvent{cfg: t.defaultFeeding()})
}

func (t *MediaTask) defaultFeeding() FeedingConfig {
	f := t.cfg.Feeding
	mode := audio.ModeSync
	if f.Mode == config.FeedingAsync {
		mode = audio.ModeAsync
	}
	return FeedingConfig{
		Format:        TranscodePCMToSBC,
		SampleRate:    uint32(f.SampleRate),
		BitsPerSample: f.BitsPerSample,
		Channels:      f.Channels,
		Mode:          mode,
	}
}

// call runs fn on the loop goroutine and waits for it. When the loop is
// not running fn runs on the caller.
func (t *MediaTask) call(fn func()) {
	if t.State() != TaskOn {
		fn()
		return
	}
	t.mu.Lock()
	exited := t.exited
	t.mu.Unlock()

	done := make(chan struct{})
	t.mailbox.post(callEvent{fn: fn, done: done})
	select {
	case <-done:
	case <-exited:
		select {
		case <-done:
		default:
			fn()
		}
	}
}

// Stats returns a snapshot of the pipeline accounting.
func (t *MediaTask) Stats() PipelineStats {
	var s PipelineStats
	t.call(func() { s = t.pipeline.Stats() })
	return s
}

// Params returns the active encoder parameters.
func (t *MediaTask) Params() sbc.Params {
	var p sbc.Params
	t.call(func() { p = t.pipeline.Params() })
	return p
}

// ReadBuf removes the oldest queued media packet. It implements
// rtp.PacketSource and may be called from any goroutine.
func (t *MediaTask) ReadBuf() (*rtp.MediaPacket, bool) {
	return t.pipeline.ReadBuf()
}

// ReleaseBuf returns a packet obtained from ReadBuf.
func (t *MediaTask) ReleaseBuf(p *rtp.MediaPacket) {
	t.pipeline.ReleaseBuf(p)
}
