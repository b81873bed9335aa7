package av

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/bluemedia/av/audio"
	"github.com/opd-ai/bluemedia/av/rtp"
	"github.com/opd-ai/bluemedia/av/sbc"
	"github.com/opd-ai/bluemedia/config"
	"github.com/opd-ai/bluemedia/uipc"
	"github.com/sirupsen/logrus"
)

// ErrTxRunning indicates StartTx while the tick is already armed.
var ErrTxRunning = errors.New("transmit already running")

// minBitPool is the smallest bitpool a legal SBC stream may use.
const minBitPool = 2

// PipelineConfig holds the tunables of the media pipeline.
type PipelineConfig struct {
	TickPeriod         time.Duration
	MaxFramesPerTick   int
	QueueDepth         int
	PoolBuffers        int
	BufferSize         int
	ContentProtection  bool
	DefaultBitrateKbps uint32
	BitrateStepKbps    uint32
	MaxSearchSteps     int
}

// PipelineConfigFrom extracts the pipeline tunables from cfg.
func PipelineConfigFrom(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		TickPeriod:         cfg.TickPeriod(),
		MaxFramesPerTick:   cfg.Tick.MaxFramesPerTick,
		QueueDepth:         cfg.Queue.MaxDepth,
		PoolBuffers:        cfg.Queue.PoolBuffers,
		BufferSize:         cfg.Queue.BufferSize,
		ContentProtection:  cfg.Media.ContentProtection,
		DefaultBitrateKbps: uint32(cfg.Encoder.DefaultBitrateKbps),
		BitrateStepKbps:    uint32(cfg.Encoder.BitrateStepKbps),
		MaxSearchSteps:     cfg.Encoder.MaxSearchSteps,
	}
}

// DefaultPipelineConfig returns the tunables of config.Default().
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfigFrom(config.Default())
}

// Pipeline is the state owned by the media task: encoder and feeding
// configuration, tick accounting, the sample clock and the outbound queue.
//
// Pipeline is not safe for concurrent use. Every method except ReadBuf and
// ReleaseBuf must be called from the media task goroutine; those two only
// touch the queue and the buffer pool, which have their own locks.
type Pipeline struct {
	cfg     PipelineConfig
	sched   Scheduler
	conn    AVConnection
	data    uipc.Channel
	encoder sbc.Encoder
	metrics *Metrics
	ctx     context.Context

	pool  *rtp.BufferPool
	queue *rtp.Queue

	running bool
	txFlush bool

	params    sbc.Params
	encReady  bool
	mtu       int
	update    EncoderUpdate
	hasUpdate bool

	feeding FeedingConfig
	feeder  *audio.Feeder
	pcm     []int16

	timestamp    uint32
	frameCounter int64
	tickUnits    int64
	frameUnits   int64

	framesEncoded uint64
	underflows    uint64
	encodeErrors  uint64
}

// NewPipeline creates an idle pipeline.
//
// Parameters:
//   - cfg: Pipeline tunables
//   - sched: Tick source armed by StartTx
//   - conn: AV connection notified after every tick (may be nil)
//   - data: Audio data channel PCM is read from
//   - enc: SBC encoder; nil selects sbc.NewFrameEncoder()
//   - metrics: Instruments; nil creates them from the global provider
//
// Returns:
//   - *Pipeline: New pipeline instance
//   - error: Any error that occurred during setup
func NewPipeline(cfg PipelineConfig, sched Scheduler, conn AVConnection, data uipc.Channel, enc sbc.Encoder, metrics *Metrics) (*Pipeline, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if data == nil {
		return nil, fmt.Errorf("data channel cannot be nil")
	}
	if cfg.TickPeriod <= 0 {
		return nil, fmt.Errorf("tick period must be positive, got %v", cfg.TickPeriod)
	}
	if enc == nil {
		enc = sbc.NewFrameEncoder()
	}
	if metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		metrics = m
	}

	p := &Pipeline{
		cfg:     cfg,
		sched:   sched,
		conn:    conn,
		data:    data,
		encoder: enc,
		metrics: metrics,
		ctx:     context.Background(),
		pool:    rtp.NewBufferPool(cfg.PoolBuffers, rtp.PayloadCeiling(cfg.BufferSize, cfg.ContentProtection)),
		queue:   rtp.NewQueue(cfg.QueueDepth),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewPipeline",
		"tick":        cfg.TickPeriod,
		"queue_depth": cfg.QueueDepth,
		"buffers":     cfg.PoolBuffers,
		"buffer_size": cfg.BufferSize,
	}).Debug("Media pipeline created")

	return p, nil
}

// StartTx resets the tick accounting and arms the tick. Starting a running
// pipeline fails with ErrTxRunning and leaves the timer untouched.
func (p *Pipeline) StartTx() error {
	if p.running || p.sched.Armed() {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.StartTx",
		}).Warn("Transmit already running, ignoring start")
		return ErrTxRunning
	}

	p.resetFeedingState()
	if err := p.sched.Arm(p.cfg.TickPeriod); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.StartTx",
			"error":    err.Error(),
		}).Error("Failed to arm media tick")
		return fmt.Errorf("failed to arm media tick: %w", err)
	}
	p.running = true

	logrus.WithFields(logrus.Fields{
		"function":  "Pipeline.StartTx",
		"period":    p.cfg.TickPeriod,
		"timestamp": p.timestamp,
	}).Info("Media transmit started")
	return nil
}

// StopTx disarms the tick, closes the audio data channel, clears tx_flush
// and resets the tick accounting.
func (p *Pipeline) StopTx() {
	p.sched.Disarm()
	p.running = false

	if p.data.IsOpen() {
		if err := p.data.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.StopTx",
				"error":    err.Error(),
			}).Warn("Failed to close audio channel")
		}
	}

	p.txFlush = false
	p.resetFeedingState()

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.StopTx",
	}).Info("Media transmit stopped")
}

// FlushTx drops every queued packet, clears the tick and feeding carry and
// discards unread audio on the data channel.
func (p *Pipeline) FlushTx() {
	p.resetFeedingState()
	n := p.drainQueue()
	p.metrics.recordDrop(p.ctx, dropFlush, n)

	if p.data.IsOpen() {
		if err := p.data.Ioctl(uipc.IoctlFlushRx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.FlushTx",
				"error":    err.Error(),
			}).Warn("Failed to flush audio channel")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.FlushTx",
		"dropped":  n,
	}).Debug("Media queue flushed")
}

// EncoderInit configures the encoder from the negotiated SBC capabilities
// at the default bitrate and derives the payload MTU.
func (p *Pipeline) EncoderInit(cfg EncoderConfig) error {
	params := sbc.Params{
		ChannelMode:  cfg.ChannelMode,
		Subbands:     cfg.Subbands,
		Blocks:       cfg.Blocks,
		Allocation:   cfg.Allocation,
		SamplingFreq: cfg.SamplingFreq,
		BitRate:      p.cfg.DefaultBitrateKbps,
		BitPool:      minBitPool,
	}
	if err := params.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.EncoderInit",
			"error":    err.Error(),
		}).Error("Invalid encoder configuration")
		return err
	}

	params = p.searchBitPool(params, minBitPool, params.MaxBitPool())
	p.mtu = p.mtuFor(cfg.MTU)
	p.hasUpdate = false

	if err := p.initEncoder(params); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.EncoderInit",
		"mtu":      p.mtu,
		"peer_mtu": cfg.MTU,
		"bitpool":  params.BitPool,
	}).Info("Encoder initialized")

	return p.refreshFeeder()
}

// EncoderUpdate reruns the bitpool search for the negotiated range and
// re-initializes the encoder. An inverted range is reported with
// ErrInvalidBitpoolRange but the best-effort result is still applied.
func (p *Pipeline) EncoderUpdate(upd EncoderUpdate) error {
	if !p.encReady {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.EncoderUpdate",
		}).Warn("Encoder update before init, ignoring")
		return ErrNotConfigured
	}

	if upd.MinMTU > 0 {
		p.mtu = p.mtuFor(upd.MinMTU)
	}

	var rangeErr error
	if upd.MinBitPool > upd.MaxBitPool {
		rangeErr = fmt.Errorf("%w: min %d > max %d", ErrInvalidBitpoolRange, upd.MinBitPool, upd.MaxBitPool)
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.EncoderUpdate",
			"min":      upd.MinBitPool,
			"max":      upd.MaxBitPool,
			"error":    rangeErr.Error(),
		}).Error("Inconsistent bitpool range, continuing with best effort")
	}

	params := p.params
	params.BitRate = p.cfg.DefaultBitrateKbps
	params = p.searchBitPool(params, upd.MinBitPool, upd.MaxBitPool)
	p.update = upd
	p.hasUpdate = true

	if err := p.initEncoder(params); err != nil {
		return errors.Join(rangeErr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.EncoderUpdate",
		"min":      upd.MinBitPool,
		"max":      upd.MaxBitPool,
		"bitpool":  params.BitPool,
		"bitrate":  params.BitRate,
		"mtu":      p.mtu,
	}).Info("Encoder updated")

	return errors.Join(rangeErr, p.refreshFeeder())
}

// FeedingInit stores the PCM feeding description and adapts the encoder to
// it: the sampling frequency follows the feeding rate family and mono is
// promoted to joint stereo.
func (p *Pipeline) FeedingInit(fc FeedingConfig) error {
	if fc.Format != TranscodePCMToSBC {
		err := fmt.Errorf("%w: %s", ErrUnknownTranscoding, fc.Format)
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.FeedingInit",
			"error":    err.Error(),
		}).Error("Cannot feed encoder")
		return err
	}
	p.feeding = fc

	logrus.WithFields(logrus.Fields{
		"function":        "Pipeline.FeedingInit",
		"sample_rate":     fc.SampleRate,
		"bits_per_sample": fc.BitsPerSample,
		"channels":        fc.Channels,
		"mode":            fc.Mode.String(),
	}).Info("Feeding configured")

	if !p.encReady {
		return nil
	}

	var rateErr error
	params := p.params
	reconfig := false

	freq, ok := codecRateFor(fc.SampleRate)
	if !ok {
		rateErr = fmt.Errorf("%w: %d Hz", ErrUnsupportedSampleRate, fc.SampleRate)
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.FeedingInit",
			"error":    rateErr.Error(),
		}).Error("Keeping current encoder sampling frequency")
		freq = params.SamplingFreq
	}
	if freq != params.SamplingFreq {
		params.SamplingFreq = freq
		reconfig = true
	}
	if params.ChannelMode == sbc.Mono {
		// Many sinks refuse mono streams.
		params.ChannelMode = sbc.JointStereo
		reconfig = true
	}

	if reconfig {
		minBP, maxBP := minBitPool, params.MaxBitPool()
		if p.hasUpdate {
			minBP, maxBP = p.update.MinBitPool, p.update.MaxBitPool
		}
		params.BitRate = p.cfg.DefaultBitrateKbps
		params = p.searchBitPool(params, minBP, maxBP)
		if err := p.initEncoder(params); err != nil {
			return errors.Join(rateErr, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.FeedingInit",
			"freq":     params.SamplingFreq.String(),
			"mode":     params.ChannelMode.String(),
			"bitpool":  params.BitPool,
		}).Info("Encoder reconfigured for feeding")
	}

	return errors.Join(rateErr, p.refreshFeeder())
}

// ProduceTick runs one media tick: it accounts the elapsed time in whole
// encoder frames, produces them and signals the AV connection.
func (p *Pipeline) ProduceTick() {
	if !p.running {
		return
	}
	p.metrics.Ticks.Add(p.ctx, 1)

	if p.feeder == nil || !p.encReady {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.ProduceTick",
				"error":    ErrNotConfigured.Error(),
			}).Debug("Skipping tick")
		}
		return
	}

	due := p.framesDue()
	if due > 0 {
		p.produce(due)
	}
	if p.conn != nil {
		p.conn.DataReady()
	}
}

// framesDue adds one tick worth of time to the frame counter and removes
// the whole frames it now holds. The remainder carries to the next tick.
func (p *Pipeline) framesDue() int {
	p.frameCounter += p.tickUnits
	due := p.frameCounter / p.frameUnits
	if limit := int64(p.cfg.MaxFramesPerTick); limit > 0 && due > limit {
		due = limit
	}
	p.frameCounter -= due * p.frameUnits
	return int(due)
}

// SetTxFlush turns frame discarding on or off.
func (p *Pipeline) SetTxFlush(enable bool) {
	p.txFlush = enable
}

// Running reports whether the tick is armed.
func (p *Pipeline) Running() bool {
	return p.running
}

// Params returns the active encoder parameters.
func (p *Pipeline) Params() sbc.Params {
	return p.params
}

// MTU returns the payload ceiling for one media packet.
func (p *Pipeline) MTU() int {
	return p.mtu
}

// Feeding returns the configured feeding.
func (p *Pipeline) Feeding() FeedingConfig {
	return p.feeding
}

// Stats returns a snapshot of the pipeline accounting.
func (p *Pipeline) Stats() PipelineStats {
	s := PipelineStats{
		Running:       p.running,
		TxFlush:       p.txFlush,
		Timestamp:     p.timestamp,
		FrameCounter:  p.frameCounter,
		QueueLen:      p.queue.Len(),
		FramesEncoded: p.framesEncoded,
		Underflows:    p.underflows,
		EncodeErrors:  p.encodeErrors,
	}
	if p.feeder != nil {
		s.FeedResidue = p.feeder.Residue()
	}
	return s
}

// ReadBuf removes the oldest queued packet. The caller returns it with
// ReleaseBuf once sent.
func (p *Pipeline) ReadBuf() (*rtp.MediaPacket, bool) {
	pkt, ok := p.queue.Pop()
	if ok {
		p.metrics.QueueDepth.Add(p.ctx, -1)
	}
	return pkt, ok
}

// ReleaseBuf returns a sent packet to the buffer pool.
func (p *Pipeline) ReleaseBuf(pkt *rtp.MediaPacket) {
	p.pool.Put(pkt)
}

func (p *Pipeline) resetFeedingState() {
	p.frameCounter = 0
	if p.feeder != nil {
		p.feeder.Reset()
	}
}

func (p *Pipeline) drainQueue() int {
	dropped := p.queue.Drain()
	for _, pkt := range dropped {
		p.pool.Put(pkt)
	}
	if n := len(dropped); n > 0 {
		p.metrics.QueueDepth.Add(p.ctx, -int64(n))
	}
	return len(dropped)
}

// mtuFor clamps the peer MTU to what a transport buffer can carry.
func (p *Pipeline) mtuFor(peer int) int {
	ceiling := rtp.PayloadCeiling(p.cfg.BufferSize, p.cfg.ContentProtection)
	if peer > 0 && peer < ceiling {
		return peer
	}
	return ceiling
}

// searchBitPool runs the bitrate search and stores a codec-legal result in
// params. Out of range results from a failed search are kept when legal.
func (p *Pipeline) searchBitPool(params sbc.Params, minBP, maxBP int) sbc.Params {
	res := sbc.SearchBitPool(params, minBP, maxBP, p.cfg.BitrateStepKbps, p.cfg.MaxSearchSteps)
	bp := min(max(res.BitPool, minBitPool), params.MaxBitPool())
	if bp != res.BitPool {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.searchBitPool",
			"result":   res.BitPool,
			"clamped":  bp,
		}).Warn("Bitpool outside codec limits, clamping")
	}
	params.BitPool = bp
	params.BitRate = res.BitRate
	return params
}

func (p *Pipeline) initEncoder(params sbc.Params) error {
	if err := p.encoder.Init(params); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.initEncoder",
			"error":    err.Error(),
		}).Error("Encoder initialization failed")
		return fmt.Errorf("failed to initialize encoder: %w", err)
	}
	p.params = params
	p.encReady = true
	return nil
}

// refreshFeeder rebuilds the feeder for the current encoder geometry.
func (p *Pipeline) refreshFeeder() error {
	if !p.encReady || p.feeding.Format != TranscodePCMToSBC {
		p.feeder = nil
		return nil
	}

	spf := p.params.SamplesPerFrame()
	rate := p.params.SamplingFreq.Hz()
	f, err := audio.NewFeeder(audio.FeederConfig{
		Source:          p.feeding.pcmFormat(),
		OutputRate:      rate,
		OutputChannels:  p.params.Channels(),
		SamplesPerFrame: spf,
		Mode:            p.feeding.Mode,
	})
	if err != nil {
		p.feeder = nil
		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.refreshFeeder",
			"error":    err.Error(),
		}).Error("Cannot feed encoder from configured source")
		return fmt.Errorf("failed to create feeder: %w", err)
	}

	p.feeder = f
	p.pcm = make([]int16, spf*p.params.Channels())
	p.frameUnits = int64(spf) * int64(time.Second/time.Microsecond)
	p.tickUnits = p.cfg.TickPeriod.Microseconds() * int64(rate)
	p.frameCounter = 0
	return nil
}

// codecRateFor maps a feeding rate onto the SBC rate family it converts to.
func codecRateFor(hz uint32) (sbc.SamplingFreq, bool) {
	switch hz {
	case 8000, 12000, 16000, 24000, 32000, 48000:
		return sbc.Freq48000, true
	case 11025, 22050, 44100:
		return sbc.Freq44100, true
	default:
		return 0, false
	}
}
