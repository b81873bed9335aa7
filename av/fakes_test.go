package av

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/bluemedia/av/sbc"
)

// fakeScheduler records arming without producing ticks; tests call
// ProduceTick themselves.
type fakeScheduler struct {
	armed    bool
	period   time.Duration
	arms     int
	disarms  int
	armError error
}

func (s *fakeScheduler) Arm(period time.Duration) error {
	if s.armError != nil {
		return s.armError
	}
	if s.armed {
		return ErrSchedulerArmed
	}
	s.armed = true
	s.period = period
	s.arms++
	return nil
}

func (s *fakeScheduler) Disarm() {
	if s.armed {
		s.disarms++
	}
	s.armed = false
}

func (s *fakeScheduler) Armed() bool { return s.armed }

// fakeConn is a scripted AV connection.
type fakeConn struct {
	mu        sync.Mutex
	ready     bool
	started   bool
	requests  []StreamRequest
	dataReady int
	codec     CodecConfig
	codecErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{codec: defaultCodec()}
}

func (c *fakeConn) StreamReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) StreamStartedReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *fakeConn) Dispatch(req StreamRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
}

func (c *fakeConn) DataReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataReady++
}

func (c *fakeConn) CodecConfig() (CodecConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec, c.codecErr
}

func (c *fakeConn) set(ready, started bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready, c.started = ready, started
}

func (c *fakeConn) sentRequests() []StreamRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StreamRequest(nil), c.requests...)
}

func (c *fakeConn) dataReadyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataReady
}

// defaultCodec is a typical 44.1 kHz joint stereo negotiation.
func defaultCodec() CodecConfig {
	return CodecConfig{
		Encoder: EncoderConfig{
			ChannelMode:  sbc.JointStereo,
			Subbands:     8,
			Blocks:       16,
			Allocation:   sbc.AllocLoudness,
			SamplingFreq: sbc.Freq44100,
			MTU:          895,
		},
		Update: EncoderUpdate{MinBitPool: 2, MaxBitPool: 53, MinMTU: 895},
	}
}

// manualClock hands out tickers that only fire when told to.
type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

func (c *manualClock) Now() time.Time { return time.Unix(0, 0) }

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{c: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// fire delivers one tick to every live ticker. It reports whether any
// ticker received it.
func (c *manualClock) fire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired := false
	for _, t := range c.tickers {
		if t.stopped.Load() {
			continue
		}
		select {
		case t.c <- time.Time{}:
			fired = true
		default:
		}
	}
	return fired
}

// sinePCM returns n frames of 16-bit little endian interleaved PCM.
func sinePCM(n, channels int, rate float64) []byte {
	out := make([]byte, n*channels*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(v))
		}
	}
	return out
}

var errEncodeFailed = errors.New("encode failed")

// failingEncoder encodes the first ok frames and fails every call after.
type failingEncoder struct {
	sbc.Encoder
	ok    int
	calls int
}

func (e *failingEncoder) Encode(dst []byte, pcm []int16) ([]byte, error) {
	e.calls++
	if e.calls > e.ok {
		return dst, errEncodeFailed
	}
	return e.Encoder.Encode(dst, pcm)
}
