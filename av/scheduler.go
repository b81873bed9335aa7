package av

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSchedulerArmed indicates Arm on a scheduler that is already armed.
var ErrSchedulerArmed = errors.New("tick scheduler already armed")

// Scheduler drives the media tick. Arm and Disarm are only called from the
// media task goroutine.
type Scheduler interface {
	// Arm starts a repeating tick with the given period. Arming an armed
	// scheduler fails with ErrSchedulerArmed.
	Arm(period time.Duration) error
	// Disarm stops the tick. Ticks already delivered but not yet handled
	// are recognized as stale afterwards.
	Disarm()
	// Armed reports whether the tick is running.
	Armed() bool
}

// tickEvent is posted to the mailbox on every tick. gen identifies the
// arming that produced it.
type tickEvent struct {
	gen uint64
}

// tickerScheduler forwards ticks from a Ticker into the media task mailbox.
//
// Every Arm starts a new generation; a tick whose generation is not the
// current one was queued before a Disarm and must be ignored.
type tickerScheduler struct {
	mu     sync.Mutex
	clock  TimeProvider
	post   func(any)
	gen    uint64
	ticker Ticker
	stop   chan struct{}
	done   chan struct{}
}

func newTickerScheduler(clock TimeProvider, post func(any)) *tickerScheduler {
	return &tickerScheduler{clock: getTimeProvider(clock), post: post}
}

// Arm implements Scheduler.
func (s *tickerScheduler) Arm(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("tick period must be positive, got %v", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return ErrSchedulerArmed
	}
	s.gen++
	gen := s.gen
	ticker := s.clock.NewTicker(period)
	stop := make(chan struct{})
	done := make(chan struct{})
	s.ticker, s.stop, s.done = ticker, stop, done

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				s.post(tickEvent{gen: gen})
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":   "tickerScheduler.Arm",
		"period":     period,
		"generation": gen,
	}).Debug("Media tick armed")
	return nil
}

// Disarm implements Scheduler. It returns once the forwarding goroutine has
// exited, so no tick of this generation is posted afterwards.
func (s *tickerScheduler) Disarm() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	done := s.done
	s.ticker, s.stop, s.done = nil, nil, nil
	s.gen++
	s.mu.Unlock()

	<-done

	logrus.WithFields(logrus.Fields{
		"function": "tickerScheduler.Disarm",
	}).Debug("Media tick disarmed")
}

// Armed implements Scheduler.
func (s *tickerScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

// current reports whether a tick of generation gen is still live.
func (s *tickerScheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil && s.gen == gen
}
