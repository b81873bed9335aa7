package main

import (
	"sync"

	"github.com/opd-ai/bluemedia/av"
	"github.com/sirupsen/logrus"
)

// mediaCallbacks is the part of av.MediaTask the sink reports to.
type mediaCallbacks interface {
	OnStarted(ok, initiator, suspending bool)
	OnStopped(ok, initiator bool)
	OnSuspended(ok, initiator bool)
}

// loopbackSink stands in for the Bluetooth AV layer: it accepts every
// stream request at once and forwards media to a network sender instead of
// an L2CAP channel.
type loopbackSink struct {
	mu      sync.Mutex
	task    mediaCallbacks
	started bool
	codec   av.CodecConfig
	kick    chan struct{}
}

func newLoopbackSink(codec av.CodecConfig) *loopbackSink {
	return &loopbackSink{codec: codec, kick: make(chan struct{}, 1)}
}

// attach sets the task that receives stream callbacks.
func (s *loopbackSink) attach(task mediaCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = task
}

func (s *loopbackSink) StreamReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.started
}

func (s *loopbackSink) StreamStartedReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Dispatch completes the request immediately. Callbacks only post to the
// media task mailbox, so they are safe to call from its goroutine.
func (s *loopbackSink) Dispatch(req av.StreamRequest) {
	s.mu.Lock()
	task := s.task
	switch req {
	case av.RequestStartStream:
		s.started = true
	case av.RequestStopStream, av.RequestSuspendStream:
		s.started = false
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "loopbackSink.Dispatch",
		"request":  req.String(),
	}).Info("Stream request accepted")

	if task == nil {
		return
	}
	switch req {
	case av.RequestStartStream:
		task.OnStarted(true, true, false)
	case av.RequestStopStream:
		task.OnStopped(true, true)
	case av.RequestSuspendStream:
		task.OnSuspended(true, true)
	}
}

// DataReady wakes the sender without blocking the media task.
func (s *loopbackSink) DataReady() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *loopbackSink) CodecConfig() (av.CodecConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec, nil
}

// Kicks is signalled whenever the media task queued packets.
func (s *loopbackSink) Kicks() <-chan struct{} {
	return s.kick
}
