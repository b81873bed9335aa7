package av

import (
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/bluemedia/uipc"
	"github.com/sirupsen/logrus"
)

// controlBridge runs the request/acknowledge protocol of the control
// channel and follows the data channel lifecycle. It lives on the media task
// goroutine.
//
// At most one command waits for an acknowledgement. Commands the bridge can
// answer right away are acknowledged immediately; Start, Stop and Suspend
// requests forwarded to the AV connection are acknowledged when its
// callback arrives or when the data channel closes.
type controlBridge struct {
	task    *MediaTask
	pending ControlCommand
}

// handleControlEvent reacts to control channel events.
func (b *controlBridge) handleControlEvent(ev uipc.Event) {
	t := b.task
	switch ev {
	case uipc.EventOpen:
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.handleControlEvent",
		}).Info("Audio client attached to control channel")
	case uipc.EventClose:
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.handleControlEvent",
			"pending":  b.pending.String(),
		}).Info("Control channel closed")
		if t.State() == TaskOn && !t.ctrl.IsOpen() {
			t.openControl()
		}
	case uipc.EventDataReady:
		b.readCommands()
	}
}

// readCommands handles every request byte buffered on the control channel.
func (b *controlBridge) readCommands() {
	var buf [1]byte
	for {
		n, err := b.task.ctrl.Read(buf[:])
		if n == 0 {
			if errors.Is(err, io.EOF) {
				logrus.WithFields(logrus.Fields{
					"function": "controlBridge.readCommands",
				}).Info("Audio client detached from control channel")
			}
			return
		}
		b.process(ControlCommand(buf[0]))
	}
}

// process answers one control request.
func (b *controlBridge) process(cmd ControlCommand) {
	t := b.task

	if b.pending != CmdNone {
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.process",
			"command":  cmd.String(),
			"pending":  b.pending.String(),
			"error":    ErrCommandPending.Error(),
		}).Warn("Rejecting control command")
		b.write(AckFailure)
		t.metrics.recordCommand(t.pipeline.ctx, cmd, AckFailure)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "controlBridge.process",
		"command":  cmd.String(),
	}).Debug("Control command received")

	b.pending = cmd

	switch cmd {
	case CmdCheckReady:
		if t.State() == TaskShuttingDown {
			b.ack(AckFailure)
			return
		}
		if t.conn.StreamReady() || t.conn.StreamStartedReady() {
			b.ack(AckSuccess)
		} else {
			b.ack(AckFailure)
		}

	case CmdStart:
		switch {
		case t.conn.StreamReady():
			b.openData()
			t.conn.Dispatch(RequestStartStream)
		case t.conn.StreamStartedReady():
			b.openData()
			b.ack(AckSuccess)
		default:
			b.ack(AckFailure)
		}

	case CmdStop:
		if !t.pipeline.Running() {
			b.ack(AckSuccess)
			return
		}
		t.conn.Dispatch(RequestStopStream)

	case CmdSuspend:
		if t.conn.StreamStartedReady() {
			t.conn.Dispatch(RequestSuspendStream)
		} else {
			b.ack(AckSuccess)
		}

	default:
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.process",
			"error":    fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(cmd)).Error(),
		}).Warn("Rejecting control command")
		// Answered directly: a zero byte would otherwise read as nothing pending.
		b.pending = CmdNone
		b.write(AckFailure)
		t.metrics.recordCommand(t.pipeline.ctx, cmd, AckFailure)
	}
}

// ack clears the pending command and writes status back. An ack with
// nothing pending is logged and dropped.
func (b *controlBridge) ack(status AckStatus) error {
	if b.pending == CmdNone {
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.ack",
			"status":   status.String(),
			"error":    ErrNoCommandPending.Error(),
		}).Warn("Ignoring acknowledgement")
		return ErrNoCommandPending
	}

	cmd := b.pending
	b.pending = CmdNone
	b.write(status)
	b.task.metrics.recordCommand(b.task.pipeline.ctx, cmd, status)

	logrus.WithFields(logrus.Fields{
		"function": "controlBridge.ack",
		"command":  cmd.String(),
		"status":   status.String(),
	}).Debug("Control command acknowledged")
	return nil
}

func (b *controlBridge) write(status AckStatus) {
	if _, err := b.task.ctrl.Write([]byte{byte(status)}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.write",
			"status":   status.String(),
			"error":    err.Error(),
		}).Warn("Failed to send acknowledgement")
	}
}

func (b *controlBridge) openData() {
	if err := b.task.data.Open(b.task.handler); err != nil && !errors.Is(err, uipc.ErrChannelOpen) {
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.openData",
			"error":    err.Error(),
		}).Error("Failed to open audio channel")
	}
}

// handleDataEvent follows the audio channel. A client attaching starts
// transmission; the channel closing completes a pending stop.
func (b *controlBridge) handleDataEvent(ev uipc.Event) {
	t := b.task
	switch ev {
	case uipc.EventOpen:
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.handleDataEvent",
		}).Info("Audio path attached, starting transmit")

		// The tick reads the channel; no data-ready callbacks are needed.
		if err := t.data.Ioctl(uipc.IoctlDeregisterCallback); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "controlBridge.handleDataEvent",
				"error":    err.Error(),
			}).Warn("Failed to switch audio channel to polling")
		}
		t.mailbox.post(cmdStartTx)

		cc, err := t.conn.CodecConfig()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "controlBridge.handleDataEvent",
				"error":    err.Error(),
			}).Warn("No codec configuration, keeping encoder parameters")
			return
		}
		t.mailbox.post(encoderUpdateEvent{upd: cc.Update})

	case uipc.EventClose:
		logrus.WithFields(logrus.Fields{
			"function": "controlBridge.handleDataEvent",
			"running":  t.pipeline.Running(),
		}).Info("Audio path detached")
		_ = b.ack(AckSuccess)
		if t.pipeline.Running() {
			t.conn.Dispatch(RequestStopStream)
		}
	}
}

// onStarted completes a start request.
func (b *controlBridge) onStarted(e avStartedEvent) {
	switch {
	case e.ok && !e.suspending:
		if e.initiator {
			if b.pending == CmdStart {
				_ = b.ack(AckSuccess)
			}
		} else {
			// Remote start: the codec must be set up before audio flows.
			b.task.setupCodec()
		}
	case !e.ok && b.pending == CmdStart:
		_ = b.ack(AckFailure)
	}
}

// onStopped handles the end of a stream. The acknowledgement is sent when
// the audio channel closes.
func (b *controlBridge) onStopped(e avStoppedEvent) {
	t := b.task
	if t.State() != TaskOn {
		return
	}
	if !e.ok {
		if e.initiator {
			_ = b.ack(AckFailure)
		}
		return
	}
	t.pipeline.SetTxFlush(true)
	t.mailbox.post(cmdFlushTx)
	t.mailbox.post(cmdStopTx)
}

// onSuspended handles a suspended stream.
func (b *controlBridge) onSuspended(e avSuspendedEvent) {
	t := b.task
	if !e.ok {
		if e.initiator {
			_ = b.ack(AckFailure)
		}
		return
	}
	t.pipeline.SetTxFlush(true)
	t.mailbox.post(cmdStopTx)
}
