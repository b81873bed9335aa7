package av

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all media task metrics.
const meterName = "github.com/opd-ai/bluemedia/av"

// Drop reasons recorded on PacketsDropped.
const (
	dropCongestion = "congestion"
	dropFlush      = "flush"
)

// Metrics holds the OpenTelemetry instruments of the media task.
type Metrics struct {
	// Ticks counts handled media ticks.
	Ticks metric.Int64Counter

	// FramesEncoded counts SBC frames produced.
	FramesEncoded metric.Int64Counter

	// PacketsEnqueued counts packets placed on the outbound queue.
	PacketsEnqueued metric.Int64Counter

	// PacketsDropped counts discarded packets. Use with attribute:
	//   attribute.String("reason", "congestion"|"flush")
	PacketsDropped metric.Int64Counter

	// FeedingUnderflows counts ticks cut short by missing PCM.
	FeedingUnderflows metric.Int64Counter

	// EncodeErrors counts ticks cut short by an SBC encoder failure.
	EncodeErrors metric.Int64Counter

	// ControlCommands counts acknowledged control commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("ack", ...)
	ControlCommands metric.Int64Counter

	// QueueDepth tracks the number of packets waiting for the transport.
	QueueDepth metric.Int64UpDownCounter
}

// NewMetrics creates a fully initialised Metrics struct using the given
// MeterProvider. A nil provider selects otel.GetMeterProvider().
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("bluemedia.ticks",
		metric.WithDescription("Media ticks handled while streaming."),
	); err != nil {
		return nil, err
	}
	if met.FramesEncoded, err = m.Int64Counter("bluemedia.frames.encoded",
		metric.WithDescription("SBC frames encoded."),
	); err != nil {
		return nil, err
	}
	if met.PacketsEnqueued, err = m.Int64Counter("bluemedia.packets.enqueued",
		metric.WithDescription("Media packets placed on the outbound queue."),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("bluemedia.packets.dropped",
		metric.WithDescription("Media packets discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.FeedingUnderflows, err = m.Int64Counter("bluemedia.feeding.underflows",
		metric.WithDescription("Ticks that ran out of PCM before their frame budget."),
	); err != nil {
		return nil, err
	}
	if met.EncodeErrors, err = m.Int64Counter("bluemedia.encoder.errors",
		metric.WithDescription("Ticks that stopped early because SBC encoding failed."),
	); err != nil {
		return nil, err
	}
	if met.ControlCommands, err = m.Int64Counter("bluemedia.control.commands",
		metric.WithDescription("Control commands acknowledged by command and status."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("bluemedia.queue.depth",
		metric.WithDescription("Media packets waiting for the transport."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) recordDrop(ctx context.Context, reason string, n int) {
	if n == 0 {
		return
	}
	m.PacketsDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordCommand(ctx context.Context, cmd ControlCommand, ack AckStatus) {
	m.ControlCommands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", cmd.String()),
		attribute.String("ack", ack.String()),
	))
}
