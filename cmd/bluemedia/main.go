// Command bluemedia runs the A2DP source media task against local sockets.
//
// An audio client connects to the control and audio sockets named in the
// configuration, negotiates a stream with single byte commands and writes
// PCM. The SBC media packets are sent as RTP datagrams to a UDP address, so
// the stream can be inspected with any RTP capable tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/bluemedia/av"
	"github.com/opd-ai/bluemedia/av/rtp"
	"github.com/opd-ai/bluemedia/av/sbc"
	"github.com/opd-ai/bluemedia/config"
	"github.com/opd-ai/bluemedia/uipc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults when empty)")
	rtpAddr := flag.String("rtp", "127.0.0.1:5004", "UDP address media packets are sent to")
	peerMTU := flag.Int("mtu", 895, "media payload MTU reported by the sink")
	maxBitPool := flag.Int("max-bitpool", 53, "largest bitpool the sink accepts")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bluemedia: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if err := config.ApplyLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bluemedia: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, *rtpAddr, codecFor(*peerMTU, *maxBitPool)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Error("bluemedia stopped with error")
		return 1
	}
	return 0
}

// codecFor returns the SBC configuration the loopback sink advertises.
func codecFor(mtu, maxBitPool int) av.CodecConfig {
	return av.CodecConfig{
		Encoder: av.EncoderConfig{
			ChannelMode:  sbc.JointStereo,
			Subbands:     8,
			Blocks:       16,
			Allocation:   sbc.AllocLoudness,
			SamplingFreq: sbc.Freq44100,
			MTU:          mtu,
		},
		Update: av.EncoderUpdate{MinBitPool: 2, MaxBitPool: maxBitPool, MinMTU: mtu},
	}
}

func serve(ctx context.Context, cfg *config.Config, rtpAddr string, codec av.CodecConfig) error {
	ctrl := uipc.NewSocketChannel(uipc.ChannelControl, cfg.Channels.ControlSocket)
	ctrl.SetWriteTimeout(cfg.WriteTimeout())
	data := uipc.NewSocketChannel(uipc.ChannelAudio, cfg.Channels.DataSocket)
	data.SetWriteTimeout(cfg.WriteTimeout())

	sink := newLoopbackSink(codec)
	task, err := av.NewMediaTask(cfg, sink, ctrl, data)
	if err != nil {
		return fmt.Errorf("failed to create media task: %w", err)
	}
	sink.attach(task)

	conn, err := net.Dial("udp", rtpAddr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", rtpAddr, err)
	}
	defer conn.Close()

	packetizer, err := rtp.NewPacketizer(rtp.PacketizerConfig{
		PayloadType:       cfg.Media.PayloadType,
		ContentProtection: cfg.Media.ContentProtection,
	})
	if err != nil {
		return err
	}
	sender, err := rtp.NewSender(task, packetizer, conn)
	if err != nil {
		return err
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start media task: %w", err)
	}
	defer task.Shutdown()
	// The sink is configured from the start, as after an AV open.
	task.SetupCodec()

	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"control":  cfg.Channels.ControlSocket,
		"audio":    cfg.Channels.DataSocket,
		"rtp":      rtpAddr,
		"tick":     cfg.TickPeriod(),
	}).Info("bluemedia ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sender.Run(gctx, cfg.TickPeriod())
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sink.Kicks():
				sender.Flush()
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := sender.GetStatistics()
	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"packets":  stats.PacketsSent,
		"frames":   stats.FramesSent,
		"errors":   stats.SendErrors,
	}).Info("bluemedia shutting down")
	return nil
}
