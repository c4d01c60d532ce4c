// Package capture implements the capture subcommand: it opens a hardware
// device, runs an asynchronous capture session against it, and streams the
// produced packets into a WAV file.
package capture

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	enginecapture "github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/conf"
	"github.com/soundspine/capturemix/internal/encode"
	"github.com/soundspine/capturemix/internal/logging"
	"github.com/soundspine/capturemix/internal/mixer"
	"github.com/soundspine/capturemix/internal/observability"
	"github.com/soundspine/capturemix/internal/source"
)

type options struct {
	output          string
	duration        time.Duration
	bufferDuration  time.Duration
	packetDuration  time.Duration
	gainDb          float64
	sourceRingDepth time.Duration
}

// Command creates the capture command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture audio from a device into a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(settings, opts)
		},
	}

	cmd.Flags().StringVar(&opts.output, "output", "capture.wav", "Output WAV file path")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.bufferDuration, "buffer", 2*time.Second, "Payload buffer length")
	cmd.Flags().DurationVar(&opts.packetDuration, "packet", 100*time.Millisecond, "Async packet length")
	cmd.Flags().Float64Var(&opts.gainDb, "gain", 0, "Session gain in dB")
	cmd.Flags().DurationVar(&opts.sourceRingDepth, "ring", 500*time.Millisecond, "Source ring buffer depth")
	cmd.Flags().StringVar(&settings.Audio.Device, "source", settings.Audio.Device,
		"Capture device name (empty for system default)")
	return cmd
}

// wavClient receives capture packets on the control context and appends
// their payload bytes to the WAV writer.
type wavClient struct {
	region *enginecapture.HeapRegion
	format enginecapture.Format
	writer *encode.WAVWriter
	errs   []error
}

func (c *wavClient) OnPacketProduced(p enginecapture.Packet) {
	if p.FilledFrames == 0 {
		return
	}
	bpf := c.format.BytesPerFrame()
	data := c.region.Bytes()
	start := int(p.OffsetFrames) * bpf
	end := start + int(p.FilledFrames)*bpf
	if data == nil || end > len(data) {
		return
	}
	if err := c.writer.WritePCM(data[start:end]); err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *wavClient) OnEndOfStream() {}

func runCapture(settings *conf.Settings, opts *options) error {
	logger := logging.ForService("capture-cli")

	sampleFormat, err := enginecapture.ParseSampleFormat(settings.Audio.SampleFormat)
	if err != nil {
		return err
	}
	format := enginecapture.Format{
		SampleFormat:    sampleFormat,
		Channels:        settings.Audio.Channels,
		FramesPerSecond: settings.Audio.SampleRate,
	}
	if err := format.Validate(); err != nil {
		return err
	}

	var metrics *observability.CaptureMetrics
	if settings.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		metrics, err = observability.NewCaptureMetrics(registry)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: settings.Metrics.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer server.Close()
		logger.Info("metrics endpoint started", "listen", settings.Metrics.Listen)
	}

	dev, err := source.NewDeviceSource(settings.Audio.Device, format, nil,
		opts.sourceRingDepth, logging.ForService("source"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			logger.Warn("device close failed", "error", cerr)
		}
	}()

	bufferFrames := int64(format.FramesPerSecond) * int64(opts.bufferDuration) / int64(time.Second)
	if bufferFrames < 2 {
		bufferFrames = 2
	}
	region := enginecapture.NewHeapRegion(int(bufferFrames) * format.BytesPerFrame())

	writer, err := encode.NewWAVWriter(opts.output, format)
	if err != nil {
		return err
	}
	client := &wavClient{region: region, format: format, writer: writer}

	capturer, err := enginecapture.NewCapturer(enginecapture.Config{
		SelectMixer:  mixer.Select,
		MaxMixJob:    settings.Engine.MaxMixJob,
		FenceDelay:   settings.Engine.FenceDelay,
		PendingSlots: settings.Engine.PendingPoolSize,
		Logger:       logging.ForService("capture"),
		Metrics:      metrics,
	}, client)
	if err != nil {
		return err
	}

	if err := capturer.SetFormat(format); err != nil {
		return err
	}
	if err := capturer.AttachBuffer(region); err != nil {
		return err
	}
	if opts.gainDb != 0 {
		if err := capturer.SetGainDb(opts.gainDb); err != nil {
			return err
		}
	}
	if _, err := capturer.AddSource(dev); err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}

	packetFrames := int64(format.FramesPerSecond) * int64(opts.packetDuration) / int64(time.Second)
	if packetFrames < 1 {
		packetFrames = 1
	}
	if packetFrames > bufferFrames/2 {
		packetFrames = bufferFrames / 2
	}
	if err := capturer.StartAsync(uint32(packetFrames)); err != nil {
		return err
	}
	fmt.Printf("Capturing to %s (Ctrl-C to stop)\n", opts.output)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	if opts.duration > 0 {
		select {
		case <-sig:
		case <-time.After(opts.duration):
		}
	} else {
		<-sig
	}

	stopped := make(chan struct{})
	if err := capturer.StopAsync(func() { close(stopped) }); err != nil {
		logger.Warn("async stop failed", "error", err)
	} else {
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("timed out waiting for async stop")
		}
	}
	capturer.Shutdown()

	if err := writer.Close(); err != nil {
		return err
	}
	for _, werr := range client.errs {
		logger.Warn("packet write failed", "error", werr)
	}
	logger.Info("capture finished", "output", opts.output)
	return nil
}
