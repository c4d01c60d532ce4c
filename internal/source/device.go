package source

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/errors"
	"github.com/soundspine/capturemix/internal/logging"
)

// Staging buffer dimensioning and drain cadence. The miniaudio data
// callback must never block, so it writes into a lock-free staging FIFO
// that a pump goroutine drains into the positional ring.
const (
	stagingWindow = 250 * time.Millisecond
	pumpInterval  = 5 * time.Millisecond
)

// DeviceSource captures PCM from a hardware input device via miniaudio and
// feeds it into an embedded RingSource.
type DeviceSource struct {
	*RingSource

	logger  *slog.Logger
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	staging *ringbuffer.RingBuffer
	dropped atomic.Int64

	pumping   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	quit chan struct{}
	done chan struct{}
}

// preferredBackend picks the miniaudio backend for the host OS, with
// auto-selection elsewhere.
func preferredBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func malgoFormat(sf capture.SampleFormat) (malgo.FormatType, error) {
	switch sf {
	case capture.SampleFormatUnsigned8:
		return malgo.FormatU8, nil
	case capture.SampleFormatSigned16:
		return malgo.FormatS16, nil
	case capture.SampleFormatSigned24In32:
		return malgo.FormatS32, nil
	case capture.SampleFormatFloat32:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, errors.Newf("sample format %v has no device equivalent", sf).
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}
}

// NewDeviceSource opens the named capture device (or the system default
// when name is empty) configured for the given format. The device is not
// started until Start is called.
func NewDeviceSource(name string, format capture.Format, clock capture.Clock,
	ringDuration time.Duration, logger *slog.Logger) (*DeviceSource, error) {

	if logger == nil {
		logger = logging.ForService("source")
	}
	deviceFormat, err := malgoFormat(format.SampleFormat)
	if err != nil {
		return nil, err
	}

	rs := NewRingSource("device:"+name, clock, ringDuration)
	if err := rs.SetFormat(format); err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(preferredBackend(), malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = deviceFormat
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.FramesPerSecond)
	deviceConfig.Alsa.NoMMap = 1

	if name != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return nil, errors.New(err).
				Component("source").
				Category(errors.CategoryAudioSource).
				Context("operation", "enumerate_devices").
				Build()
		}
		found := false
		for i := range infos {
			if strings.Contains(infos[i].Name(), name) {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			_ = ctx.Uninit()
			ctx.Free()
			return nil, errors.Newf("no capture device matches %q", name).
				Component("source").
				Category(errors.CategoryNotFound).
				Context("device", name).
				Build()
		}
	}

	stagingBytes := int(int64(format.BytesPerFrame()) * int64(format.FramesPerSecond) *
		int64(stagingWindow) / int64(time.Second))
	s := &DeviceSource{
		RingSource: rs,
		logger:     logger,
		ctx:        ctx,
		staging:    ringbuffer.New(stagingBytes),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			n, err := s.staging.Write(in)
			if err != nil || n < len(in) {
				s.dropped.Add(int64(len(in) - n))
			}
		},
		Stop: func() {
			s.logger.Warn("capture device stopped", "device", name)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_device").
			Context("device", name).
			Build()
	}
	s.device = device
	return s, nil
}

// Start begins hardware capture: the ring's time mapping is anchored, the
// device starts delivering frames, and the pump goroutine moves them from
// the staging FIFO into the ring.
func (s *DeviceSource) Start() error {
	if err := s.RingSource.Start(); err != nil {
		return err
	}
	if err := s.device.Start(); err != nil {
		s.RingSource.Stop()
		return errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_device").
			Build()
	}
	s.pumping.Store(true)
	go s.pump()
	return nil
}

// DroppedBytes reports bytes lost to staging overruns since creation.
func (s *DeviceSource) DroppedBytes() int64 {
	return s.dropped.Load()
}

// Close stops the device and releases the miniaudio context. Safe to call
// more than once and at any point after NewDeviceSource, including when
// Start never ran or failed.
func (s *DeviceSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		// The pump goroutine only exists after a successful Start.
		if s.pumping.Load() {
			<-s.done
		}
		if s.device != nil {
			s.device.Uninit()
		}
		s.RingSource.Stop()
		var err error
		if s.ctx != nil {
			err = s.ctx.Uninit()
			s.ctx.Free()
		}
		if dropped := s.dropped.Load(); dropped > 0 {
			s.logger.Warn("capture device dropped audio", "bytes", dropped)
		}
		if err != nil {
			s.closeErr = errors.New(err).
				Component("source").
				Category(errors.CategoryAudioSource).
				Context("operation", "uninit_context").
				Build()
		}
	})
	return s.closeErr
}

// pump drains the staging FIFO into the positional ring on a short period.
func (s *DeviceSource) pump() {
	defer close(s.done)
	chunk := make([]byte, s.staging.Capacity()/4)
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			for {
				n, err := s.staging.Read(chunk)
				if n > 0 {
					if _, werr := s.RingSource.Write(chunk[:n]); werr != nil {
						s.logger.Error("ring write failed", "error", werr)
						return
					}
				}
				if err != nil || n < len(chunk) {
					break
				}
			}
		}
	}
}

// ListCaptureDevices enumerates the capture devices miniaudio can see.
func ListCaptureDevices() ([]string, error) {
	ctx, err := malgo.InitContext(preferredBackend(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}
	names := make([]string, 0, len(infos))
	for i := range infos {
		names = append(names, infos[i].Name())
	}
	return names, nil
}
