// Package observability provides Prometheus metrics for the capture engine.
package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for capture engine operations.
// A nil *CaptureMetrics is valid and disables recording.
type CaptureMetrics struct {
	registry *prometheus.Registry

	packetsProducedTotal  *prometheus.CounterVec
	framesMixedTotal      *prometheus.CounterVec
	discontinuitiesTotal  *prometheus.CounterVec
	sessionShutdownsTotal *prometheus.CounterVec
	mixDuration           prometheus.Histogram
	pendingQueueDepth     prometheus.Gauge
}

// NewCaptureMetrics creates and registers capture engine metrics with the
// given registry.
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}

	m.packetsProducedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capturemix_packets_produced_total",
			Help: "Total number of capture packets delivered to clients",
		},
		[]string{"mode"},
	)
	m.framesMixedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capturemix_frames_mixed_total",
			Help: "Total number of frames produced by the mix loop",
		},
		[]string{"mode"},
	)
	m.discontinuitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capturemix_discontinuities_total",
			Help: "Total number of timeline discontinuities observed",
		},
		[]string{"reason"},
	)
	m.sessionShutdownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capturemix_session_shutdowns_total",
			Help: "Total number of capture session shutdowns",
		},
		[]string{"reason"},
	)
	m.mixDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capturemix_mix_duration_seconds",
			Help:    "Wall-clock duration of a single mix pass",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		},
	)
	m.pendingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capturemix_pending_queue_depth",
			Help: "Number of capture buffers currently awaiting fill",
		},
	)

	collectors := []prometheus.Collector{
		m.packetsProducedTotal,
		m.framesMixedTotal,
		m.discontinuitiesTotal,
		m.sessionShutdownsTotal,
		m.mixDuration,
		m.pendingQueueDepth,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("registering capture metrics: %w", err)
		}
	}
	return m, nil
}

// RecordPacket records a delivered packet and its frame count.
func (m *CaptureMetrics) RecordPacket(mode string, frames int64) {
	if m == nil {
		return
	}
	m.packetsProducedTotal.WithLabelValues(mode).Inc()
	m.framesMixedTotal.WithLabelValues(mode).Add(float64(frames))
}

// RecordDiscontinuity records a broken timeline.
func (m *CaptureMetrics) RecordDiscontinuity(reason string) {
	if m == nil {
		return
	}
	m.discontinuitiesTotal.WithLabelValues(reason).Inc()
}

// RecordShutdown records a session shutdown.
func (m *CaptureMetrics) RecordShutdown(reason string) {
	if m == nil {
		return
	}
	m.sessionShutdownsTotal.WithLabelValues(reason).Inc()
}

// RecordMixDuration records the wall-clock cost of one mix pass.
func (m *CaptureMetrics) RecordMixDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.mixDuration.Observe(d.Seconds())
}

// SetPendingDepth records the current pending queue depth.
func (m *CaptureMetrics) SetPendingDepth(depth int) {
	if m == nil {
		return
	}
	m.pendingQueueDepth.Set(float64(depth))
}
