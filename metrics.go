package sstvcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an optional, injectable recorder for engine-level counters,
// matching the teacher's promauto-registered GaugeVec/CounterVec shape in
// prometheus.go. Every record method checks for a nil receiver itself, so
// passing nil (the default) disables metrics entirely without any call
// site needing its own guard.
type Metrics struct {
	linesDecoded    prometheus.Counter
	modesDetected   *prometheus.CounterVec // label: mode
	detectMethod    *prometheus.CounterVec // label: method (vis|timing)
	visRejected     prometheus.Counter
	imagesCompleted *prometheus.CounterVec // label: mode
	fskIDsDecoded   prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against the given
// registerer (pass prometheus.DefaultRegisterer for the global registry,
// or a prometheus.NewRegistry() for an isolated one in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		linesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sstvcore_lines_decoded_total",
			Help: "Total scan lines decoded across all sessions.",
		}),
		modesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sstvcore_modes_detected_total",
			Help: "Total images for which a mode was detected, by mode name.",
		}, []string{"mode"}),
		detectMethod: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sstvcore_mode_detect_method_total",
			Help: "Total mode detections, by method (vis or timing).",
		}, []string{"method"}),
		visRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "sstvcore_vis_rejected_total",
			Help: "Total VIS candidates rejected (parity/leader/bit-frequency failure).",
		}),
		imagesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sstvcore_images_completed_total",
			Help: "Total images fully decoded, by mode name.",
		}, []string{"mode"}),
		fskIDsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sstvcore_fsk_ids_decoded_total",
			Help: "Total non-empty FSK callsign IDs decoded.",
		}),
	}
}

func (m *Metrics) recordLine() {
	if m == nil {
		return
	}
	m.linesDecoded.Inc()
}

func (m *Metrics) recordModeDetected(modeName, method string) {
	if m == nil {
		return
	}
	m.modesDetected.WithLabelValues(modeName).Inc()
	m.detectMethod.WithLabelValues(method).Inc()
}

func (m *Metrics) recordVISRejected() {
	if m == nil {
		return
	}
	m.visRejected.Inc()
}

func (m *Metrics) recordImageCompleted(modeName string) {
	if m == nil {
		return
	}
	m.imagesCompleted.WithLabelValues(modeName).Inc()
}

func (m *Metrics) recordFSKID() {
	if m == nil {
		return
	}
	m.fskIDsDecoded.Inc()
}
