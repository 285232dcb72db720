package telemetry

import (
	"errors"
	"time"

	"github.com/itohio/godiode/pkg/daqerr"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures scan events. Hooks run inline with the sweep loop and
// must be cheap.
type Collector interface {
	IncStep()
	ObserveScan(duration time.Duration, steps int, err error)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncStep()                              {}
func (noopCollector) ObserveScan(time.Duration, int, error) {}

// Result labels of the scans counter.
const (
	ResultOK              = "ok"
	ResultInvalidArgument = "invalid_argument"
	ResultConnection      = "connection"
	ResultProtocol        = "protocol"
	ResultError           = "error"
)

// Classify maps a scan error to its result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, daqerr.ErrInvalidArgument):
		return ResultInvalidArgument
	case errors.Is(err, daqerr.ErrConnection):
		return ResultConnection
	case errors.Is(err, daqerr.ErrProtocol):
		return ResultProtocol
	}
	return ResultError
}

// PrometheusCollector exposes scan metrics via Prometheus.
type PrometheusCollector struct {
	scans     *prometheus.CounterVec
	steps     prometheus.Counter
	duration  prometheus.Histogram
	lastSteps prometheus.Gauge
}

// NewPrometheusCollector registers the scan metrics with reg. Metrics that are
// already registered are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	scans, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "godiode_scans_total",
		Help: "Number of scans per result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	steps, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godiode_scan_steps_total",
		Help: "Number of sweep steps recorded.",
	}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "godiode_scan_duration_seconds",
		Help:    "Duration of scans including connection setup.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}))
	if err != nil {
		return nil, err
	}

	lastSteps, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "godiode_scan_last_steps",
		Help: "Number of steps recorded by the last scan.",
	}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		scans:     scans,
		steps:     steps,
		duration:  duration,
		lastSteps: lastSteps,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncStep counts a recorded sweep step.
func (p *PrometheusCollector) IncStep() {
	if p == nil {
		return
	}
	p.steps.Inc()
}

// ObserveScan records a finished scan.
func (p *PrometheusCollector) ObserveScan(duration time.Duration, steps int, err error) {
	if p == nil {
		return
	}
	p.scans.WithLabelValues(Classify(err)).Inc()
	p.duration.Observe(duration.Seconds())
	p.lastSteps.Set(float64(steps))
}
