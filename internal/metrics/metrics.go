// Package metrics collects runtime metrics for the audio server and exposes
// them through a Prometheus registry. The collector singleton pattern
// mirrors the teacher's audiocore.MetricsCollector (InitMetrics/GetMetrics
// behind an atomic.Pointer), with the metric set replaced for this domain.
package metrics

import (
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/crasgo/internal/logging"
)

// Collector records scheduler, device, and stream events (§7, §8).
type Collector struct {
	underruns         *prometheus.CounterVec // labeled by device id
	severeUnderruns   *prometheus.CounterVec
	busyloopEvents    prometheus.Counter
	missedCallbacks   *prometheus.CounterVec // labeled by stream id
	streamCreateErrs  *prometheus.CounterVec // labeled by error code (§7)
	activeStreams     prometheus.Gauge
	activeDevices     prometheus.Gauge
	schedulerWakeGap  prometheus.Histogram
	configureDuration prometheus.Histogram
	audioThreadNice   prometheus.Gauge

	registry *prometheus.Registry
	logger   *slog.Logger
}

var global atomic.Pointer[Collector]

// New creates a Collector and registers its metrics with a fresh registry.
func New() *Collector {
	logger := logging.ForService("metrics")
	reg := prometheus.NewRegistry()

	c := &Collector{
		underruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiosrv",
			Name:      "device_underruns_total",
			Help:      "Output underruns detected per device.",
		}, []string{"device_id"}),
		severeUnderruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiosrv",
			Name:      "device_severe_underruns_total",
			Help:      "Severe underruns (stopped hardware pointer) per device.",
		}, []string{"device_id"}),
		busyloopEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiosrv",
			Name:      "scheduler_busyloop_events_total",
			Help:      "Consecutive zero-wait scheduler wakes that tripped the busyloop guard.",
		}),
		missedCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiosrv",
			Name:      "stream_missed_callbacks_total",
			Help:      "Missed fetch/deliver callbacks per stream.",
		}, []string{"stream_id"}),
		streamCreateErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiosrv",
			Name:      "stream_create_errors_total",
			Help:      "Stream creation failures by error code (stream-add, stream-connect, stream-create).",
		}, []string{"code"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiosrv",
			Name:      "active_streams",
			Help:      "Currently attached client streams.",
		}),
		activeDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiosrv",
			Name:      "active_devices",
			Help:      "Currently open devices.",
		}),
		schedulerWakeGap: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audiosrv",
			Name:      "scheduler_wake_gap_seconds",
			Help:      "Time between consecutive scheduler wakes.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		configureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audiosrv",
			Name:      "device_configure_duration_seconds",
			Help:      "Time spent in a device backend's Configure call.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		audioThreadNice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiosrv",
			Name:      "audio_thread_nice",
			Help:      "Resolved OS nice value of the audio thread after the real-time elevation attempt (§5).",
		}),
		registry: reg,
		logger:   logger,
	}

	reg.MustRegister(c.underruns, c.severeUnderruns, c.busyloopEvents,
		c.missedCallbacks, c.streamCreateErrs, c.activeStreams,
		c.activeDevices, c.schedulerWakeGap, c.configureDuration,
		c.audioThreadNice)

	return c
}

// Registry returns the underlying Prometheus registry for exposition.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Init installs c as the process-wide collector.
func Init(c *Collector) { global.Store(c) }

// Get returns the process-wide collector, or a disabled no-op one if Init
// has not been called.
func Get() *Collector {
	if c := global.Load(); c != nil {
		return c
	}
	return &Collector{}
}

// RecordUnderrun implements the §4.H scheduler underrun-detection contract.
func (c *Collector) RecordUnderrun(deviceID string) {
	if c == nil || c.underruns == nil {
		return
	}
	c.underruns.WithLabelValues(deviceID).Inc()
}

// RecordSevereUnderrun implements the §4.H severe-underrun contract.
func (c *Collector) RecordSevereUnderrun(deviceID string) {
	if c == nil || c.severeUnderruns == nil {
		return
	}
	c.severeUnderruns.WithLabelValues(deviceID).Inc()
	if c.logger != nil {
		c.logger.Warn("severe underrun", "device_id", deviceID)
	}
}

// RecordBusyloop implements the §4.H two-consecutive-zero-wait contract.
func (c *Collector) RecordBusyloop() {
	if c == nil || c.busyloopEvents == nil {
		return
	}
	c.busyloopEvents.Inc()
}

// RecordMissedCallback implements the §7 missed-callback contract.
func (c *Collector) RecordMissedCallback(streamID string) {
	if c == nil || c.missedCallbacks == nil {
		return
	}
	c.missedCallbacks.WithLabelValues(streamID).Inc()
}

// RecordStreamCreateError implements the §7 stream-creation-error contract.
func (c *Collector) RecordStreamCreateError(code string) {
	if c == nil || c.streamCreateErrs == nil {
		return
	}
	c.streamCreateErrs.WithLabelValues(code).Inc()
}

// SetActiveStreams and SetActiveDevices update the live gauges.
func (c *Collector) SetActiveStreams(n int) {
	if c == nil || c.activeStreams == nil {
		return
	}
	c.activeStreams.Set(float64(n))
}

func (c *Collector) SetActiveDevices(n int) {
	if c == nil || c.activeDevices == nil {
		return
	}
	c.activeDevices.Set(float64(n))
}

// ObserveWakeGap records the elapsed time since the previous scheduler wake.
func (c *Collector) ObserveWakeGap(seconds float64) {
	if c == nil || c.schedulerWakeGap == nil {
		return
	}
	c.schedulerWakeGap.Observe(seconds)
}

// ObserveConfigureDuration implements the §4.E "elapsed time reported to
// the metrics channel" contract for Device.Configure.
func (c *Collector) ObserveConfigureDuration(seconds float64) {
	if c == nil || c.configureDuration == nil {
		return
	}
	c.configureDuration.Observe(seconds)
}

// SetAudioThreadNice records the audio thread's resolved nice value
// after a real-time priority elevation attempt (§5: "failure to elevate
// is non-fatal"), so operators can tell from metrics alone whether the
// deployment actually got SCHED_FIFO or fell back to a nice value.
func (c *Collector) SetAudioThreadNice(nice float64) {
	if c == nil || c.audioThreadNice == nil {
		return
	}
	c.audioThreadNice.Set(nice)
}
