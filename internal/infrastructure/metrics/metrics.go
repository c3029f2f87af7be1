// Package metrics exposes Prometheus collectors for command outcomes,
// device reachability and resolver cache behaviour.
//
// Collectors live on a private registry rather than the global default, so
// several instances can coexist in tests. All Recorder methods are nil-safe:
// a nil *Recorder records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "graylogic_access"

// durationBuckets spans fast HTTP acks up to a fully retried TCP command.
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}

// Recorder holds the service's Prometheus collectors.
type Recorder struct {
	registry *prometheus.Registry

	commands  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	reachable *prometheus.GaugeVec
	sweeps    prometheus.Counter
	lastSweep prometheus.Gauge
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors. An empty namespace uses DefaultNamespace.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands executed, by command, adapter and outcome category.",
		}, []string{"command", "adapter", "category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of device commands including retries.",
			Buckets:   durationBuckets,
		}, []string{"command", "adapter"}),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_reachable",
			Help:      "1 if the last connectivity check succeeded, 0 otherwise.",
		}, []string{"device_id", "adapter"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sweeps_total",
			Help:      "Completed connectivity sweeps.",
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last connectivity sweep finished.",
		}),
	}

	r.registry.MustRegister(
		r.commands, r.duration, r.reachable, r.sweeps, r.lastSweep,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveCommand counts one command and records its duration. adapterName
// is empty when resolution failed; it is exported as "none".
func (r *Recorder) ObserveCommand(command, adapterName, category string, d time.Duration) {
	if r == nil {
		return
	}
	if adapterName == "" {
		adapterName = "none"
	}
	r.commands.WithLabelValues(command, adapterName, category).Inc()
	r.duration.WithLabelValues(command, adapterName).Observe(d.Seconds())
}

// SetReachable records the latest connectivity check result for a device.
func (r *Recorder) SetReachable(deviceID, adapterName string, ok bool) {
	if r == nil {
		return
	}
	if adapterName == "" {
		adapterName = "none"
	}
	v := 0.0
	if ok {
		v = 1
	}
	r.reachable.WithLabelValues(deviceID, adapterName).Set(v)
}

// ForgetDevice drops the reachability series of a removed device.
func (r *Recorder) ForgetDevice(deviceID string) {
	if r == nil {
		return
	}
	r.reachable.DeletePartialMatch(prometheus.Labels{"device_id": deviceID})
}

// SweepCompleted marks the end of a connectivity sweep.
func (r *Recorder) SweepCompleted(at time.Time) {
	if r == nil {
		return
	}
	r.sweeps.Inc()
	r.lastSweep.Set(float64(at.Unix()))
}

// RegisterResolver exports the resolver cache statistics as function-backed
// collectors, read on every scrape.
func (r *Recorder) RegisterResolver(namespace string, res *adapter.Resolver) error {
	if r == nil || res == nil {
		return nil
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counter := func(name, help string, value func(adapter.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resolver", Name: name, Help: help,
		}, func() float64 { return float64(value(res.Stats())) })
	}

	cols := []prometheus.Collector{
		counter("cache_hits_total", "Resolutions served from the cache.",
			func(s adapter.Stats) uint64 { return s.CacheHits }),
		counter("cache_misses_total", "Resolutions that ran the lookup.",
			func(s adapter.Stats) uint64 { return s.CacheMisses }),
		counter("resolutions_total", "Uncached lookups performed.",
			func(s adapter.Stats) uint64 { return s.Resolutions }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "resolver", Name: "cache_entries",
			Help: "Memoized resolutions.",
		}, func() float64 { return float64(res.Stats().CacheSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry", Name: "adapters",
			Help: "Adapters in the registry.",
		}, func() float64 { return float64(res.Registry().Len()) }),
	}
	for _, c := range cols {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
