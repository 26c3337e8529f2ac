package observ

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const namespace = "autotrader"

// registry lazily creates one vector per metric name. The label set of a metric is
// fixed by its first use; later calls fill missing labels with "" and drop unknown ones.
type registry struct {
	mu       sync.Mutex
	prom     *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	hist     map[string]*prometheus.HistogramVec
	labels   map[string][]string
}

var reg = newRegistry()

func newRegistry() *registry {
	r := &registry{
		prom:     prometheus.NewRegistry(),
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
		hist:     map[string]*prometheus.HistogramVec{},
		labels:   map[string][]string{},
	}
	r.prom.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

func labelNames(lbl map[string]string) []string {
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry) values(name string, lbl map[string]string) []string {
	names := r.labels[name]
	vals := make([]string, len(names))
	for i, n := range names {
		vals[i] = lbl[n]
	}
	return vals
}

func (r *registry) counter(name string, lbl map[string]string) prometheus.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.counters[name]
	if !ok {
		r.labels[name] = labelNames(lbl)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: name}, r.labels[name])
		r.prom.MustRegister(vec)
		r.counters[name] = vec
	}
	return vec.WithLabelValues(r.values(name, lbl)...)
}

func (r *registry) gauge(name string, lbl map[string]string) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.gauges[name]
	if !ok {
		r.labels[name] = labelNames(lbl)
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: name}, r.labels[name])
		r.prom.MustRegister(vec)
		r.gauges[name] = vec
	}
	return vec.WithLabelValues(r.values(name, lbl)...)
}

func (r *registry) histogram(name string, lbl map[string]string) prometheus.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.hist[name]
	if !ok {
		r.labels[name] = labelNames(lbl)
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, r.labels[name])
		r.prom.MustRegister(vec)
		r.hist[name] = vec
	}
	return vec.WithLabelValues(r.values(name, lbl)...)
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	if value < 0 {
		return
	}
	reg.counter(name, labels).Add(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.gauge(name, labels).Set(value)
}

func Observe(name string, value float64, labels map[string]string) {
	reg.histogram(name, labels).Observe(value)
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue reads back a counter; zero when the metric was never touched.
func CounterValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	vec, ok := reg.counters[name]
	var vals []string
	if ok {
		vals = reg.values(name, labels)
	}
	reg.mu.Unlock()
	if !ok {
		return 0
	}
	return testutil.ToFloat64(vec.WithLabelValues(vals...))
}

// GaugeValue reads back a gauge; zero when the metric was never touched.
func GaugeValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	vec, ok := reg.gauges[name]
	var vals []string
	if ok {
		vals = reg.values(name, labels)
	}
	reg.mu.Unlock()
	if !ok {
		return 0
	}
	return testutil.ToFloat64(vec.WithLabelValues(vals...))
}

// Handler serves the registry in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}
