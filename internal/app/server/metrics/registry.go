// Package metrics owns the process-wide metric registry and the jobs that
// keep its host gauges fresh.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Kind is the metric type of a registered definition.
type Kind int

const (
	Counter Kind = iota
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Definition describes a metric to register.
type Definition struct {
	Name   string
	Help   string
	Kind   Kind
	Labels []string
}

// Sample is one value of one metric as seen at snapshot time.
type Sample struct {
	Name   string
	Kind   Kind
	Labels map[string]string
	Value  float64
}

var (
	ErrDuplicateMetric = errors.New("metric already registered")
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrWrongKind       = errors.New("wrong metric kind")
	ErrNegativeDelta   = errors.New("counter delta must not be negative")
	ErrLabelMismatch   = errors.New("labels do not match metric definition")
)

// UptimeMetric is computed on every gather from the registry start time.
const UptimeMetric = "system_uptime_seconds"

type metric struct {
	def     Definition
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
}

// Registry is a named set of counters and gauges backed by a private
// prometheus registry. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	reg     *prometheus.Registry
	metrics map[string]*metric

	now               func() time.Time
	started           time.Time
	defaultCollectors bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces the clock used for the uptime gauge.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithoutDefaultCollectors skips the Go runtime and process collectors.
func WithoutDefaultCollectors() Option {
	return func(r *Registry) { r.defaultCollectors = false }
}

// NewRegistry creates a registry with the uptime gauge and, unless disabled,
// the Go runtime and process collectors already registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		reg:               prometheus.NewRegistry(),
		metrics:           make(map[string]*metric),
		now:               time.Now,
		defaultCollectors: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()

	if r.defaultCollectors {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: UptimeMetric,
		Help: "System uptime in seconds",
	}, r.uptime))

	return r
}

func (r *Registry) uptime() float64 {
	return r.now().Sub(r.started).Seconds()
}

// Register adds a metric. Names owned by the default collectors or the
// uptime gauge count as taken.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("metric name is required")
	}
	if def.Help == "" {
		def.Help = def.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.metrics[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.Name)
	}
	if def.Name == UptimeMetric || r.gatheredName(def.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.Name)
	}

	m := &metric{def: def}
	var c prometheus.Collector
	switch def.Kind {
	case Counter:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.Name, Help: def.Help}, def.Labels)
		c = m.counter
	case Gauge:
		m.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: def.Name, Help: def.Help}, def.Labels)
		c = m.gauge
	default:
		return fmt.Errorf("%w: %s has kind %d", ErrWrongKind, def.Name, def.Kind)
	}

	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.Name)
		}
		return fmt.Errorf("register %s: %w", def.Name, err)
	}
	r.metrics[def.Name] = m
	return nil
}

func (r *Registry) gatheredName(name string) bool {
	families, _ := r.reg.Gather()
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(name string, kind Kind) (*metric, error) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	if m.def.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrWrongKind, name, m.def.Kind, kind)
	}
	return m, nil
}

// Increment adds delta to a counter.
func (r *Registry) Increment(name string, labels map[string]string, delta float64) error {
	if delta < 0 {
		return fmt.Errorf("%w: %s (%v)", ErrNegativeDelta, name, delta)
	}
	m, err := r.lookup(name, Counter)
	if err != nil {
		return err
	}
	c, err := m.counter.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLabelMismatch, name, err)
	}
	c.Add(delta)
	return nil
}

// SetGauge overwrites the value of a gauge.
func (r *Registry) SetGauge(name string, labels map[string]string, value float64) error {
	m, err := r.lookup(name, Gauge)
	if err != nil {
		return err
	}
	g, err := m.gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLabelMismatch, name, err)
	}
	g.Set(value)
	return nil
}

// MustIncrement is Increment that panics on misuse.
func (r *Registry) MustIncrement(name string, labels map[string]string, delta float64) {
	if err := r.Increment(name, labels, delta); err != nil {
		panic(err)
	}
}

// MustSetGauge is SetGauge that panics on misuse.
func (r *Registry) MustSetGauge(name string, labels map[string]string, value float64) {
	if err := r.SetGauge(name, labels, value); err != nil {
		panic(err)
	}
}

// Snapshot gathers the current value of every metric, ordered by name and
// then by label values. Summaries and histograms of the default collectors
// are reported as <name>_sum and <name>_count.
func (r *Registry) Snapshot() ([]Sample, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var samples []Sample
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			labels := labelMap(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				samples = append(samples, Sample{Name: name, Kind: Counter, Labels: labels, Value: m.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				samples = append(samples, Sample{Name: name, Kind: Gauge, Labels: labels, Value: m.GetGauge().GetValue()})
			case dto.MetricType_UNTYPED:
				samples = append(samples, Sample{Name: name, Kind: Gauge, Labels: labels, Value: m.GetUntyped().GetValue()})
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				samples = append(samples,
					Sample{Name: name + "_sum", Kind: Gauge, Labels: labels, Value: s.GetSampleSum()},
					Sample{Name: name + "_count", Kind: Counter, Labels: labels, Value: float64(s.GetSampleCount())},
				)
			case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
				h := m.GetHistogram()
				samples = append(samples,
					Sample{Name: name + "_sum", Kind: Gauge, Labels: labels, Value: h.GetSampleSum()},
					Sample{Name: name + "_count", Kind: Counter, Labels: labels, Value: float64(h.GetSampleCount())},
				)
			}
		}
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	labels := make(map[string]string, len(pairs))
	for _, lp := range pairs {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler(errorLog promhttp.Logger) http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{ErrorLog: errorLog})
}

// Lookup finds the sample with exactly the given name and labels. The server
// itself only exposes samples through Handler; Lookup is the read path tests
// in other packages use to assert single values of a Snapshot.
func Lookup(samples []Sample, name string, labels map[string]string) (Sample, bool) {
	for _, s := range samples {
		if s.Name != name || len(s.Labels) != len(labels) {
			continue
		}
		match := true
		for k, v := range labels {
			if s.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			return s, true
		}
	}
	return Sample{}, false
}
