package abac

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the decision point. Every method
// is safe on a nil receiver, so an engine built without metrics pays nothing.
type Metrics struct {
	decisions       *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	conditionErrors prometheus.Counter
	auditDrops      prometheus.Counter
	auditFailures   prometheus.Counter
	registry        *prometheus.Registry
}

// NewMetrics creates the collectors under namespace and registers them on a
// private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "abac"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pdp",
			Name:      "decisions_total",
			Help:      "Total number of access decisions by outcome",
		},
		[]string{"decision", "reason"},
	)
	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pdp",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of access evaluations in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"decision"},
	)
	m.conditionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pdp",
		Name:      "condition_errors_total",
		Help:      "Policies skipped because their condition failed to evaluate",
	})
	m.auditDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Audit entries dropped because the queue was full",
	})
	m.auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "failures_total",
		Help:      "Audit entries the store failed to persist",
	})

	m.registry.MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisions, m.duration, m.conditionErrors, m.auditDrops, m.auditFailures}
}

// Init pre-creates the decision label sets so they are exported at zero
func (m *Metrics) Init() {
	if m == nil {
		return
	}
	for _, d := range []Effect{EffectAllow, EffectDeny} {
		m.duration.WithLabelValues(string(d))
	}
	m.decisions.WithLabelValues(string(EffectAllow), reasonPolicy)
	for _, r := range []string{reasonPolicy, reasonSubject, reasonResource, reasonAction, reasonNoPolicy, reasonNoMatch, reasonError} {
		m.decisions.WithLabelValues(string(EffectDeny), r)
	}
}

// reason label values; bounded so the series count stays fixed
const (
	reasonPolicy   = "policy"
	reasonSubject  = "subject_unavailable"
	reasonResource = "resource_not_found"
	reasonAction   = "action_not_found"
	reasonNoPolicy = "no_applicable"
	reasonNoMatch  = "no_match"
	reasonError    = "error"
)

func (m *Metrics) recordDecision(decision Effect, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(decision), reason).Inc()
	m.duration.WithLabelValues(string(decision)).Observe(d.Seconds())
}

func (m *Metrics) conditionFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conditionErrors.Add(float64(n))
}

func (m *Metrics) auditDropped() {
	if m == nil {
		return
	}
	m.auditDrops.Inc()
}

func (m *Metrics) auditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// Registry returns the private registry, for exposing with promhttp
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MustRegister adds the collectors to another registry. Collectors that are
// already registered there are ignored.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	if m == nil {
		return
	}
	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
