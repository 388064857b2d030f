package rotation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer.
type Metrics struct {
	updates       *prometheus.CounterVec
	applyDuration prometheus.Histogram
	index         prometheus.Gauge
	paused        prometheus.Gauge
	deadline      prometheus.Gauge
	override      prometheus.Gauge
	persistErrors prometheus.Counter
}

// Update results used as the "result" label.
const (
	ResultOK           = "ok"
	ResultRateLimited  = "rate_limited"
	ResultBackoff      = "backoff"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_updates_total",
				Help:      "Profile update attempts by result",
			},
			[]string{"result"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rotation_apply_duration_seconds",
				Help:      "Time spent in the update service, including limiter waits",
				Buckets:   []float64{.05, .1, .25, .5, 1, 5, 15, 30, 60, 120},
			},
		),
		index: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_current_index",
			Help:      "Zero-based index of the current description",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_paused",
			Help:      "1 when rotation is paused",
		}),
		deadline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_deadline_timestamp_seconds",
			Help:      "Unix time of the next scheduled update, 0 when an update is due",
		}),
		override: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_override_pending",
			Help:      "1 when an override text is waiting to be applied",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotation_persist_errors_total",
			Help:      "Failed attempts to save the rotation state",
		}),
	}
	reg.MustRegister(m.updates, m.applyDuration, m.index, m.paused, m.deadline, m.override, m.persistErrors)
	return m
}

func (m *Metrics) recordUpdate(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(result).Inc()
	m.applyDuration.Observe(took.Seconds())
}

func (m *Metrics) recordPersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}

func (m *Metrics) setState(st State) {
	if m == nil {
		return
	}
	m.index.Set(float64(st.Index))
	m.paused.Set(boolGauge(st.Paused))
	m.override.Set(boolGauge(st.Override != nil))
	if st.Deadline != nil {
		m.deadline.Set(float64(st.Deadline.Unix()))
	} else {
		m.deadline.Set(0)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
