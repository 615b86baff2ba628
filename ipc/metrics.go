package ipc

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/clinicdesk/session"
)

// Call outcomes recorded in clinicdesk_ipc_calls_total.
const (
	OutcomeOK      = "ok"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
	OutcomeUnknown = "unknown_channel"
)

// UnknownChannelLabel is the channel label of calls to unregistered
// channels. Inbound names are not used as labels so callers cannot grow
// the series count.
const UnknownChannelLabel = "_unknown"

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the router collectors and registers them with reg.
// When store is non-nil a gauge reporting the number of stored sessions
// is registered as well.
func NewMetrics(reg prometheus.Registerer, store *session.Store) (*Metrics, error) {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "ipc",
			Name:      "calls_total",
			Help:      "IPC calls partitioned by channel and outcome.",
		}, []string{"channel", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "ipc",
			Name:      "call_duration_seconds",
			Help:      "Handler latency in seconds partitioned by channel.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	collectors := []prometheus.Collector{m.Calls, m.Duration}
	if store != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "clinicdesk",
			Name:      "sessions_live",
			Help:      "Number of sessions held by the session store.",
		}, func() float64 { return float64(store.Size()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register ipc collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(channel string, result any, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case isFailure(result):
		outcome = OutcomeFailure
	}
	m.Calls.WithLabelValues(channel, outcome).Inc()
	m.Duration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *Metrics) unknown() {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(UnknownChannelLabel, OutcomeUnknown).Inc()
}

func isFailure(result any) bool {
	switch f := result.(type) {
	case Failure:
		return !f.Success
	case *Failure:
		return f != nil && !f.Success
	}
	return false
}
