package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portalauth"

// Metrics holds the auth counters and the HTTP instrumentation.
type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
	Lockouts         prometheus.Counter
	BackendFallbacks prometheus.Counter
	SessionsCleaned  prometheus.Counter

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "registrations_total",
				Help:      "Registration attempts by outcome",
			},
			[]string{"outcome"},
		),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Identity and origin pairs that reached the failed login threshold",
		}),
		BackendFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fallbacks_total",
			Help:      "Auth calls served by the in-memory store because the primary was unreachable",
		}),
		SessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions_cleaned_total",
			Help:      "Expired sessions removed by cleanup",
		}),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.Registrations,
		m.Lockouts,
		m.BackendFallbacks,
		m.SessionsCleaned,
		m.RequestCount,
		m.RequestDuration,
	)
	return m
}
