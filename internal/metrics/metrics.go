// Package metrics exposes Prometheus metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ibwatch"

var (
	// ProbesTotal counts heartbeat probe cycles by outcome (alive, lost).
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Heartbeat probe cycles by outcome.",
	}, []string{"outcome"})

	// ProbeAttempts observes how many sends a probe cycle needed.
	ProbeAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_attempts",
		Help:      "Current-time requests sent per probe cycle.",
		Buckets:   []float64{1, 2, 3, 5, 8, 11, 20},
	})

	ProbeRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_rtt_seconds",
		Help:      "Round-trip time of the acknowledged heartbeat.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Connect attempts by failure class.",
	}, []string{"class"})

	CampaignsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_campaigns_total",
		Help:      "Reconnect campaigns by result.",
	}, []string{"result"})

	CampaignRetries = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconnect_campaign_retries",
		Help:      "Retries consumed by a reconnect campaign.",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	ProbeReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_reconnects_total",
		Help:      "Reconnects triggered from inside a probe cycle.",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connected",
		Help:      "1 when the last probe confirmed the connection.",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last acknowledged heartbeat.",
	})

	ServerClockSkew = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_clock_skew_seconds",
		Help:      "Local time minus TWS server time at the last heartbeat.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by component.",
	}, []string{"component"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
