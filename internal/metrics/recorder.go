package metrics

import (
	"time"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordProbe records the outcome of one probe cycle.
func (r *Recorder) RecordProbe(alive bool, attempts int) {
	outcome := "lost"
	if alive {
		outcome = "alive"
	}
	ProbesTotal.WithLabelValues(outcome).Inc()
	ProbeAttempts.Observe(float64(attempts))
	r.RecordBrokerStatus(alive)
}

// RecordHeartbeat records an acknowledged heartbeat.
func (r *Recorder) RecordHeartbeat(rtt time.Duration, serverTime time.Time) {
	now := time.Now()
	ProbeRTT.Observe(rtt.Seconds())
	HeartbeatTimestamp.Set(float64(now.Unix()))
	if !serverTime.IsZero() {
		ServerClockSkew.Set(now.Sub(serverTime).Seconds())
	}
}

// RecordProbeReconnect records a reconnect triggered by the prober.
func (r *Recorder) RecordProbeReconnect() {
	ProbeReconnectsTotal.Inc()
}

// RecordConnectAttempt records a connect attempt by failure class ("none" on success).
func (r *Recorder) RecordConnectAttempt(class string) {
	ConnectAttemptsTotal.WithLabelValues(class).Inc()
}

// RecordCampaign records the end of a reconnect campaign.
func (r *Recorder) RecordCampaign(result string, retries int) {
	CampaignsTotal.WithLabelValues(result).Inc()
	CampaignRetries.Observe(float64(retries))
}

// RecordBrokerStatus records broker connection status.
func (r *Recorder) RecordBrokerStatus(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}

// RecordError records an error.
func (r *Recorder) RecordError(component string) {
	ErrorsTotal.WithLabelValues(component).Inc()
}
