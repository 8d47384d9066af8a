// Package obs exposes the app's Prometheus instrumentation. All methods are
// safe on a nil *Metrics so components can run uninstrumented in tests.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the app registers.
type Metrics struct {
	companionSends    *prometheus.CounterVec
	companionPushes   prometheus.Counter
	heartbeatsSent    prometheus.Counter
	heartbeatsSkipped *prometheus.CounterVec
	joinOffers        prometheus.Counter
	joinAccepted      prometheus.Counter
	sessionState      prometheus.Gauge
}

// NewMetrics registers all collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		companionSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pacelink_companion_sends_total",
			Help: "Request/reply sends to the companion device, by outcome.",
		}, []string{"outcome"}),
		companionPushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pacelink_companion_pushes_total",
			Help: "Best-effort context pushes to the companion device.",
		}),
		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "pacelink_heartbeats_sent_total",
			Help: "Status heartbeats actually sent.",
		}),
		heartbeatsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pacelink_heartbeats_skipped_total",
			Help: "Heartbeat cycles skipped, by reason.",
		}, []string{"reason"}),
		joinOffers: factory.NewCounter(prometheus.CounterOpts{
			Name: "pacelink_join_offers_total",
			Help: "Join offers surfaced for externally started sessions.",
		}),
		joinAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pacelink_join_accepted_total",
			Help: "Join offers the user accepted.",
		}),
		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pacelink_session_state",
			Help: "Current session state (0 notStarted, 1 running, 2 paused, 3 completed).",
		}),
	}
}

// SendOutcome counts one companion request by its outcome string.
func (m *Metrics) SendOutcome(outcome string) {
	if m == nil {
		return
	}
	m.companionSends.WithLabelValues(outcome).Inc()
}

// ContextPushed counts one best-effort context push.
func (m *Metrics) ContextPushed() {
	if m == nil {
		return
	}
	m.companionPushes.Inc()
}

// HeartbeatSent counts one heartbeat actually dispatched.
func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// HeartbeatSkipped counts one skipped heartbeat cycle.
func (m *Metrics) HeartbeatSkipped(reason string) {
	if m == nil {
		return
	}
	m.heartbeatsSkipped.WithLabelValues(reason).Inc()
}

// JoinOffered counts one surfaced join offer.
func (m *Metrics) JoinOffered() {
	if m == nil {
		return
	}
	m.joinOffers.Inc()
}

// JoinAccepted counts one accepted join offer.
func (m *Metrics) JoinAccepted() {
	if m == nil {
		return
	}
	m.joinAccepted.Inc()
}

// SessionState records the current state as a gauge level.
func (m *Metrics) SessionState(level int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(level))
}
