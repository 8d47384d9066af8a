// Package sensor produces raw local metric readings for the session manager.
package sensor

import (
	"github.com/pacelink/pacelink-app/internal/session"
)

// Provider is a source of locally sensed workout readings. Readings are raw:
// ownership and merging are decided downstream, a provider just reports what
// its hardware measures.
type Provider interface {
	// CurrentMetrics returns the latest cumulative readings.
	CurrentMetrics() session.MetricData

	// ListenToUpdates registers a channel for fresh reading batches.
	// Returns an unregister function.
	ListenToUpdates(ch chan<- session.MetricData) func()

	// Start begins producing readings. Stop halts production; a stopped
	// provider cannot be restarted.
	Start()
	Stop()
}
