// Package metrics provides Prometheus metrics for external audio tool invocations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Audio tool execution metrics
var (
	// commandExecutionTotal counts audio tool invocations.
	// Labels:
	//   - command: binary alias ("ffmpeg", "rubberband")
	//   - mode: executor that ran it ("local", "remote")
	//   - status: "success", "failed" or "timeout"
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpmnorm_tool_executions_total",
			Help: "Total number of audio tool executions",
		},
		[]string{"command", "mode", "status"},
	)

	// commandExecutionDuration observes wall time of each invocation.
	// Buckets cover single-segment work (sub-second) up to full-file concatenation.
	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wpmnorm_tool_duration_seconds",
			Help:    "Duration of audio tool executions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"command", "mode"},
	)

	// commandsInFlight is the number of tool processes currently running per command.
	commandsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wpmnorm_tool_in_flight",
			Help: "Audio tool processes currently running",
		},
		[]string{"command"},
	)

	// degradationEventsTotal counts executor switches (remote -> local).
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpmnorm_tool_degradation_events_total",
			Help: "Total number of executor mode degradation events (e.g., remote -> local)",
		},
		[]string{"from_mode", "to_mode"},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
	prometheus.MustRegister(commandsInFlight)
	prometheus.MustRegister(degradationEventsTotal)
}

// RecordCommandExecution records one finished invocation.
func RecordCommandExecution(command, mode, status string) {
	commandExecutionTotal.WithLabelValues(command, mode, status).Inc()
}

// RecordCommandDuration records invocation wall time in seconds.
func RecordCommandDuration(command, mode string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command, mode).Observe(durationSeconds)
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight(command string) func() {
	g := commandsInFlight.WithLabelValues(command)
	g.Inc()
	return g.Dec
}

// RecordDegradationEvent records a switch between executor modes.
func RecordDegradationEvent(fromMode, toMode string) {
	degradationEventsTotal.WithLabelValues(fromMode, toMode).Inc()
}
