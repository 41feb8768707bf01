// Package metrics holds the Prometheus collectors for the execution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceRequests counts device-service calls by operation and outcome
	// (ok, failed, timeout, unavailable, not_found).
	DeviceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_device_requests_total",
		Help: "Device-communication service calls by operation and outcome",
	}, []string{"op", "outcome"})

	DeviceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simplemes_device_request_duration_seconds",
		Help:    "Device-communication service round trip time",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, .8, 1, 2.5, 5},
	}, []string{"op"})

	// SimulatedReads counts reads answered with a simulated value because
	// the device service was unreachable or erroring.
	SimulatedReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_simulated_reads_total",
		Help: "Device reads answered with a simulated value",
	}, []string{"device_id"})

	ActionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_action_attempts_total",
		Help: "Action attempts by action type and result",
	}, []string{"type", "result"})

	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_step_outcomes_total",
		Help: "Step executions by resulting order-step status",
	}, []string{"status"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_order_transitions_total",
		Help: "Accepted order status transitions",
	}, []string{"from", "to"})

	SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_session_events_total",
		Help: "Workstation session lifecycle events",
	}, []string{"event"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemes_outbox_published_total",
		Help: "Outbox messages drained to the broker by result",
	}, []string{"result"})
)
