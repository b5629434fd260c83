// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mwrpc_roster_boards",
		Help: "The number of boards in the roster",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mwrpc_active_sessions",
		Help: "The number of boards with an established session",
	})

	Scanning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mwrpc_scanning",
		Help: "1 while the supervisor is scanning for boards",
	})

	ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mwrpc_connect_attempts",
		Help: "The total number of connect attempts",
	})

	ConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mwrpc_connect_failures",
		Help: "The total number of failed connect attempts",
	})

	Disconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mwrpc_disconnects",
		Help: "The total number of sessions lost to a disconnect",
	})

	PatternRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mwrpc_pattern_runs",
		Help: "The total number of periodic actions started",
	})

	PatternsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mwrpc_patterns_superseded",
		Help: "The total number of periodic actions cancelled by a newer one",
	})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mwrpc_rpc_calls",
		Help: "The total number of remote calls",
	}, []string{"method", "transport"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mwrpc_websocket_clients",
		Help: "The number of connected websocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests",
	}, []string{"code", "method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "Duration of all HTTP requests",
	}, []string{"code", "method"})
)
