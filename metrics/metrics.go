// File: metrics/metrics.go
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicknochnack/whisperd/logger"
)

var (
	// WebSocket metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "The total number of actions received from clients.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "The total number of state pushes sent to clients.",
	})

	// Group and session metrics
	ActiveGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groups_active",
		Help: "The current number of groups with at least one live session.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "The current number of live sessions.",
	})

	// Fan-out metrics
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_broadcasts_total",
		Help: "The total number of history broadcasts triggered.",
	})
	BroadcastTargets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_broadcast_targets_total",
		Help: "The total number of sibling sessions updated by broadcasts.",
	})
	SiblingUpdateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_sibling_update_failures_total",
		Help: "The total number of broadcast targets skipped because they vanished mid-broadcast.",
	})
	SeedsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_seeds_total",
		Help: "The total number of sessions seeded from a sibling or the archive on join.",
	})

	// Relay metrics
	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_updates_published_total",
		Help: "The total number of group updates published to the relay broker.",
	}, []string{"broker_type"})
	RelayApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_updates_applied_total",
		Help: "The total number of relayed group updates applied to local sessions.",
	})

	// Assistant metrics
	AssistRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assist_requests_total",
		Help: "The total number of assistant tasks requested.",
	}, []string{"mode"})
	AssistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assist_failures_total",
		Help: "The total number of assistant tasks that failed.",
	}, []string{"mode"})

	// Auth metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Fatal("failed to start metrics server", "error", err)
		}
	}()
}
