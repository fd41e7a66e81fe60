// Package metrics provides Prometheus metrics for the edit session and the
// persistence gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Save triggers, used as the "trigger" label.
const (
	TriggerManual   = "manual"
	TriggerBlur     = "blur"
	TriggerAutosave = "autosave"
	TriggerSwitch   = "switch"
	TriggerClose    = "close"
)

var (
	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindraft_saves_total",
			Help: "Total number of file saves by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	suppressedPushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mindraft_suppressed_pushes_total",
			Help: "External content pushes dropped while the user was editing",
		},
	)

	fileOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindraft_file_opens_total",
			Help: "Total number of files opened into the edit session",
		},
		[]string{"outcome"},
	)

	workspaceLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindraft_workspace_loads_total",
			Help: "Total number of workspace loads",
		},
		[]string{"outcome"},
	)

	workspaceTreeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mindraft_workspace_tree_nodes",
			Help: "Number of files and directories in the loaded workspace tree",
		},
	)

	gatewayOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindraft_gateway_operation_duration_seconds",
			Help:    "Persistence gateway operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordSave records a save attempt for the given trigger.
func RecordSave(trigger string, err error) {
	savesTotal.WithLabelValues(trigger, outcome(err)).Inc()
}

// RecordSuppressedPush records an external push dropped by the edit guard.
func RecordSuppressedPush() {
	suppressedPushesTotal.Inc()
}

// RecordFileOpen records a file open attempt.
func RecordFileOpen(err error) {
	fileOpensTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordWorkspaceLoad records a workspace load. The tree gauge is only
// updated on success.
func RecordWorkspaceLoad(nodes int, err error) {
	workspaceLoadsTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		workspaceTreeNodes.Set(float64(nodes))
	}
}

// ObserveGatewayOp records how long a gateway operation took.
func ObserveGatewayOp(op string, duration time.Duration) {
	gatewayOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}
