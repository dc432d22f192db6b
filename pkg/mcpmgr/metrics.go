package mcpmgr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports manager state to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	serversConnected   prometheus.Gauge
	toolsRegistered    prometheus.Gauge
	connectionAttempts *prometheus.CounterVec
	toolCalls          *prometheus.CounterVec
	toolCallDuration   *prometheus.HistogramVec
}

// NewMetrics creates the manager collectors and registers them with reg.
// Pass a dedicated registry per manager instance; registering twice with
// the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		serversConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmgr_servers_connected",
			Help: "Number of tool servers currently connected",
		}),
		toolsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmgr_tools_registered",
			Help: "Number of tools in the merged catalog",
		}),
		connectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmgr_connection_attempts_total",
			Help: "Connection attempts by server and result",
		}, []string{"server", "result"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmgr_tool_calls_total",
			Help: "Tool calls by server and outcome",
		}, []string{"server", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpmgr_tool_call_duration_seconds",
			Help:    "Tool call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.serversConnected,
			m.toolsRegistered,
			m.connectionAttempts,
			m.toolCalls,
			m.toolCallDuration,
		)
	}
	return m
}

func (m *Metrics) setGauges(connected, tools int) {
	if m == nil {
		return
	}
	m.serversConnected.Set(float64(connected))
	m.toolsRegistered.Set(float64(tools))
}

func (m *Metrics) connectionAttempt(server string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.connectionAttempts.With(prometheus.Labels{"server": server, "result": result}).Inc()
}

func (m *Metrics) toolCall(server, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.With(prometheus.Labels{"server": server, "status": status}).Inc()
	m.toolCallDuration.With(prometheus.Labels{"server": server}).Observe(elapsed.Seconds())
}
