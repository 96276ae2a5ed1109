// Package observability provides Prometheus metrics for the parking engine.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Monitor  *MonitorMetrics
	Payment  *PaymentMetrics
	Security *SecurityMetrics
	HTTP     *HTTPMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	monitorMetrics, err := NewMonitorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor metrics: %w", err)
	}
	paymentMetrics, err := NewPaymentMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment metrics: %w", err)
	}
	securityMetrics, err := NewSecurityMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create security metrics: %w", err)
	}
	httpMetrics, err := NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create http metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Monitor:  monitorMetrics,
		Payment:  paymentMetrics,
		Security: securityMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MonitorMetrics contains metrics for the change detector and reconciler.
type MonitorMetrics struct {
	ReconciliationsTotal prometheus.Counter
	ReconciliationErrors prometheus.Counter
	EventsBroadcast      *prometheus.CounterVec
	LogSizeBytes         *prometheus.GaugeVec
}

// NewMonitorMetrics creates and registers monitor metrics.
func NewMonitorMetrics(registry *prometheus.Registry) (*MonitorMetrics, error) {
	m := &MonitorMetrics{
		ReconciliationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_reconciliations_total",
			Help: "Total number of stats reconciliation runs",
		}),
		ReconciliationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_reconciliation_errors_total",
			Help: "Total number of failed reconciliation cycles",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_events_broadcast_total",
			Help: "Total number of events broadcast to observers, by type",
		}, []string{"type"}),
		LogSizeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parkwatch_log_size_bytes",
			Help: "Current byte size of each monitored log file",
		}, []string{"table"}),
	}
	for _, c := range []prometheus.Collector{
		m.ReconciliationsTotal, m.ReconciliationErrors, m.EventsBroadcast, m.LogSizeBytes,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PaymentMetrics contains metrics for payment authorization.
type PaymentMetrics struct {
	PaymentsTotal      *prometheus.CounterVec
	AmountChargedTotal prometheus.Counter
	TerminalRequests   prometheus.Counter
	TerminalErrors     prometheus.Counter
}

// NewPaymentMetrics creates and registers payment metrics.
func NewPaymentMetrics(registry *prometheus.Registry) (*PaymentMetrics, error) {
	m := &PaymentMetrics{
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_payments_total",
			Help: "Total number of payment authorization attempts, by outcome",
		}, []string{"outcome"}),
		AmountChargedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_amount_charged_total",
			Help: "Total amount charged across all successful payments",
		}),
		TerminalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_terminal_requests_total",
			Help: "Total number of payment terminal protocol requests",
		}),
		TerminalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_terminal_errors_total",
			Help: "Total number of payment terminal protocol errors",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.PaymentsTotal, m.AmountChargedTotal, m.TerminalRequests, m.TerminalErrors,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SecurityMetrics contains metrics for exit verification and escalation.
type SecurityMetrics struct {
	ExitsTotal      *prometheus.CounterVec
	AlertsTotal     *prometheus.CounterVec
	IncidentReports prometheus.Counter
}

// NewSecurityMetrics creates and registers security metrics.
func NewSecurityMetrics(registry *prometheus.Registry) (*SecurityMetrics, error) {
	m := &SecurityMetrics{
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_exits_total",
			Help: "Total number of exit evaluations, by decision",
		}, []string{"decision"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwatch_security_alerts_total",
			Help: "Total number of security alerts raised, by tier",
		}, []string{"tier"}),
		IncidentReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_incident_reports_total",
			Help: "Total number of lockdown incident reports generated",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ExitsTotal, m.AlertsTotal, m.IncidentReports,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HTTPMetrics contains metrics for the web server and SSE stream.
type HTTPMetrics struct {
	SSEConnectionsActive prometheus.Gauge
	SSEConnectionsTotal  prometheus.Counter
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		SSEConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parkwatch_sse_connections_active",
			Help: "Number of currently connected SSE observers",
		}),
		SSEConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwatch_sse_connections_total",
			Help: "Total number of SSE observer connections accepted",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.SSEConnectionsActive, m.SSEConnectionsTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
