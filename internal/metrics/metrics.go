package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// ChatMetrics holds the Prometheus metrics observed by the chat flow
type ChatMetrics struct {
	// PIIDetectionsTotal counts masked PII values by category.
	PIIDetectionsTotal *prometheus.CounterVec
	// MessagesScannedTotal counts user messages passed through masking.
	MessagesScannedTotal prometheus.Counter
	// MessagesMaskedTotal counts user messages that contained PII.
	MessagesMaskedTotal prometheus.Counter
	// EscalationsTotal counts conversations handed to a human.
	EscalationsTotal prometheus.Counter
	// ResponderErrorsTotal counts failed AI responder calls.
	ResponderErrorsTotal prometheus.Counter
	// RateLimitedTotal counts rejected message submissions.
	RateLimitedTotal prometheus.Counter
}

// New creates chat metrics registered with reg
func New(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)

	return &ChatMetrics{
		PIIDetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_pii_detections_total",
			Help: "Total number of PII values masked, by category",
		}, []string{"category"}),

		MessagesScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_scanned_total",
			Help: "Total number of user messages scanned for PII",
		}),

		MessagesMaskedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_masked_total",
			Help: "Total number of user messages that contained PII",
		}),

		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_escalations_total",
			Help: "Total number of conversations escalated to a human agent",
		}),

		ResponderErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_responder_errors_total",
			Help: "Total number of failed AI responder calls",
		}),

		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Total number of message submissions rejected by the rate limiter",
		}),
	}
}

// Initialize pre-creates the per-category series so they appear at startup
func (m *ChatMetrics) Initialize() {
	for _, category := range privacy.Categories() {
		m.PIIDetectionsTotal.WithLabelValues(string(category))
	}
}

// ObserveMask records the outcome of masking one user message
func (m *ChatMetrics) ObserveMask(result privacy.MaskResult) {
	m.MessagesScannedTotal.Inc()
	if !result.HasPII {
		return
	}

	m.MessagesMaskedTotal.Inc()
	for _, d := range result.Detections {
		m.PIIDetectionsTotal.WithLabelValues(string(d.Type)).Inc()
	}
}

// RecordEscalation increments the escalation counter
func (m *ChatMetrics) RecordEscalation() {
	m.EscalationsTotal.Inc()
}

// RecordResponderError increments the responder error counter
func (m *ChatMetrics) RecordResponderError() {
	m.ResponderErrorsTotal.Inc()
}

// RecordRateLimited increments the rate-limited counter
func (m *ChatMetrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}
