// Package metrics holds the MetricsRecorder adapters: Prometheus for
// production, no-op for disabled metrics and tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lb-conn/wssecurity/application/ports"
	"github.com/lb-conn/wssecurity/domain"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "wssecurity"

var (
	_ ports.MetricsRecorder = (*PrometheusRecorder)(nil)
	_ ports.MetricsRecorder = (*NoopRecorder)(nil)
)

// NoopRecorder is a no-op implementation for when metrics are disabled.
type NoopRecorder struct{}

// NewNoopRecorder creates a new no-op metrics recorder.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

// RecordSign is a no-op.
func (n *NoopRecorder) RecordSign(success bool) {}

// RecordVerification is a no-op.
func (n *NoopRecorder) RecordVerification(verdict domain.Verdict, duration time.Duration) {}

// PrometheusRecorder records metrics using Prometheus.
type PrometheusRecorder struct {
	signaturesTotal      *prometheus.CounterVec
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram
}

// NewPrometheusRecorder registers the collectors on reg under namespace.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	signaturesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signatures_total",
		Help:      "Total outbound signing attempts",
	}, []string{"result"})

	verificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Total inbound verifications by result and rejection reason",
	}, []string{"result", "reason"})

	verificationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verification_duration_seconds",
		Help:      "Time spent verifying inbound messages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	reg.MustRegister(signaturesTotal, verificationsTotal, verificationDuration)

	return &PrometheusRecorder{
		signaturesTotal:      signaturesTotal,
		verificationsTotal:   verificationsTotal,
		verificationDuration: verificationDuration,
	}
}

// RecordSign records an outbound signing attempt.
func (p *PrometheusRecorder) RecordSign(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.signaturesTotal.WithLabelValues(result).Inc()
}

// RecordVerification records a verdict and how long it took.
func (p *PrometheusRecorder) RecordVerification(verdict domain.Verdict, duration time.Duration) {
	result := "rejected"
	reason := verdict.Reason.String()
	if verdict.Accepted {
		result = "accepted"
		reason = "none"
	}
	p.verificationsTotal.WithLabelValues(result, reason).Inc()
	p.verificationDuration.Observe(duration.Seconds())
}
