package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Values of the "source" label on TokenAcquisitions.
const (
	SourceSilent   = "silent"
	SourceCache    = "cache"
	SourceFallback = "fallback"
	SourceError    = "error"
)

var (
	TokenAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenctl_token_acquisitions_total",
		Help: "Total number of token requests grouped by flow and by where the token came from",
	}, []string{"flow", "source"})
	FallbackFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenctl_fallback_failures_total",
		Help: "Total number of failed device code or interactive flows",
	}, []string{"flow", "reason"})
	// Device code flows wait for a human, so buckets reach the 15 minute
	// device code lifetime.
	FallbackDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenctl_fallback_duration_seconds",
		Help:    "Duration of device code and interactive flows",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"flow"})
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenctl_provider_requests_total",
		Help: "Total number of identity provider operations grouped by outcome",
	}, []string{"operation", "outcome"})
)

func init() {
	prometheus.MustRegister(TokenAcquisitions)
	prometheus.MustRegister(FallbackFailures)
	prometheus.MustRegister(FallbackDuration)
	prometheus.MustRegister(ProviderRequests)
}

// WriteTextfile dumps every registered metric in the Prometheus text format,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
