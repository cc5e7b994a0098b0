// Package metrics defines Prometheus metrics for tokenctl, covering token
// acquisitions by flow and source, fallback flow failures and durations, and
// identity provider requests.
package metrics
