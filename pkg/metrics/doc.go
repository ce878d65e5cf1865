// Package metrics defines Prometheus metrics for mail delivery, template
// rendering and the send audit trail.
package metrics
