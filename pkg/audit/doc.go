// Package audit records one event per send attempt and hands it to sinks:
// the structured log and, when configured, a Kafka topic.
package audit
