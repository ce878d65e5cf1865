// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/telekom/mailcompose/pkg/config"
	"github.com/telekom/mailcompose/pkg/metrics"
	"github.com/telekom/mailcompose/pkg/system"
)

// Sink defines the interface for audit event destinations.
type Sink interface {
	// Write sends an audit event to the sink.
	Write(ctx context.Context, event *Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes audit events to a structured logger.
type LogSink struct {
	logger *zap.SugaredLogger
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: system.OrNop(logger).Named("audit")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	kv := []any{
		"event_id", event.ID,
		"event_type", string(event.Type),
		"timestamp", event.Timestamp,
		"transport", event.Transport,
		"from", event.From,
		"subject", event.Subject,
		"recipients", event.Recipients,
		"delivered", event.Delivered,
	}
	if event.MessageID != "" {
		kv = append(kv, "message_id", event.MessageID)
	}
	if event.Attachments > 0 {
		kv = append(kv, "attachments", event.Attachments)
	}
	if event.Error != "" {
		kv = append(kv, "error", event.Error)
		s.logger.Warnw("Mail audit event", kv...)
	} else {
		s.logger.Infow("Mail audit event", kv...)
	}
	metrics.AuditEventsWritten.WithLabelValues(s.Name()).Inc()
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }

// MultiSink fans events out to several sinks. Every sink is written even
// when an earlier one fails; the errors are joined.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Name() string { return "multi" }

// FromConfig builds the sinks enabled in cfg. It returns nil when none are.
func FromConfig(cfg config.Audit, logger *zap.SugaredLogger) (Sink, error) {
	var sinks MultiSink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.Kafka.Enabled() {
		kcfg, err := KafkaSinkConfigFrom(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		k, err := NewKafkaSink(kcfg, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
