package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"transport"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"transport"})
	MailRecipientsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_mail_recipients_delivered_total",
		Help: "Total number of recipients accepted by the transport",
	}, []string{"transport"})

	// Template metrics. source is "override" or "default".
	TemplateRenders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_template_renders_total",
		Help: "Total number of email templates rendered",
	}, []string{"source"})
	TemplateRenderFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_template_render_failures_total",
		Help: "Total number of email template renders that failed",
	}, []string{"source"})

	// Audit metrics
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_audit_events_written_total",
		Help: "Total number of audit events accepted by a sink",
	}, []string{"sink"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcompose_audit_sink_errors_total",
		Help: "Total number of audit sink write errors by type",
	}, []string{"sink", "error_type"})
)

func init() {
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailRecipientsDelivered)
	prometheus.MustRegister(TemplateRenders)
	prometheus.MustRegister(TemplateRenderFailures)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditSinkErrors)
}

// WriteTextfile dumps the default registry in the text exposition format, for
// pickup by the node_exporter textfile collector. mailctl is short lived, so
// there is no endpoint to scrape.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
