// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/mailcompose/pkg/audit"
	"github.com/telekom/mailcompose/pkg/config"
	"github.com/telekom/mailcompose/pkg/i18n"
	"github.com/telekom/mailcompose/pkg/metrics"
	"github.com/telekom/mailcompose/pkg/system"
)

// DefaultModuleLocation is used when a TemplateRequest names no location.
const DefaultModuleLocation = "frontend"

const tracerName = "github.com/telekom/mailcompose/pkg/mail"

// Service composes one email and sends it through the transport selected at
// construction. It is not safe for concurrent use. Nothing prevents calling
// Send more than once; every call delivers the current message again.
type Service struct {
	cfg       config.Config
	transport Transport
	sender    Address
	message   *Message

	resolver   *TemplateResolver
	engine     Engine
	translator *i18n.Translator
	logger     *zap.SugaredLogger
	tracer     trace.Tracer
	audit      audit.Sink
}

// Option customizes a Service.
type Option func(*Service)

// WithAuditSink records an audit event for every Send. Sink failures are
// logged and counted but never fail the send.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.audit = sink }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEngine replaces the default html/template based engine.
func WithEngine(engine Engine) Option {
	return func(s *Service) { s.engine = engine }
}

func WithResolver(resolver *TemplateResolver) Option {
	return func(s *Service) { s.resolver = resolver }
}

// WithTracerProvider sets where Send spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithTranslator provides the catalogs behind the __ template function.
func WithTranslator(translator *i18n.Translator) Option {
	return func(s *Service) { s.translator = translator }
}

// New validates cfg, selects the transport and seeds the message with the
// default sender. Configuration errors are returned before anything is built.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Defaults(); err != nil {
		return nil, err
	}
	transport, sender, err := SelectTransport(cfg.Mail)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		transport: transport,
		sender:    sender,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = system.OrNop(s.logger).Named("mail")
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.resolver == nil {
		s.resolver = NewTemplateResolver(cfg.Paths)
	}
	if s.engine == nil {
		s.engine = NewTemplateEngine(cfg.Paths.TemplateExt, s.translator)
	}
	s.Reset()

	s.logger.Debugw("Mail transport selected",
		"transport", transport.String(),
		"from", sender.Address)
	return s, nil
}

// Transport returns the transport fixed at construction.
func (s *Service) Transport() Transport { return s.transport }

// DefaultSender is the From address every new message starts with.
func (s *Service) DefaultSender() Address { return s.sender }

// Message returns a copy of the message as composed so far.
func (s *Service) Message() Message { return s.message.clone() }

// Reset starts a new message holding only the default sender.
func (s *Service) Reset() *Service {
	s.message = newMessage(s.sender)
	return s
}

func (s *Service) SetSubject(subject string) *Service {
	s.message.Subject = subject
	return s
}

// BodyOption sets body attributes alongside SetBody.
type BodyOption func(*Message)

func WithContentType(contentType string) BodyOption {
	return func(m *Message) { m.ContentType = contentType }
}

func WithCharset(charset string) BodyOption {
	return func(m *Message) { m.Charset = charset }
}

// SetBody replaces the body. Content type and charset keep their current
// values unless given.
func (s *Service) SetBody(body string, opts ...BodyOption) *Service {
	s.message.Body = body
	for _, opt := range opts {
		opt(s.message)
	}
	return s
}

func (s *Service) SetCharset(charset string) *Service {
	s.message.Charset = charset
	return s
}

func (s *Service) SetContentType(contentType string) *Service {
	s.message.ContentType = contentType
	return s
}

func (s *Service) AddTo(address, name string) error {
	return s.addAddress("To", &s.message.To, address, name)
}

func (s *Service) AddCc(address, name string) error {
	return s.addAddress("Cc", &s.message.Cc, address, name)
}

func (s *Service) AddBcc(address, name string) error {
	return s.addAddress("Bcc", &s.message.Bcc, address, name)
}

func (s *Service) AddReplyTo(address, name string) error {
	return s.addAddress("Reply-To", &s.message.ReplyTo, address, name)
}

// AddFrom appends a sender; the default sender stays first.
func (s *Service) AddFrom(address, name string) error {
	return s.addAddress("From", &s.message.From, address, name)
}

func (s *Service) addAddress(header string, list *[]Address, address, name string) error {
	addr, err := parseAddress(header, address, name)
	if err != nil {
		return err
	}
	*list = append(*list, addr)
	return nil
}

// Attach adds a file attachment. The file must be readable now; its content
// is read when the message is sent.
func (s *Service) Attach(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &AttachmentNotFoundError{Path: path, Err: err}
	}
	info, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return &AttachmentNotFoundError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &AttachmentNotFoundError{Path: path, Err: errors.New("is a directory")}
	}
	s.message.Attachments = append(s.message.Attachments, path)
	return nil
}

// TemplateRequest selects an email template and the data it renders.
type TemplateRequest struct {
	Module   string
	Template string
	// ModuleLocation defaults to "frontend".
	ModuleLocation string
	// Locale defaults to website.language.
	Locale string
	Data   any
	// ContentType defaults to "text/html".
	ContentType string
	// Charset defaults to "utf-8".
	Charset string
}

func (s *Service) withDefaults(req TemplateRequest) TemplateRequest {
	if req.ModuleLocation == "" {
		req.ModuleLocation = DefaultModuleLocation
	}
	if req.Locale == "" {
		req.Locale = s.cfg.Website.Language
	}
	if req.ContentType == "" {
		req.ContentType = "text/html"
	}
	if req.Charset == "" {
		req.Charset = DefaultCharset
	}
	return req
}

// ResolveTemplate reports which template file a request would render.
func (s *Service) ResolveTemplate(req TemplateRequest) ResolvedTemplate {
	req = s.withDefaults(req)
	return s.resolver.Resolve(req.Module, req.Template, req.ModuleLocation, req.Locale, s.cfg.FrontendTemplate.DefaultTemplate)
}

// RenderTemplate renders a request without touching the message.
func (s *Service) RenderTemplate(req TemplateRequest) (string, error) {
	req = s.withDefaults(req)
	target := s.ResolveTemplate(req)
	s.logger.Debugw("Rendering email template",
		"module", req.Module,
		"template", req.Template,
		"locale", req.Locale,
		"source", target.Source(),
		"path", target.Path(s.resolver.Ext()))

	body, err := s.engine.Render(target, req.ContentType, Bindings{
		BaseURL:  s.cfg.Website.BaseURL,
		SiteName: s.cfg.Website.SiteName,
		Locale:   req.Locale,
		Data:     req.Data,
	})
	if err != nil {
		metrics.TemplateRenderFailures.WithLabelValues(target.Source()).Inc()
		return "", err
	}
	metrics.TemplateRenders.WithLabelValues(target.Source()).Inc()
	return body, nil
}

// SetTemplate renders a request and makes the result the body, replacing any
// body set before.
func (s *Service) SetTemplate(req TemplateRequest) error {
	req = s.withDefaults(req)
	body, err := s.RenderTemplate(req)
	if err != nil {
		return err
	}
	s.SetBody(body, WithContentType(req.ContentType), WithCharset(req.Charset))
	return nil
}

// Send delivers the current message and returns the number of recipients the
// transport accepted. There is a single attempt; the message is left as is so
// it can be sent again.
func (s *Service) Send(ctx context.Context) (int, error) {
	kind := string(s.transport.Kind)
	ctx, span := s.tracer.Start(ctx, "mail.Send", trace.WithAttributes(
		attribute.String("mail.transport", kind),
		attribute.Int("mail.recipients", len(s.message.Recipients())),
		attribute.Int("mail.attachments", len(s.message.Attachments)),
	))
	defer span.End()

	gm := s.message.toGomail()
	delivered, err := s.transport.send(ctx, gm)
	span.SetAttributes(attribute.Int("mail.delivered", delivered))
	s.recordAudit(ctx, gm.GetHeader("Message-ID"), delivered, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		metrics.MailSendFailure.WithLabelValues(kind).Inc()
		s.logger.Debugw("Mail send failed", "transport", kind, "error", err)
		return delivered, err
	}

	metrics.MailSendSuccess.WithLabelValues(kind).Inc()
	metrics.MailRecipientsDelivered.WithLabelValues(kind).Add(float64(delivered))
	s.logger.Infow("Mail sent",
		"transport", kind,
		"recipients", delivered,
		"subject", s.message.Subject)
	return delivered, nil
}

func (s *Service) recordAudit(ctx context.Context, messageID []string, delivered int, sendErr error) {
	if s.audit == nil {
		return
	}
	event := audit.NewEvent(audit.EventMailSent)
	if sendErr != nil {
		event.Type = audit.EventMailFailed
		event.Error = sendErr.Error()
	}
	event.Transport = string(s.transport.Kind)
	if len(messageID) > 0 {
		event.MessageID = messageID[0]
	}
	if len(s.message.From) > 0 {
		event.From = s.message.From[0].Address
	}
	event.Subject = s.message.Subject
	event.Recipients = len(s.message.Recipients())
	event.Delivered = delivered
	event.Attachments = len(s.message.Attachments)

	if err := s.audit.Write(ctx, event); err != nil {
		s.logger.Warnw("Failed to record mail audit event",
			"sink", s.audit.Name(),
			"event_id", event.ID,
			"error", err)
	}
}
