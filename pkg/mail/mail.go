package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/telekom/mailcompose/pkg/config"
)

// TransportKind tags the variant held by a Transport.
type TransportKind string

const (
	TransportSMTP TransportKind = "smtp"
	TransportPipe TransportKind = "pipe"
)

// Transport carries messages out of the process. Exactly one of SMTP and
// Pipe is set, matching Kind.
type Transport struct {
	Kind TransportKind
	SMTP *SMTPTransport
	Pipe *PipeTransport
}

// SelectTransport builds the transport and default sender for cfg. SMTP mail
// is sent as (smtpUser, mailName); everything else goes through the sendmail
// command as (mailFrom, mailName).
func SelectTransport(cfg config.Mail) (Transport, Address, error) {
	if err := cfg.Validate(); err != nil {
		return Transport{}, Address{}, err
	}

	if cfg.IsSMTP() {
		from, err := defaultSender("mail.smtpUser", cfg.SMTPUser, cfg.MailName)
		if err != nil {
			return Transport{}, Address{}, err
		}
		return Transport{Kind: TransportSMTP, SMTP: NewSMTPTransport(cfg)}, from, nil
	}

	from, err := defaultSender("mail.mailFrom", cfg.MailFrom, cfg.MailName)
	if err != nil {
		return Transport{}, Address{}, err
	}
	return Transport{Kind: TransportPipe, Pipe: NewPipeTransport(cfg.SendMail)}, from, nil
}

func defaultSender(field, address, name string) (Address, error) {
	from, err := parseAddress("From", address, name)
	if err != nil {
		return Address{}, &ConfigurationError{
			Field:  field,
			Reason: fmt.Sprintf("%q is not a valid sender address", address),
		}
	}
	return from, nil
}

func (t Transport) String() string {
	switch t.Kind {
	case TransportSMTP:
		return fmt.Sprintf("smtp://%s:%d", t.SMTP.Host(), t.SMTP.Port())
	case TransportPipe:
		return "pipe:" + t.Pipe.Command()
	}
	return "none"
}

// send hands msg to the selected variant and returns the accepted recipient count.
func (t Transport) send(ctx context.Context, msg *gomail.Message) (int, error) {
	switch t.Kind {
	case TransportSMTP:
		return t.SMTP.Send(ctx, msg)
	case TransportPipe:
		return t.Pipe.Send(ctx, msg)
	}
	return 0, &TransportError{Transport: t.Kind, Op: "send", Err: errors.New("no transport selected")}
}

// ErrSTARTTLSRequired is returned when smtpSecure is "tls" and the server
// does not offer STARTTLS.
var ErrSTARTTLSRequired = errors.New("server does not offer STARTTLS")

const smtpDialTimeout = 10 * time.Second

// SMTPTransport delivers through an SMTP server. The message itself is
// encoded by gomail; the session is driven here so that refused recipients
// can be skipped and the security mode enforced.
type SMTPTransport struct {
	host      string
	port      int
	username  string
	password  string
	security  string
	tlsConfig *tls.Config
}

// NewSMTPTransport configures the transport for cfg. smtpSecure "ssl" forces
// implicit TLS, "tls" requires STARTTLS, and an empty value upgrades with
// STARTTLS only when the server offers it.
func NewSMTPTransport(cfg config.Mail) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		security: cfg.SMTPSecure,
		// #nosec G402 -- InsecureSkipVerify is an explicit opt-in for internal relays
		tlsConfig: &tls.Config{ServerName: cfg.SMTPHost, InsecureSkipVerify: cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS12},
	}
}

func (s *SMTPTransport) Host() string     { return s.host }
func (s *SMTPTransport) Port() int        { return s.port }
func (s *SMTPTransport) Username() string { return s.username }

// SSL reports whether the connection uses implicit TLS.
func (s *SMTPTransport) SSL() bool { return s.security == "ssl" }

// RequireTLS reports whether the session fails unless STARTTLS succeeds.
func (s *SMTPTransport) RequireTLS() bool { return s.security == "tls" }

// Send dials, delivers msg and quits. Refused recipients are skipped like on
// the pipe transport; the message fails only when none is accepted.
// Cancelling ctx aborts the connection.
func (s *SMTPTransport) Send(ctx context.Context, msg *gomail.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &TransportError{Transport: TransportSMTP, Op: "dial", Err: err}
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return 0, &TransportError{Transport: TransportSMTP, Op: "dial", Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return 0, &TransportError{Transport: TransportSMTP, Op: "dial", Err: err}
	}
	if err := s.startTLS(client); err != nil {
		_ = client.Close()
		return 0, &TransportError{Transport: TransportSMTP, Op: "starttls", Err: err}
	}
	if err := s.authenticate(client); err != nil {
		_ = client.Close()
		return 0, &TransportError{Transport: TransportSMTP, Op: "auth", Err: err}
	}

	sess := &smtpSession{client: client}
	if err := gomail.Send(sess, msg); err != nil {
		_ = client.Close()
		return 0, &TransportError{Transport: TransportSMTP, Op: "send", Err: err}
	}
	if err := client.Quit(); err != nil {
		return sess.accepted, &TransportError{Transport: TransportSMTP, Op: "close", Err: err}
	}
	return sess.accepted, nil
}

func (s *SMTPTransport) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	if s.SSL() {
		return (&tls.Dialer{NetDialer: dialer, Config: s.tlsConfig.Clone()}).DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (s *SMTPTransport) startTLS(c *smtp.Client) error {
	if s.SSL() {
		return nil
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		return c.StartTLS(s.tlsConfig.Clone())
	}
	if s.RequireTLS() {
		return ErrSTARTTLSRequired
	}
	return nil
}

// authenticate logs in when the server offers AUTH, preferring CRAM-MD5,
// then PLAIN, then LOGIN. PLAIN and LOGIN refuse to run unencrypted against
// anything but localhost.
func (s *SMTPTransport) authenticate(c *smtp.Client) error {
	if s.username == "" {
		return nil
	}
	ok, mechanisms := c.Extension("AUTH")
	if !ok {
		return nil
	}
	var auth smtp.Auth
	switch {
	case strings.Contains(mechanisms, "CRAM-MD5"):
		auth = smtp.CRAMMD5Auth(s.username, s.password)
	case strings.Contains(mechanisms, "PLAIN"):
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	default:
		auth = &loginAuth{username: s.username, password: s.password, host: s.host}
	}
	return c.Auth(auth)
}

type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch {
	case bytes.EqualFold(fromServer, []byte("Username:")):
		return []byte(a.username), nil
	case bytes.EqualFold(fromServer, []byte("Password:")):
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}

// smtpSession is a gomail.Sender over an SMTP client. Refused recipients are
// skipped; the message fails only when none is accepted.
type smtpSession struct {
	client   *smtp.Client
	accepted int
}

func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	accepted := 0
	var refused []error
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			refused = append(refused, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		_ = s.client.Reset()
		return fmt.Errorf("no recipient accepted: %w", errors.Join(refused...))
	}

	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	s.accepted += accepted
	return nil
}
