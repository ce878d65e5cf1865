package mail

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/telekom/mailcompose/pkg/config"
)

func smtpMailConfig() config.Mail {
	return config.Mail{
		Type:       "smtp",
		SMTPHost:   "smtp.example.com",
		SMTPPort:   587,
		SMTPSecure: "tls",
		SMTPUser:   "robot@example.com",
		SMTPPass:   "password123",
		MailFrom:   "ignored@example.com",
		MailName:   "Example Shop",
	}
}

func pipeMailConfig() config.Mail {
	return config.Mail{
		Type:     "other",
		SendMail: "/usr/sbin/sendmail",
		MailFrom: "noreply@example.com",
		MailName: "Example Shop",
		SMTPUser: "ignored@example.com",
	}
}

func TestSelectTransport_SMTP(t *testing.T) {
	cfg := smtpMailConfig()

	transport, from, err := SelectTransport(cfg)
	require.NoError(t, err)

	assert.Equal(t, TransportSMTP, transport.Kind)
	require.NotNil(t, transport.SMTP)
	assert.Nil(t, transport.Pipe)
	assert.Equal(t, cfg.SMTPUser, transport.SMTP.Username())
	assert.Equal(t, "smtp.example.com", transport.SMTP.Host())
	assert.Equal(t, 587, transport.SMTP.Port())
	assert.False(t, transport.SMTP.SSL())
	assert.Equal(t, Address{Address: cfg.SMTPUser, Name: cfg.MailName}, from)
	assert.Equal(t, "smtp://smtp.example.com:587", transport.String())
}

func TestSelectTransport_SMTPSecurity(t *testing.T) {
	tests := []struct {
		name           string
		secure         string
		port           int
		wantSSL        bool
		wantRequireTLS bool
	}{
		{name: "ssl", secure: "ssl", port: 465, wantSSL: true},
		{name: "ssl on custom port", secure: "ssl", port: 2465, wantSSL: true},
		{name: "starttls", secure: "tls", port: 587, wantRequireTLS: true},
		{name: "opportunistic", secure: "", port: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smtpMailConfig()
			cfg.SMTPSecure = tt.secure
			cfg.SMTPPort = tt.port

			transport, _, err := SelectTransport(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSSL, transport.SMTP.SSL())
			assert.Equal(t, tt.wantRequireTLS, transport.SMTP.RequireTLS())
		})
	}
}

func TestSelectTransport_Pipe(t *testing.T) {
	for _, mailType := range []string{"other", "sendmail", ""} {
		t.Run("mailType="+mailType, func(t *testing.T) {
			cfg := pipeMailConfig()
			cfg.Type = mailType

			transport, from, err := SelectTransport(cfg)
			require.NoError(t, err)

			assert.Equal(t, TransportPipe, transport.Kind)
			require.NotNil(t, transport.Pipe)
			assert.Nil(t, transport.SMTP)
			assert.True(t, strings.HasSuffix(transport.Pipe.Command(), " -bs"))
			assert.Equal(t, "/usr/sbin/sendmail -bs", transport.Pipe.Command())
			assert.Equal(t, Address{Address: cfg.MailFrom, Name: cfg.MailName}, from)
		})
	}
}

func TestSelectTransport_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Mail)
		wantField string
	}{
		{name: "smtp without host", mutate: func(m *config.Mail) { *m = smtpMailConfig(); m.SMTPHost = "" }, wantField: "mail.smtpHost"},
		{name: "smtp without password", mutate: func(m *config.Mail) { *m = smtpMailConfig(); m.SMTPPass = "" }, wantField: "mail.smtpPass"},
		{name: "smtp user is not an address", mutate: func(m *config.Mail) { *m = smtpMailConfig(); m.SMTPUser = "apikey" }, wantField: "mail.smtpUser"},
		{name: "pipe without sendmail", mutate: func(m *config.Mail) { *m = pipeMailConfig(); m.SendMail = "" }, wantField: "mail.sendMail"},
		{name: "pipe without sender", mutate: func(m *config.Mail) { *m = pipeMailConfig(); m.MailFrom = "" }, wantField: "mail.mailFrom"},
		{name: "pipe with malformed sender", mutate: func(m *config.Mail) { *m = pipeMailConfig(); m.MailFrom = "not-an-address" }, wantField: "mail.mailFrom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config.Mail
			tt.mutate(&cfg)

			transport, _, err := SelectTransport(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Equal(t, Transport{}, transport, "no transport may be built on error")

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestTransport_SendWithoutSelection(t *testing.T) {
	_, err := Transport{}.send(context.Background(), gomail.NewMessage())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "none", Transport{}.String())
}

type testSMTPServer struct {
	host string
	port int

	extensions []string
	reject     string

	mu         sync.Mutex
	commands   []string
	mailFrom   string
	recipients []string
	data       string
	login      []string
}

type testSMTPOption func(*testSMTPServer)

// withExtensions adds EHLO keywords such as "AUTH LOGIN" or "STARTTLS".
func withExtensions(ext ...string) testSMTPOption {
	return func(s *testSMTPServer) { s.extensions = append(s.extensions, ext...) }
}

// withRejectedRecipients answers 550 to every RCPT containing substr.
func withRejectedRecipients(substr string) testSMTPOption {
	return func(s *testSMTPServer) { s.reject = substr }
}

func (s *testSMTPServer) snapshot() (string, []string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mailFrom, append([]string(nil), s.recipients...), s.data
}

func (s *testSMTPServer) verbs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.commands, func(c string, _ int) string {
		verb, _, _ := strings.Cut(c, " ")
		return strings.ToUpper(verb)
	})
}

// startTestSMTPServer starts a minimal SMTP server on a random port that
// accepts one connection and records the envelope and data of the messages
// sent over it. It only implements the commands the transport uses.
func startTestSMTPServer(t *testing.T, opts ...testSMTPOption) (*testSMTPServer, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testSMTPServer{host: "127.0.0.1", port: ln.Addr().(*net.TCPAddr).Port}
	for _, opt := range opts {
		opt(srv)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		readLine := func() (string, bool) {
			line, err := r.ReadString('\n')
			return strings.TrimSpace(line), err == nil
		}
		fmt.Fprintf(conn, "220 localhost Test SMTP Service Ready\r\n")
		for {
			line, ok := readLine()
			if !ok {
				return
			}
			srv.mu.Lock()
			srv.commands = append(srv.commands, line)
			srv.mu.Unlock()
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				fmt.Fprintf(conn, "250-localhost Hello\r\n")
				for _, ext := range srv.extensions {
					fmt.Fprintf(conn, "250-%s\r\n", ext)
				}
				fmt.Fprintf(conn, "250 OK\r\n")
			case line == "AUTH LOGIN":
				fmt.Fprintf(conn, "334 VXNlcm5hbWU6\r\n")
				user, _ := readLine()
				fmt.Fprintf(conn, "334 UGFzc3dvcmQ6\r\n")
				pass, _ := readLine()
				srv.mu.Lock()
				srv.login = []string{user, pass}
				srv.mu.Unlock()
				fmt.Fprintf(conn, "235 2.7.0 Authentication successful\r\n")
			case strings.HasPrefix(line, "MAIL FROM:"):
				srv.mu.Lock()
				srv.mailFrom = envelopeAddress(line)
				srv.mu.Unlock()
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.HasPrefix(line, "RCPT TO:"):
				addr := envelopeAddress(line)
				if srv.reject != "" && strings.Contains(addr, srv.reject) {
					fmt.Fprintf(conn, "550 5.1.1 Mailbox unavailable\r\n")
					continue
				}
				srv.mu.Lock()
				srv.recipients = append(srv.recipients, addr)
				srv.mu.Unlock()
				fmt.Fprintf(conn, "250 OK\r\n")
			case line == "DATA":
				fmt.Fprintf(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
				var data strings.Builder
				for {
					dline, derr := r.ReadString('\n')
					if derr != nil || dline == ".\r\n" {
						break
					}
					data.WriteString(dline)
				}
				srv.mu.Lock()
				srv.data = data.String()
				srv.mu.Unlock()
				fmt.Fprintf(conn, "250 OK: queued as 12345\r\n")
			case line == "QUIT":
				fmt.Fprintf(conn, "221 Bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "250 OK\r\n")
			}
		}
	}()

	return srv, func() {
		ln.Close()
		wg.Wait()
	}
}

func envelopeAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}

func TestSMTPTransport_Send_HappyPath(t *testing.T) {
	srv, stop := startTestSMTPServer(t)
	defer stop()

	cfg := smtpMailConfig()
	cfg.SMTPHost = srv.host
	cfg.SMTPPort = srv.port
	cfg.SMTPSecure = ""

	msg := newMessage(Address{Address: cfg.SMTPUser, Name: cfg.MailName})
	msg.Subject = "Hello"
	msg.Body = "<p>body</p>"
	msg.ContentType = "text/html"
	msg.To = []Address{{Address: "recipient@example.com"}, {Address: "second@example.com"}}
	msg.Bcc = []Address{{Address: "audit@example.com"}}

	delivered, err := NewSMTPTransport(cfg).Send(context.Background(), msg.toGomail())
	require.NoError(t, err, "expected Send to succeed against test SMTP server")
	stop()

	assert.Equal(t, 3, delivered)
	from, rcpts, data := srv.snapshot()
	assert.Equal(t, "robot@example.com", from)
	assert.Equal(t, []string{"recipient@example.com", "second@example.com", "audit@example.com"}, rcpts)
	assert.Contains(t, data, "Subject: Hello")
	assert.Contains(t, data, "<p>body</p>")
	assert.NotContains(t, data, "audit@example.com", "Bcc must not leak into headers")
}

func TestSMTPTransport_Send_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := smtpMailConfig()
	cfg.SMTPHost = "127.0.0.1"
	cfg.SMTPPort = port

	msg := newMessage(Address{Address: cfg.SMTPUser})
	msg.To = []Address{{Address: "recipient@example.com"}}

	delivered, err := NewSMTPTransport(cfg).Send(context.Background(), msg.toGomail())
	assert.Zero(t, delivered)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, TransportSMTP, tErr.Transport)
	assert.Equal(t, "dial", tErr.Op)
}

func TestSMTPTransport_Send_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSMTPTransport(smtpMailConfig()).Send(ctx, gomail.NewMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrTransport)
}

func testSMTPConfig(srv *testSMTPServer, secure string) config.Mail {
	cfg := smtpMailConfig()
	cfg.SMTPHost = srv.host
	cfg.SMTPPort = srv.port
	cfg.SMTPSecure = secure
	return cfg
}

func TestSMTPTransport_Send_RequiredSTARTTLSMissing(t *testing.T) {
	srv, stop := startTestSMTPServer(t, withExtensions("AUTH LOGIN PLAIN"))
	defer stop()

	cfg := testSMTPConfig(srv, "tls")
	msg := newMessage(Address{Address: cfg.SMTPUser})
	msg.To = []Address{{Address: "recipient@example.com"}}

	delivered, err := NewSMTPTransport(cfg).Send(context.Background(), msg.toGomail())
	stop()

	assert.Zero(t, delivered)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrSTARTTLSRequired)

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "starttls", tErr.Op)

	verbs := srv.verbs()
	assert.NotContains(t, verbs, "AUTH", "credentials must not be sent without TLS")
	assert.NotContains(t, verbs, "MAIL")
}

func TestSMTPTransport_Send_RefusedRecipients(t *testing.T) {
	tests := []struct {
		name          string
		to            []Address
		wantDelivered int
		wantErr       bool
		wantRcpts     []string
	}{
		{
			name:          "one refused",
			to:            []Address{{Address: "recipient@example.com"}, {Address: "blocked@example.com"}},
			wantDelivered: 1,
			wantRcpts:     []string{"recipient@example.com"},
		},
		{
			name:    "all refused",
			to:      []Address{{Address: "blocked@example.com"}, {Address: "blocked-too@example.com"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stop := startTestSMTPServer(t, withRejectedRecipients("blocked"))
			defer stop()

			cfg := testSMTPConfig(srv, "")
			msg := newMessage(Address{Address: cfg.SMTPUser})
			msg.Subject = "Partial"
			msg.To = tt.to

			delivered, err := NewSMTPTransport(cfg).Send(context.Background(), msg.toGomail())
			stop()

			assert.Equal(t, tt.wantDelivered, delivered)
			_, rcpts, data := srv.snapshot()
			if tt.wantErr {
				var tErr *TransportError
				require.True(t, errors.As(err, &tErr))
				assert.Equal(t, "send", tErr.Op)
				assert.Contains(t, err.Error(), "no recipient accepted")
				assert.Empty(t, data)
				assert.NotContains(t, srv.verbs(), "DATA")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRcpts, rcpts)
			assert.Contains(t, data, "Subject: Partial")
		})
	}
}

func TestSMTPTransport_Send_LoginAuth(t *testing.T) {
	srv, stop := startTestSMTPServer(t, withExtensions("AUTH LOGIN"))
	defer stop()

	cfg := testSMTPConfig(srv, "")
	msg := newMessage(Address{Address: cfg.SMTPUser})
	msg.To = []Address{{Address: "recipient@example.com"}}

	delivered, err := NewSMTPTransport(cfg).Send(context.Background(), msg.toGomail())
	require.NoError(t, err)
	stop()

	assert.Equal(t, 1, delivered)
	srv.mu.Lock()
	login := srv.login
	srv.mu.Unlock()
	require.Len(t, login, 2)
	user, err := base64.StdEncoding.DecodeString(login[0])
	require.NoError(t, err)
	pass, err := base64.StdEncoding.DecodeString(login[1])
	require.NoError(t, err)
	assert.Equal(t, cfg.SMTPUser, string(user))
	assert.Equal(t, cfg.SMTPPass, string(pass))
}

func TestLoginAuth_Start(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		server  smtp.ServerInfo
		wantErr string
	}{
		{name: "tls", host: "smtp.example.com", server: smtp.ServerInfo{Name: "smtp.example.com", TLS: true}},
		{name: "localhost without tls", host: "localhost", server: smtp.ServerInfo{Name: "localhost"}},
		{name: "remote without tls", host: "smtp.example.com", server: smtp.ServerInfo{Name: "smtp.example.com"}, wantErr: "unencrypted connection"},
		{name: "host mismatch", host: "smtp.example.com", server: smtp.ServerInfo{Name: "mx.example.net", TLS: true}, wantErr: "wrong host name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &loginAuth{username: "robot@example.com", password: "secret", host: tt.host}
			mech, resp, err := auth.Start(&tt.server)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "LOGIN", mech)
			assert.Nil(t, resp)
		})
	}
}

func TestLoginAuth_Next(t *testing.T) {
	auth := &loginAuth{username: "robot@example.com", password: "secret", host: "localhost"}

	resp, err := auth.Next([]byte("Username:"), true)
	require.NoError(t, err)
	assert.Equal(t, "robot@example.com", string(resp))

	resp, err = auth.Next([]byte("password:"), true)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(resp))

	resp, err = auth.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = auth.Next([]byte("Token:"), true)
	assert.Error(t, err)
}
