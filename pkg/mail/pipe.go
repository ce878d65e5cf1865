package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

// PipeTransport hands messages to a local sendmail-compatible binary started
// in -bs mode, which speaks SMTP on its standard input and output.
type PipeTransport struct {
	command string
}

// NewPipeTransport appends " -bs" to the configured sendmail command.
func NewPipeTransport(sendmail string) *PipeTransport {
	return &PipeTransport{command: sendmail + " -bs"}
}

// Command is the shell command run for every Send.
func (p *PipeTransport) Command() string { return p.command }

// Send starts the command, delivers msg over the SMTP session and waits for
// the process to exit. Refused recipients are skipped; the message fails only
// when none is accepted. Cancelling ctx kills the process.
func (p *PipeTransport) Send(ctx context.Context, msg *gomail.Message) (int, error) {
	sess, err := startPipeSession(ctx, p.command)
	if err != nil {
		return 0, &TransportError{Transport: TransportPipe, Op: "start", Err: err}
	}
	if err := gomail.Send(sess, msg); err != nil {
		_ = sess.Close()
		return 0, &TransportError{Transport: TransportPipe, Op: "send", Err: err}
	}
	if err := sess.Close(); err != nil {
		return sess.accepted, &TransportError{Transport: TransportPipe, Op: "close", Err: err}
	}
	return sess.accepted, nil
}

type pipeSession struct {
	smtpSession
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	closed bool
}

func startPipeSession(ctx context.Context, command string) (*pipeSession, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(&pipeConn{Reader: stdout, WriteCloser: stdin}, "localhost")
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return nil, withStderr(err, stderr)
	}
	return &pipeSession{smtpSession: smtpSession{client: client}, cmd: cmd, stderr: stderr}, nil
}

// Close ends the session and reaps the process.
func (s *pipeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	quitErr := s.client.Quit()
	if quitErr != nil {
		_ = s.client.Close()
	}
	if err := s.cmd.Wait(); err != nil {
		return withStderr(err, s.stderr)
	}
	return quitErr
}

func withStderr(err error, stderr *bytes.Buffer) error {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// pipeConn adapts the process pipes to the net.Conn expected by net/smtp.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

func (c *pipeConn) Close() error                     { return c.WriteCloser.Close() }
func (c *pipeConn) LocalAddr() net.Addr              { return pipeAddr{} }
func (c *pipeConn) RemoteAddr() net.Addr             { return pipeAddr{} }
func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "sendmail" }
