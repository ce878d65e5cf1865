// Package mailtest provides a fake "sendmail -bs" for tests of code that
// sends through the pipe transport.
//
// The fake runs inside the test binary itself. A package using it declares
//
//	func TestHelperSendmail(t *testing.T) { mailtest.HelperMain() }
//
// and configures mail.sendMail with the command returned by Sendmail.
package mailtest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"al.essio.dev/pkg/shellescape"
	"github.com/stretchr/testify/require"
)

const (
	envEnabled = "MAILCOMPOSE_FAKE_SENDMAIL"
	envCapture = "MAILCOMPOSE_FAKE_SENDMAIL_CAPTURE"
	envReject  = "MAILCOMPOSE_FAKE_SENDMAIL_REJECT"
)

// HelperMain serves one SMTP session on stdin/stdout and exits when the
// process was started through Sendmail. Otherwise it returns immediately.
func HelperMain() {
	if os.Getenv(envEnabled) != "1" {
		return
	}
	Serve(os.Stdin, os.Stdout, os.Getenv(envCapture), os.Getenv(envReject))
	os.Exit(0)
}

// Sendmail returns a sendMail command that re-executes the test binary as
// the fake, and the file the session transcript is written to. Recipients
// containing reject are refused with 550. It uses t.Setenv, so the calling
// test must not be parallel.
func Sendmail(t testing.TB, reject string) (command, transcript string) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	transcript = filepath.Join(t.TempDir(), "transcript.txt")
	t.Setenv(envEnabled, "1")
	t.Setenv(envCapture, transcript)
	t.Setenv(envReject, reject)

	// the pipe transport appends -bs, keep it away from the test flags
	return shellescape.QuoteCommand([]string{exe, "-test.run=^TestHelperSendmail$", "--"}), transcript
}

// Transcript reads what the fake recorded: one "MAIL <addr>" line, a
// "RCPT <addr>" line per accepted recipient, then "DATA" and the message.
func Transcript(t testing.TB, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// Serve speaks just enough SMTP for net/smtp and writes the transcript to
// capture on QUIT.
func Serve(in io.Reader, out io.Writer, capture, reject string) {
	r := bufio.NewReader(in)
	reply := func(s string) { _, _ = io.WriteString(out, s+"\r\n") }
	reply("220 localhost ESMTP fake sendmail")

	var transcript strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-localhost")
			reply("250 HELP")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			fmt.Fprintf(&transcript, "MAIL %s\n", envelopeAddress(cmd))
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			if reject != "" && strings.Contains(cmd, reject) {
				reply("550 5.1.1 User unknown")
				continue
			}
			fmt.Fprintf(&transcript, "RCPT %s\n", envelopeAddress(cmd))
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			transcript.WriteString("DATA\n")
			for {
				dline, err := r.ReadString('\n')
				if err != nil || dline == ".\r\n" {
					break
				}
				transcript.WriteString(dline)
			}
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 Bye")
			if capture != "" {
				_ = os.WriteFile(capture, []byte(transcript.String()), 0o600)
			}
			return
		default:
			reply("250 OK")
		}
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
