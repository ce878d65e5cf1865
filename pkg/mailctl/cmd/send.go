package cmd

import (
	"errors"
	"fmt"
	"io"
	netmail "net/mail"

	"github.com/spf13/cobra"

	"github.com/telekom/mailcompose/pkg/mailctl/output"
	"github.com/telekom/mailcompose/pkg/metrics"
)

func NewSendCommand() *cobra.Command {
	var (
		tf          templateFlags
		to          []string
		cc          []string
		bcc         []string
		replyTo     []string
		from        []string
		attach      []string
		subject     string
		body        string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an email with a literal body or a rendered template",
		Example: `  mailctl send --to alice@example.com --subject "Hello" --body "Hi Alice"
  mailctl send --to "Alice <alice@example.com>" --subject "Your order" \
    --module order --template confirm --data orderId=42`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if len(to)+len(cc)+len(bcc) == 0 {
				return errors.New("at least one of --to, --cc or --bcc is required")
			}

			svc, err := rt.newService()
			if err != nil {
				return err
			}

			for _, list := range []struct {
				add       func(address, name string) error
				addresses []string
			}{
				{svc.AddFrom, from},
				{svc.AddTo, to},
				{svc.AddCc, cc},
				{svc.AddBcc, bcc},
				{svc.AddReplyTo, replyTo},
			} {
				for _, a := range list.addresses {
					address, name := splitAddress(a)
					if err := list.add(address, name); err != nil {
						return err
					}
				}
			}

			svc.SetSubject(subject)
			if tf.template != "" {
				req, err := tf.request()
				if err != nil {
					return err
				}
				if err := svc.SetTemplate(req); err != nil {
					return err
				}
			} else {
				svc.SetBody(body, tf.bodyOptions()...)
			}

			for _, path := range attach {
				if err := svc.Attach(path); err != nil {
					return err
				}
			}

			delivered, sendErr := svc.Send(cmd.Context())
			if metricsFile != "" {
				if err := metrics.WriteTextfile(metricsFile); err != nil {
					rt.logger.Warnw("Failed to write metrics textfile", "path", metricsFile, "error", err)
				}
			}
			if sendErr != nil {
				return fmt.Errorf("sending mail: %w", sendErr)
			}

			msg := svc.Message()
			summary := output.SendSummary{
				Transport:   svc.Transport().String(),
				From:        svc.DefaultSender().Address,
				Subject:     msg.Subject,
				Recipients:  delivered,
				Attachments: msg.Attachments,
			}
			return rt.write(summary, func(w io.Writer) { output.WriteSendTable(w, summary) })
		},
	}

	cmd.Flags().StringArrayVar(&to, "to", nil, `Recipient, "address" or "Name <address>" (repeatable)`)
	cmd.Flags().StringArrayVar(&cc, "cc", nil, "Carbon copy recipient (repeatable)")
	cmd.Flags().StringArrayVar(&bcc, "bcc", nil, "Blind carbon copy recipient (repeatable)")
	cmd.Flags().StringArrayVar(&replyTo, "reply-to", nil, "Reply-To address (repeatable)")
	cmd.Flags().StringArrayVar(&from, "from", nil, "Additional From address after the configured sender (repeatable)")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "File to attach (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&body, "body", "", "Literal message body")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write prometheus metrics to this textfile after sending")
	tf.registerTarget(cmd)
	tf.registerRender(cmd)
	cmd.MarkFlagsMutuallyExclusive("body", "template")

	return cmd
}

// splitAddress accepts "Name <address>" as well as a bare address. Anything
// unparsable is returned as is so that the service reports it.
func splitAddress(s string) (address, name string) {
	parsed, err := netmail.ParseAddress(s)
	if err != nil {
		return s, ""
	}
	return parsed.Address, parsed.Name
}
