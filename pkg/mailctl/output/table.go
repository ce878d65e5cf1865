package output

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/telekom/mailcompose/pkg/mail"
)

// TemplateRow is one resolved template as printed by resolve.
type TemplateRow struct {
	Module   string                `json:"module" yaml:"module"`
	Template string                `json:"template" yaml:"template"`
	Locale   string                `json:"locale" yaml:"locale"`
	Target   mail.ResolvedTemplate `json:"target" yaml:"target"`
	Path     string                `json:"path" yaml:"path"`
}

// SendSummary is the result of mailctl send.
type SendSummary struct {
	Transport   string   `json:"transport" yaml:"transport"`
	From        string   `json:"from" yaml:"from"`
	Subject     string   `json:"subject" yaml:"subject"`
	Recipients  int      `json:"recipients" yaml:"recipients"`
	Attachments []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

func WriteTemplateTable(w io.Writer, rows []TemplateRow) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODULE\tTEMPLATE\tLOCALE\tSOURCE\tPATH")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Module, r.Template, r.Locale, r.Target.Source(), r.Path)
	}
	_ = tw.Flush()
}

func WriteSendTable(w io.Writer, s SendSummary) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TRANSPORT\tFROM\tSUBJECT\tRECIPIENTS\tATTACHMENTS")
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.Transport, s.From, dash(s.Subject), s.Recipients, len(s.Attachments))
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
