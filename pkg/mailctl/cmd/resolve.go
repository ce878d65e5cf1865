package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/mailcompose/pkg/mail"
	"github.com/telekom/mailcompose/pkg/mailctl/output"
)

func NewResolveCommand() *cobra.Command {
	var tf templateFlags

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which template file a request renders",
		Long: `Show which template file a request renders.

A theme override under <templatesRoot>/<location>/<theme>/languages/email-templates/<locale>/<module>/
wins over the module default under <modulesRoot>/<location>/<module>/languages/email-templates/<locale>/.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			req, err := tf.request()
			if err != nil {
				return err
			}
			svc, err := rt.newService()
			if err != nil {
				return err
			}

			row := templateRow(rt, svc.ResolveTemplate(req), req)
			return rt.write(row, func(w io.Writer) { output.WriteTemplateTable(w, []output.TemplateRow{row}) })
		},
	}

	tf.registerTarget(cmd)
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func templateRow(rt *runtimeState, target mail.ResolvedTemplate, req mail.TemplateRequest) output.TemplateRow {
	locale := req.Locale
	if locale == "" {
		locale = rt.cfg.Website.Language
	}
	return output.TemplateRow{
		Module:   req.Module,
		Template: req.Template,
		Locale:   locale,
		Target:   target,
		Path:     target.Path(rt.cfg.Paths.TemplateExt),
	}
}
