package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/mailcompose/pkg/mailctl/output"
)

type renderResult struct {
	output.TemplateRow `json:",inline" yaml:",inline"`
	ContentType        string `json:"contentType" yaml:"contentType"`
	Body               string `json:"body" yaml:"body"`
}

func NewRenderCommand() *cobra.Command {
	var tf templateFlags

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an email template without sending it",
		Example: `  mailctl render --module order --template confirm --data orderId=42
  mailctl render --module order --template confirm --locale de --data-file order.yaml -o json`,
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

			body, err := svc.RenderTemplate(req)
			if err != nil {
				return err
			}
			row := templateRow(rt, svc.ResolveTemplate(req), req)
			result := renderResult{TemplateRow: row, ContentType: contentTypeOrDefault(req.ContentType), Body: body}
			return rt.write(result, func(w io.Writer) { _, _ = fmt.Fprintln(w, body) })
		},
	}

	tf.registerTarget(cmd)
	tf.registerRender(cmd)
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return "text/html"
	}
	return contentType
}
