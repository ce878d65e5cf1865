package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/mailcompose/pkg/mail"
)

// templateFlags are shared by send, render and resolve.
type templateFlags struct {
	module      string
	template    string
	location    string
	locale      string
	contentType string
	charset     string
	dataFile    string
	data        map[string]string
}

func (f *templateFlags) registerTarget(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.module, "module", "", "Module owning the email template")
	cmd.Flags().StringVar(&f.template, "template", "", "Email template name")
	cmd.Flags().StringVar(&f.location, "location", mail.DefaultModuleLocation, "Module location")
	cmd.Flags().StringVar(&f.locale, "locale", "", "Locale (default website.language)")
}

func (f *templateFlags) registerRender(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "Body content type (default text/html for templates, text/plain otherwise)")
	cmd.Flags().StringVar(&f.charset, "charset", "", "Body charset (default utf-8)")
	cmd.Flags().StringVar(&f.dataFile, "data-file", "", "YAML or JSON file with template data")
	cmd.Flags().StringToStringVar(&f.data, "data", nil, "Template data as key=value pairs, applied over --data-file")
}

// templateData merges --data over --data-file.
func (f *templateFlags) templateData() (map[string]any, error) {
	data := map[string]any{}
	if f.dataFile != "" {
		content, err := os.ReadFile(f.dataFile)
		if err != nil {
			return nil, fmt.Errorf("reading template data: %w", err)
		}
		if err := yaml.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("parsing template data %s: %w", f.dataFile, err)
		}
		if data == nil {
			data = map[string]any{}
		}
	}
	for k, v := range f.data {
		data[k] = v
	}
	return data, nil
}

func (f *templateFlags) request() (mail.TemplateRequest, error) {
	if f.module == "" || f.template == "" {
		return mail.TemplateRequest{}, fmt.Errorf("--module and --template are required")
	}
	data, err := f.templateData()
	if err != nil {
		return mail.TemplateRequest{}, err
	}
	return mail.TemplateRequest{
		Module:         f.module,
		Template:       f.template,
		ModuleLocation: f.location,
		Locale:         f.locale,
		Data:           data,
		ContentType:    f.contentType,
		Charset:        f.charset,
	}, nil
}

// bodyOptions applies --content-type and --charset to a literal body.
func (f *templateFlags) bodyOptions() []mail.BodyOption {
	var opts []mail.BodyOption
	if f.contentType != "" {
		opts = append(opts, mail.WithContentType(f.contentType))
	}
	if f.charset != "" {
		opts = append(opts, mail.WithCharset(f.charset))
	}
	return opts
}
