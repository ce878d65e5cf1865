package mail

import (
	"bytes"
	"errors"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"github.com/telekom/mailcompose/pkg/config"
	"github.com/telekom/mailcompose/pkg/i18n"
)

// ResolvedTemplate is the render target chosen for a template request: the
// engine opens <ViewsDir>/<Namespace>/<Name><ext>.
type ResolvedTemplate struct {
	ViewsDir  string `json:"viewsDir" yaml:"viewsDir"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Override  bool   `json:"override" yaml:"override"`
}

// Path returns the template file for the given extension.
func (t ResolvedTemplate) Path(ext string) string {
	return filepath.Join(t.ViewsDir, t.Namespace, t.Name+ext)
}

// Source is "override" for theme templates and "default" for module templates.
func (t ResolvedTemplate) Source() string {
	if t.Override {
		return "override"
	}
	return "default"
}

// TemplateResolver picks between a theme override and the module default.
// It checks the filesystem on every call.
type TemplateResolver struct {
	templatesRoot string
	modulesRoot   string
	ext           string
}

func NewTemplateResolver(paths config.Paths) *TemplateResolver {
	return &TemplateResolver{
		templatesRoot: paths.TemplatesRoot,
		modulesRoot:   paths.ModulesRoot,
		ext:           paths.TemplateExt,
	}
}

// Ext is the template file extension, including the dot.
func (r *TemplateResolver) Ext() string { return r.ext }

func (r *TemplateResolver) overrideDir(moduleLocation, theme, locale string) string {
	return filepath.Join(r.templatesRoot, moduleLocation, theme, "languages", "email-templates", locale)
}

// OverridePath is the theme file that would take precedence for the request.
func (r *TemplateResolver) OverridePath(module, template, moduleLocation, locale, theme string) string {
	return filepath.Join(r.overrideDir(moduleLocation, theme, locale), module, template+r.ext)
}

// Resolve returns the override target (module, template) when the theme
// ships the file, otherwise the module default target (locale, template).
// A missing default is not detected here; the engine reports it.
func (r *TemplateResolver) Resolve(module, template, moduleLocation, locale, theme string) ResolvedTemplate {
	if isFile(r.OverridePath(module, template, moduleLocation, locale, theme)) {
		return ResolvedTemplate{
			ViewsDir:  r.overrideDir(moduleLocation, theme, locale),
			Namespace: module,
			Name:      template,
			Override:  true,
		}
	}
	return ResolvedTemplate{
		ViewsDir:  filepath.Join(r.modulesRoot, moduleLocation, module, "languages", "email-templates"),
		Namespace: locale,
		Name:      template,
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Bindings are the variables every email template sees.
type Bindings struct {
	BaseURL  string
	SiteName string
	Locale   string
	Data     any
}

// Engine renders a resolved template.
type Engine interface {
	Render(target ResolvedTemplate, contentType string, vars Bindings) (string, error)
}

// TemplateEngine renders with html/template for text/html bodies and
// text/template otherwise. Both get the sprig functions plus:
//
//	__       translate a catalog key for the render locale: {{ __ "order.thanks" .Data.name }}
//	markdown convert markdown to HTML
//
// Templates are parsed on every render.
type TemplateEngine struct {
	ext        string
	translator *i18n.Translator
	markdown   goldmark.Markdown
}

func NewTemplateEngine(ext string, translator *i18n.Translator) *TemplateEngine {
	return &TemplateEngine{
		ext:        ext,
		translator: translator,
		// raw HTML in markdown input is escaped (WithUnsafe is not set)
		markdown: goldmark.New(goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps())),
	}
}

func (e *TemplateEngine) Render(target ResolvedTemplate, contentType string, vars Bindings) (string, error) {
	path := target.Path(e.ext)
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &TemplateNotFoundError{Path: path}
		}
		return "", &TemplateCompileError{Path: path, Op: "read", Err: err}
	}

	translate := func(key string, params ...string) string {
		return e.translator.T(vars.Locale, key, params...)
	}

	var buf bytes.Buffer
	if isHTML(contentType) {
		funcs := sprig.FuncMap()
		funcs["__"] = translate
		funcs["markdown"] = func(s string) (htmltemplate.HTML, error) {
			out, err := e.renderMarkdown(s)
			// #nosec G203 -- goldmark escapes raw HTML
			return htmltemplate.HTML(out), err
		}
		tmpl, err := htmltemplate.New(filepath.Base(path)).Funcs(funcs).Parse(string(src))
		if err != nil {
			return "", &TemplateCompileError{Path: path, Op: "parse", Err: err}
		}
		if err := tmpl.Execute(&buf, vars); err != nil {
			return "", &TemplateCompileError{Path: path, Op: "execute", Err: err}
		}
		return buf.String(), nil
	}

	funcs := sprig.TxtFuncMap()
	funcs["__"] = translate
	funcs["markdown"] = e.renderMarkdown
	tmpl, err := texttemplate.New(filepath.Base(path)).Funcs(funcs).Parse(string(src))
	if err != nil {
		return "", &TemplateCompileError{Path: path, Op: "parse", Err: err}
	}
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", &TemplateCompileError{Path: path, Op: "execute", Err: err}
	}
	return buf.String(), nil
}

func (e *TemplateEngine) renderMarkdown(s string) (string, error) {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(s), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}
