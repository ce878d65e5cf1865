package mail

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mailcompose/pkg/config"
	"github.com/telekom/mailcompose/pkg/i18n"
)

func writeTemplate(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newTestResolver(t *testing.T) (*TemplateResolver, string) {
	t.Helper()
	app := t.TempDir()
	return NewTemplateResolver(config.Paths{
		TemplatesRoot: filepath.Join(app, "templates"),
		ModulesRoot:   app,
		TemplateExt:   ".tmpl",
	}), app
}

func TestTemplateResolver_Resolve(t *testing.T) {
	resolver, app := newTestResolver(t)
	overrideDir := filepath.Join(app, "templates", "frontend", "default", "languages", "email-templates", "en")
	moduleDir := filepath.Join(app, "frontend", "order", "languages", "email-templates")

	writeTemplate(t, filepath.Join(overrideDir, "order", "shipped.tmpl"), "theme shipped")
	writeTemplate(t, filepath.Join(moduleDir, "en", "confirm.tmpl"), "module confirm")
	// a directory named like the override file must not count
	require.NoError(t, os.MkdirAll(filepath.Join(overrideDir, "order", "cancelled.tmpl"), 0o755))

	tests := []struct {
		name     string
		template string
		locale   string
		want     ResolvedTemplate
	}{
		{
			name:     "override present",
			template: "shipped",
			locale:   "en",
			want:     ResolvedTemplate{ViewsDir: overrideDir, Namespace: "order", Name: "shipped", Override: true},
		},
		{
			name:     "override absent",
			template: "confirm",
			locale:   "en",
			want:     ResolvedTemplate{ViewsDir: moduleDir, Namespace: "en", Name: "confirm"},
		},
		{
			name:     "override is a directory",
			template: "cancelled",
			locale:   "en",
			want:     ResolvedTemplate{ViewsDir: moduleDir, Namespace: "en", Name: "cancelled"},
		},
		{
			name:     "override only exists for another locale",
			template: "shipped",
			locale:   "de",
			want:     ResolvedTemplate{ViewsDir: moduleDir, Namespace: "de", Name: "shipped"},
		},
		{
			name:     "default target does not have to exist",
			template: "missing",
			locale:   "en",
			want:     ResolvedTemplate{ViewsDir: moduleDir, Namespace: "en", Name: "missing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve("order", tt.template, "frontend", tt.locale, "default")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateResolver_ResolveIsNotCached(t *testing.T) {
	resolver, app := newTestResolver(t)
	override := resolver.OverridePath("order", "confirm", "frontend", "en", "default")
	assert.Equal(t, filepath.Join(app, "templates", "frontend", "default", "languages", "email-templates", "en", "order", "confirm.tmpl"), override)

	assert.False(t, resolver.Resolve("order", "confirm", "frontend", "en", "default").Override)

	writeTemplate(t, override, "theme")
	got := resolver.Resolve("order", "confirm", "frontend", "en", "default")
	assert.True(t, got.Override)
	assert.Equal(t, override, got.Path(resolver.Ext()))
	assert.Equal(t, "override", got.Source())

	require.NoError(t, os.Remove(override))
	got = resolver.Resolve("order", "confirm", "frontend", "en", "default")
	assert.False(t, got.Override)
	assert.Equal(t, "default", got.Source())
}

func TestTemplateEngine_Render(t *testing.T) {
	dir := t.TempDir()
	target := func(name string) ResolvedTemplate {
		return ResolvedTemplate{ViewsDir: dir, Namespace: "en", Name: name}
	}

	translator := i18n.New("en")
	require.NoError(t, translator.Add("en", map[string]string{"order.thanks": "Thanks {0}!"}))
	require.NoError(t, translator.Add("de", map[string]string{"order.thanks": "Danke {0}!"}))
	engine := NewTemplateEngine(".tmpl", translator)

	writeTemplate(t, filepath.Join(dir, "en", "bindings.tmpl"), `<a href="{{ .BaseURL }}">{{ .SiteName }}</a> {{ .Data.name }}`)
	writeTemplate(t, filepath.Join(dir, "en", "translate.tmpl"), `{{ __ "order.thanks" .Data.name }} {{ __ "order.unknown" }}`)
	writeTemplate(t, filepath.Join(dir, "en", "markdown.tmpl"), `{{ markdown .Data.notes }}`)
	writeTemplate(t, filepath.Join(dir, "en", "sprig.tmpl"), `{{ .Data.name | upper }} {{ .Data.missing | default "n/a" }}`)

	vars := Bindings{
		BaseURL:  "https://shop.example.com",
		SiteName: "Example Shop",
		Locale:   "en",
		Data:     map[string]any{"name": "<b>Bob</b>", "notes": "**fragile**"},
	}

	tests := []struct {
		name        string
		template    string
		contentType string
		locale      string
		want        string
	}{
		{
			name:        "html escapes data",
			template:    "bindings",
			contentType: "text/html",
			want:        `<a href="https://shop.example.com">Example Shop</a> &lt;b&gt;Bob&lt;/b&gt;`,
		},
		{
			name:        "plain text is not escaped",
			template:    "bindings",
			contentType: "text/plain",
			want:        `<a href="https://shop.example.com">Example Shop</a> <b>Bob</b>`,
		},
		{
			name:        "translation with fallback to key",
			template:    "translate",
			contentType: "text/plain",
			want:        "Thanks <b>Bob</b>! order.unknown",
		},
		{
			name:        "translation in render locale",
			template:    "translate",
			contentType: "text/plain",
			locale:      "de",
			want:        "Danke <b>Bob</b>! order.unknown",
		},
		{
			name:        "markdown",
			template:    "markdown",
			contentType: "text/html; charset=utf-8",
			want:        "<p><strong>fragile</strong></p>\n",
		},
		{
			name:        "sprig functions",
			template:    "sprig",
			contentType: "text/plain",
			want:        "<B>BOB</B> n/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := vars
			if tt.locale != "" {
				v.Locale = tt.locale
			}
			got, err := engine.Render(target(tt.template), tt.contentType, v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateEngine_RenderErrors(t *testing.T) {
	dir := t.TempDir()
	engine := NewTemplateEngine(".tmpl", nil)
	writeTemplate(t, filepath.Join(dir, "en", "broken.tmpl"), `{{ .Data.name `)
	writeTemplate(t, filepath.Join(dir, "en", "failing.tmpl"), `{{ fail "boom" }}`)

	t.Run("not found", func(t *testing.T) {
		target := ResolvedTemplate{ViewsDir: dir, Namespace: "en", Name: "absent"}
		_, err := engine.Render(target, "text/html", Bindings{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTemplateNotFound)

		var nfErr *TemplateNotFoundError
		require.True(t, errors.As(err, &nfErr))
		assert.Equal(t, filepath.Join(dir, "en", "absent.tmpl"), nfErr.Path)
	})

	for _, tc := range []struct {
		name   string
		op     string
		html   bool
		target string
	}{
		{name: "parse html", op: "parse", html: true, target: "broken"},
		{name: "parse text", op: "parse", target: "broken"},
		{name: "execute", op: "execute", html: true, target: "failing"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			contentType := "text/plain"
			if tc.html {
				contentType = "text/html"
			}
			_, err := engine.Render(ResolvedTemplate{ViewsDir: dir, Namespace: "en", Name: tc.target}, contentType, Bindings{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTemplateCompile)

			var cErr *TemplateCompileError
			require.True(t, errors.As(err, &cErr))
			assert.Equal(t, tc.op, cErr.Op)
		})
	}
}

func TestTemplateEngine_NilTranslatorReturnsKeys(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, filepath.Join(dir, "en", "t.tmpl"), `{{ __ "order.thanks" }}`)

	got, err := NewTemplateEngine(".tmpl", nil).Render(ResolvedTemplate{ViewsDir: dir, Namespace: "en", Name: "t"}, "text/html", Bindings{Locale: "en"})
	require.NoError(t, err)
	assert.Equal(t, "order.thanks", got)
}
