// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package i18n loads the flat translation catalogs used by email templates.
//
// A catalog is a YAML file named after its locale (en.yaml, de.yaml, ...)
// mapping keys to texts. Texts may carry positional parameters {0}, {1}, ...
package i18n

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/de"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/en_GB"
	"github.com/go-playground/locales/es"
	"github.com/go-playground/locales/fr"
	"github.com/go-playground/locales/it"
	"github.com/go-playground/locales/ja"
	"github.com/go-playground/locales/nl"
	"github.com/go-playground/locales/pt"
	"github.com/go-playground/locales/pt_BR"
	"github.com/go-playground/locales/vi"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/mailcompose/pkg/system"
)

// ErrUnsupportedLocale is returned by Add for locales without plural rules.
var ErrUnsupportedLocale = errors.New("unsupported locale")

// Translator resolves catalog keys per locale. A nil *Translator is valid and
// returns every key untranslated.
type Translator struct {
	uni      *ut.UniversalTranslator
	fallback string
}

func supported() []locales.Translator {
	return []locales.Translator{
		en.New(), en_GB.New(), de.New(), es.New(), fr.New(), it.New(),
		ja.New(), nl.New(), pt.New(), pt_BR.New(), vi.New(), zh.New(),
	}
}

// New builds a Translator with empty catalogs. fallback is used for locales
// that have no catalog support.
func New(fallback string) *Translator {
	var fb locales.Translator = en.New()
	for _, l := range supported() {
		if l.Locale() == fallback {
			fb = l
		}
	}
	return &Translator{
		uni:      ut.New(fb, supported()...),
		fallback: fb.Locale(),
	}
}

// Load reads every <locale>.yaml catalog in dir. A missing dir yields a
// Translator without entries. Catalogs for unsupported locales are skipped
// with a warning; templates in that locale use the fallback catalog.
func Load(dir, fallback string, logger *zap.SugaredLogger) (*Translator, error) {
	t := New(fallback)
	logger = system.OrNop(logger)

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		locale := strings.TrimSuffix(filepath.Base(file), ".yaml")
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", file, err)
		}
		var entries map[string]string
		if err := yaml.Unmarshal(content, &entries); err != nil {
			return nil, fmt.Errorf("parsing catalog %s: %w", file, err)
		}
		if err := t.Add(locale, entries); err != nil {
			if errors.Is(err, ErrUnsupportedLocale) {
				logger.Warnw("Skipping translation catalog", "file", file, "locale", locale, "fallback", t.fallback)
				continue
			}
			return nil, fmt.Errorf("catalog %s: %w", file, err)
		}
	}
	return t, nil
}

// Add registers entries for locale, replacing existing keys.
func (t *Translator) Add(locale string, entries map[string]string) error {
	trans, found := t.uni.GetTranslator(locale)
	if !found {
		return fmt.Errorf("%w %q", ErrUnsupportedLocale, locale)
	}
	for key, text := range entries {
		if err := trans.Add(key, text, true); err != nil {
			return fmt.Errorf("adding %q: %w", key, err)
		}
	}
	return nil
}

// T translates key for locale. Unknown locales use the fallback catalog and
// unknown keys are returned as is.
func (t *Translator) T(locale, key string, params ...string) string {
	if t == nil {
		return key
	}
	trans, _ := t.uni.GetTranslator(locale)
	text, err := trans.T(key, params...)
	if err == nil {
		return text
	}
	if !errors.Is(err, ut.ErrUnknowTranslation) || trans.Locale() == t.fallback {
		return key
	}
	fb, _ := t.uni.GetTranslator(t.fallback)
	if text, err := fb.T(key, params...); err == nil {
		return text
	}
	return key
}
