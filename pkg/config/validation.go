package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ErrInvalidConfig matches every *ConfigurationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError reports a required field that is missing or invalid for
// the selected mail type.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// report yaml names so errors point at the config file keys
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	translator, _ = ut.New(enLang, enLang).GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}
}

// Validate checks the mail section. Every failing field is reported as a
// *ConfigurationError, joined into one error.
func (m Mail) Validate() error {
	return validateSection("mail", m)
}

func (t Telemetry) Validate() error {
	return validateSection("telemetry", t)
}

func (a Audit) Validate() error {
	return validateSection("audit", a)
}

func validateSection(prefix string, section any) error {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, &ConfigurationError{
			Field:  prefix + "." + fe.Field(),
			Reason: fe.Translate(translator),
		})
	}
	return errors.Join(errs...)
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	return errors.Join(c.Mail.Validate(), c.Telemetry.Validate(), c.Audit.Validate())
}
