package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v2"
)

// ConfigPathEnv overrides the default config file location.
const ConfigPathEnv = "MAILCOMPOSE_CONFIG_PATH"

// MailTypeSMTP selects the SMTP transport. Any other mail type selects the
// local sendmail pipe.
const MailTypeSMTP = "smtp"

// Mail describes how messages leave the process.
type Mail struct {
	// Type is "smtp" or anything else for the sendmail pipe ("other" by convention).
	Type       string `yaml:"mailType"`
	SMTPHost   string `yaml:"smtpHost" validate:"required_if=Type smtp"`
	SMTPPort   int    `yaml:"smtpPort" validate:"omitempty,min=1,max=65535"`
	SMTPSecure string `yaml:"smtpSecure" validate:"omitempty,oneof=ssl tls"`
	SMTPUser   string `yaml:"smtpUser" validate:"required_if=Type smtp"`
	SMTPPass   string `yaml:"smtpPass" validate:"required_if=Type smtp"`
	// SMTPPassKeyring names the keyring service holding the password for
	// SMTPUser. Only consulted when SMTPPass is empty.
	SMTPPassKeyring    string `yaml:"smtpPassKeyring"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	MailFrom           string `yaml:"mailFrom"`
	MailName           string `yaml:"mailName"`
	// SendMail is the sendmail-compatible command; " -bs" is appended.
	SendMail string `yaml:"sendMail" validate:"required_unless=Type smtp"`
}

// IsSMTP reports whether the SMTP transport is configured.
func (m Mail) IsSMTP() bool {
	return m.Type == MailTypeSMTP
}

type Website struct {
	SiteName string `yaml:"siteName"`
	// Language is the active locale used to pick email templates.
	Language string `yaml:"language"`
	BaseURL  string `yaml:"baseURL"`
}

type FrontendTemplate struct {
	// DefaultTemplate is the theme whose language folder may override module templates.
	DefaultTemplate string `yaml:"defaultTemplate"`
}

type Paths struct {
	AppPath string `yaml:"appPath"`
	// TemplatesRoot holds the theme folders; defaults to <appPath>/templates.
	TemplatesRoot string `yaml:"templatesRoot"`
	// ModulesRoot holds the module folders; defaults to <appPath>.
	ModulesRoot string `yaml:"modulesRoot"`
	// LanguagesDir holds the translation catalogs; defaults to <appPath>/languages.
	LanguagesDir string `yaml:"languagesDir"`
	TemplateExt  string `yaml:"templateExt"`
}

// Telemetry configures OpenTelemetry tracing of sends.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp", "stdout" or "none".
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector, e.g. "otel-collector:4317".
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// SamplingRate is nil when unset; Rate applies the default. It is left out
	// of defaultConfig because mergo treats a pointer to 0 as empty.
	SamplingRate *float64 `yaml:"samplingRate" validate:"omitempty,min=0,max=1"`
}

// Rate returns the sampling rate, 1 when unset.
func (t Telemetry) Rate() float64 {
	if t.SamplingRate == nil {
		return 1
	}
	return *t.SamplingRate
}

// Audit selects where send audit events go. The log sink writes through
// the process logger; the Kafka sink is enabled by listing brokers.
type Audit struct {
	Log   bool       `yaml:"log"`
	Kafka AuditKafka `yaml:"kafka"`
}

type AuditKafka struct {
	Brokers      []string       `yaml:"brokers,omitempty" validate:"omitempty,dive,hostname_port"`
	Topic        string         `yaml:"topic" validate:"required_with=Brokers"`
	Compression  string         `yaml:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	WriteTimeout time.Duration  `yaml:"writeTimeout"`
	TLS          AuditKafkaTLS  `yaml:"tls"`
	SASL         AuditKafkaSASL `yaml:"sasl"`
}

// Enabled reports whether any broker is configured.
func (k AuditKafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type AuditKafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile" validate:"omitempty,file"`
	CertFile           string `yaml:"certFile" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"keyFile" validate:"required_with=CertFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type AuditKafkaSASL struct {
	Mechanism string `yaml:"mechanism" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	Username  string `yaml:"username" validate:"required_with=Mechanism"`
	Password  string `yaml:"password" validate:"required_with=Mechanism"`
}

type Config struct {
	Mail             Mail             `yaml:"mail"`
	Website          Website          `yaml:"website"`
	FrontendTemplate FrontendTemplate `yaml:"frontendTemplate"`
	Paths            Paths            `yaml:"paths"`
	Telemetry        Telemetry        `yaml:"telemetry"`
	Audit            Audit            `yaml:"audit"`
}

func defaultConfig() Config {
	return Config{
		Mail: Mail{
			Type: "other",
		},
		Website: Website{
			Language: "en",
		},
		FrontendTemplate: FrontendTemplate{
			DefaultTemplate: "default",
		},
		Paths: Paths{
			AppPath:     "./app",
			TemplateExt: ".tmpl",
		},
		Telemetry: Telemetry{
			Exporter: "otlp",
		},
		Audit: Audit{
			Kafka: AuditKafka{
				Compression:  "snappy",
				WriteTimeout: 10 * time.Second,
			},
		},
	}
}

// Defaults fills every unset field with its default. Values already present
// are never overwritten.
func (c *Config) Defaults() error {
	if err := mergo.Merge(c, defaultConfig()); err != nil {
		return fmt.Errorf("applying config defaults: %w", err)
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 25
		if c.Mail.SMTPSecure == "ssl" {
			c.Mail.SMTPPort = 465
		}
	}
	// an empty list would still satisfy required_with on the topic
	if len(c.Audit.Kafka.Brokers) == 0 {
		c.Audit.Kafka.Brokers = nil
	}
	if c.Paths.TemplatesRoot == "" {
		c.Paths.TemplatesRoot = filepath.Join(c.Paths.AppPath, "templates")
	}
	if c.Paths.ModulesRoot == "" {
		c.Paths.ModulesRoot = c.Paths.AppPath
	}
	if c.Paths.LanguagesDir == "" {
		c.Paths.LanguagesDir = filepath.Join(c.Paths.AppPath, "languages")
	}
	return nil
}

// Load loads the mailcompose configuration from a file path.
// If configPath is empty, MAILCOMPOSE_CONFIG_PATH is used, then "./config.yaml".
// Defaults are applied and keyring secrets resolved; validation is left to
// the consumer so that partially configured files can still be inspected.
func Load(configPath ...string) (Config, error) {
	path := "./config.yaml"
	if env := os.Getenv(ConfigPathEnv); env != "" {
		path = env
	}
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open mailcompose config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	if err := config.Defaults(); err != nil {
		return config, err
	}
	if err := config.Mail.ResolveSecrets(); err != nil {
		return config, err
	}
	return config, nil
}
