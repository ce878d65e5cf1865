package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/mailcompose/pkg/audit"
	"github.com/telekom/mailcompose/pkg/config"
	"github.com/telekom/mailcompose/pkg/i18n"
	"github.com/telekom/mailcompose/pkg/mail"
	"github.com/telekom/mailcompose/pkg/mailctl/output"
	"github.com/telekom/mailcompose/pkg/system"
	"github.com/telekom/mailcompose/pkg/telemetry"
	"github.com/telekom/mailcompose/pkg/version"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath   string
	cfg          *config.Config
	outputFormat string
	debug        bool
	writer       io.Writer
	logger       *zap.SugaredLogger
	shutdown     telemetry.ShutdownFunc
	auditSink    audit.Sink
}

type runtimeKey struct{}

// DefaultConfig leaves the config path empty so that config.Load applies
// MAILCOMPOSE_CONFIG_PATH and then ./config.yaml.
func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	root, _ := newRootCommand(cfg)
	return root
}

func newRootCommand(cfg Config) (*cobra.Command, *runtimeState) {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "Compose and send email from templates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// the context given to ExecuteContext replaces anything set on root earlier
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("MAILCTL_OUTPUT")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("MAILCTL_DEBUG"), "true")
			}
			if _, err := output.ParseFormat(rt.outputFormat); err != nil {
				return err
			}

			logger, err := system.NewLogger(rt.debug)
			if err != nil {
				return err
			}
			rt.logger = logger

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			_, shutdown, err := telemetry.Init(cmd.Context(),
				telemetry.FromConfig(rt.cfg.Telemetry, version.Version, rt.logger))
			if err != nil {
				return err
			}
			rt.shutdown = shutdown
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file (default $MAILCOMPOSE_CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		NewSendCommand(),
		NewRenderCommand(),
		NewResolveCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root, rt
}

// Execute runs root and then releases what the command set up: the audit
// sink is closed, traces are flushed and the logger synced. Cobra skips
// post-run hooks when RunE fails, so this runs here instead.
func Execute(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if cmd != nil && cmd.Context() != nil {
		if rt, rtErr := getRuntime(cmd); rtErr == nil {
			rt.close(cmd.Context())
		}
	}
	return err
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// close is safe to call more than once.
func (rt *runtimeState) close(ctx context.Context) {
	logger := system.OrNop(rt.logger)
	if rt.auditSink != nil {
		if err := rt.auditSink.Close(); err != nil {
			logger.Warnw("Failed to close audit sink", "sink", rt.auditSink.Name(), "error", err)
		}
		rt.auditSink = nil
	}
	if rt.shutdown != nil {
		if err := rt.shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warnw("Failed to flush traces", "error", err)
		}
		rt.shutdown = nil
	}
	_ = logger.Sync()
}

func (rt *runtimeState) OutputFormat() output.Format {
	f, err := output.ParseFormat(rt.outputFormat)
	if err != nil {
		return output.FormatTable
	}
	return f
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	if err := errors.Join(cfg.Telemetry.Validate(), cfg.Audit.Validate()); err != nil {
		return err
	}
	rt.cfg = &cfg
	return nil
}

// newService builds a mail service from the loaded configuration, with the
// translation catalogs of paths.languagesDir and the configured audit sinks.
func (rt *runtimeState) newService() (*mail.Service, error) {
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	translator, err := i18n.Load(rt.cfg.Paths.LanguagesDir, rt.cfg.Website.Language, rt.logger)
	if err != nil {
		return nil, err
	}
	opts := []mail.Option{mail.WithLogger(rt.logger), mail.WithTranslator(translator)}
	if rt.auditSink == nil {
		if rt.auditSink, err = audit.FromConfig(rt.cfg.Audit, rt.logger); err != nil {
			return nil, err
		}
	}
	if rt.auditSink != nil {
		opts = append(opts, mail.WithAuditSink(rt.auditSink))
	}
	return mail.New(*rt.cfg, opts...)
}

// write prints obj as JSON/YAML, or calls table for the table format.
func (rt *runtimeState) write(obj any, table func(io.Writer)) error {
	format := rt.OutputFormat()
	if format == output.FormatTable {
		table(rt.Writer())
		return nil
	}
	return output.WriteObject(rt.Writer(), format, obj)
}
