package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/tokenctl/pkg/metrics"
	"github.com/telekom/tokenctl/pkg/system"
	"github.com/telekom/tokenctl/pkg/telemetry"
	"github.com/telekom/tokenctl/pkg/tokenctl/config"
	"github.com/telekom/tokenctl/pkg/tokenctl/idp"
	"github.com/telekom/tokenctl/pkg/tokenctl/output"
	"github.com/telekom/tokenctl/pkg/version"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// ErrWriter receives sign-in instructions; stderr when nil.
	ErrWriter io.Writer
	// Logger replaces the logger built from --verbose.
	Logger *zap.SugaredLogger
	// ProviderOptions are appended when the identity provider is built.
	ProviderOptions []idp.Option
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	profileOverride string
	outputFormat    string
	flowOverride    string
	noBrowser       bool
	nonInteractive  bool
	verbose         bool
	metricsTextfile string
	traceExporter   string
	shutdownTracing telemetry.ShutdownFunc
	writer          io.Writer
	errWriter       io.Writer
	log             *zap.SugaredLogger
	providerOpts    []idp.Option
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:   cfg.ConfigPath,
		writer:       cfg.OutputWriter,
		errWriter:    cfg.ErrWriter,
		log:          cfg.Logger,
		providerOpts: cfg.ProviderOptions,
	}

	root := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Acquire OAuth2 access tokens for public clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.profileOverride == "" {
				rt.profileOverride = os.Getenv("TOKENCTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("TOKENCTL_OUTPUT")
			}
			if rt.flowOverride == "" {
				rt.flowOverride = os.Getenv("TOKENCTL_FLOW")
			}
			if !rt.noBrowser {
				rt.noBrowser = strings.EqualFold(os.Getenv("TOKENCTL_NO_BROWSER"), "true")
			}
			if !rt.nonInteractive {
				rt.nonInteractive = strings.EqualFold(os.Getenv("TOKENCTL_NON_INTERACTIVE"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("TOKENCTL_VERBOSE"), "true")
			}
			if rt.traceExporter == "" {
				rt.traceExporter = os.Getenv("TOKENCTL_TRACE")
			}
			if rt.log == nil {
				log, err := system.NewLogger(rt.verbose)
				if err != nil {
					return fmt.Errorf("failed to set up logger: %w", err)
				}
				rt.log = log
			}
			if rt.traceExporter != "" && rt.shutdownTracing == nil {
				_, shutdown, err := telemetry.Init(telemetry.Options{
					Exporter:       rt.traceExporter,
					ServiceVersion: version.GetBuildInfo().Version,
					Writer:         rt.ErrWriter(),
					Logger:         rt.log,
				})
				if err != nil {
					return err
				}
				rt.shutdownTracing = shutdown
			}
			if rt.outputFormat != "" {
				if _, err := output.ParseFormat(rt.outputFormat); err != nil {
					return err
				}
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			cfg, err := config.Load(rt.configPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("config not found at %s, run 'tokenctl config init' first", rt.configPath)
				}
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")
	root.PersistentFlags().BoolVar(&rt.nonInteractive, "non-interactive", false, "Use the device code flow and never open a browser")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Print sign-in URLs instead of opening a browser")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	root.PersistentFlags().StringVar(&rt.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	root.PersistentFlags().StringVar(&rt.traceExporter, "trace", "", "Trace exporter: off, stderr, none")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewTokenCommand(),
		NewWhoamiCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// Run executes the command tree for args under ctx. Afterwards it flushes
// traces and writes the metrics textfile, also when the command failed.
func Run(ctx context.Context, cfg Config, args []string) error {
	root := NewRootCommand(cfg)
	rt, err := getRuntime(root)
	if err != nil {
		return err
	}
	root.SetContext(context.WithValue(ctx, runtimeKey{}, rt))
	root.SetArgs(args)
	runErr := root.Execute()
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			rt.Logger().Warnw("Failed to flush traces", "error", err)
		}
	}
	if rt.metricsTextfile != "" {
		if err := metrics.WriteTextfile(rt.metricsTextfile); err != nil {
			return errors.Join(runErr, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return runErr
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) ResolveProfileName() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentProfileOrDefault()
	}
	return ""
}

func (rt *runtimeState) ResolveProfile() (*config.Profile, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveProfileName()
	if name == "" {
		return nil, errors.New("no profile configured")
	}
	return rt.cfg.FindProfile(name)
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return string(output.FormatText)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	return zap.NewNop().Sugar()
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
