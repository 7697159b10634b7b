package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/wasmbundle/internal/config"
	"github.com/wolfeidau/wasmbundle/internal/telemetry"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

type Globals struct {
	Debug   bool
	Version string
}

// ConfigFlags locate the build descriptor shared by every command.
type ConfigFlags struct {
	Config string `help:"path to the build descriptor (default: wasmbundle.yaml, .yml or .toml in the current directory)" type:"path" env:"WASMBUNDLE_CONFIG"`
	Mode   string `help:"override the descriptor mode (development or production)" env:"WASMBUNDLE_MODE"`
}

// load reads the descriptor, falling back to the defaults for the working
// directory when no descriptor file exists.
func (f *ConfigFlags) load() (*config.Config, error) {
	path := f.Config
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = config.Find(wd)
		if path == "" {
			cfg := config.DefaultConfig()
			if err := cfg.Resolve(wd); err != nil {
				return nil, err
			}
			return f.finish(cfg)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return f.finish(cfg)
}

func (f *ConfigFlags) finish(cfg *config.Config) (*config.Config, error) {
	if f.Mode != "" {
		cfg.Mode = config.Mode(f.Mode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TelemetryFlags enable OTLP export of build spans and metrics.
type TelemetryFlags struct {
	Tracing bool `help:"enable tracing" default:"false" env:"WASMBUNDLE_TRACING"`
}

// start installs the exporters when tracing is enabled. The returned func
// flushes them and must be called before exit.
func (f *TelemetryFlags) start(ctx context.Context, log zerolog.Logger, version string) func() {
	if !f.Tracing {
		return func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.Init(ctx, "wasmbundle", version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without tracing")
		shutdown = telemetry.Noop
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}
