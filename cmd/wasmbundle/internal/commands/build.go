package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/logger"
	"github.com/wolfeidau/wasmbundle/internal/plugin"
)

type BuildCmd struct {
	ConfigFlags    `embed:""`
	TelemetryFlags `embed:""`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	defer c.start(ctx, log, globals.Version)()

	cfg, err := c.load()
	if err != nil {
		return err
	}

	plugins, err := plugin.FromConfig(cfg)
	if err != nil {
		return err
	}

	pipeline := bundle.New(cfg, bundle.WithPlugins(plugins...))

	result, err := pipeline.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Fprintf(stdout, "Built %d assets into %s in %s (%d written, %d unchanged)\n",
		len(result.Assets), cfg.Output.Path, result.Duration.Round(time.Millisecond), result.Written, result.Skipped)

	for _, name := range cfg.EntryNames() {
		scripts, _, err := pipeline.LoadScripts(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "  %s: %s\n", name, strings.Join(scripts, " "))
	}

	return nil
}
