package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/devserver"
	"github.com/wolfeidau/wasmbundle/internal/logger"
	"github.com/wolfeidau/wasmbundle/internal/plugin"
	"github.com/wolfeidau/wasmbundle/internal/watch"
)

type ServeCmd struct {
	ConfigFlags    `embed:""`
	TelemetryFlags `embed:""`
	Listen         string `help:"override the dev server listen address" env:"WASMBUNDLE_LISTEN"`
	NoWatch        bool   `help:"do not rebuild when sources change"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	defer c.start(ctx, log, globals.Version)()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.DevServer.Listen = c.Listen
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	plugins, err := plugin.FromConfig(cfg)
	if err != nil {
		return err
	}

	srv := devserver.New(cfg.DevServer, log)
	pipeline := bundle.New(cfg,
		bundle.WithPlugins(plugins...),
		bundle.WithBanner(srv.ReloadClient()),
	)

	// the server keeps serving the last good output when a build fails
	if _, err := pipeline.Build(ctx); err != nil {
		log.Error().Err(err).Msg("Initial build failed")
	}

	watchErr := make(chan error, 1)
	if c.NoWatch {
		close(watchErr)
	} else {
		var ignore []string
		for _, dir := range append([]string{cfg.Output.Path}, plugin.GeneratedDirs(plugins)...) {
			if pat := watch.IgnoreDir(cfg.Context, dir); pat != "" {
				ignore = append(ignore, pat)
			}
		}

		w, err := watch.New(watch.Config{
			BaseDir: cfg.Context,
			Ignore:  ignore,
			OnChange: func(ctx context.Context, changed []string) error {
				result, err := pipeline.Build(ctx)
				if err != nil {
					return err
				}
				srv.Reload(result.BuildID)
				return nil
			},
		})
		if err != nil {
			return err
		}

		go func() {
			watchErr <- w.Run(ctx)
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		stop()
		<-watchErr
		return err
	}

	return <-watchErr
}
