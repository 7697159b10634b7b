package commands

import (
	"context"
)

// ConfigCmd prints the descriptor with paths resolved and defaults filled in.
type ConfigCmd struct {
	ConfigFlags `embed:""`
	Format      string `help:"output format" default:"yaml" enum:"yaml,toml"`
}

func (c *ConfigCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}

	data, err := cfg.Marshal(c.Format)
	if err != nil {
		return err
	}

	_, err = stdout.Write(data)
	return err
}
