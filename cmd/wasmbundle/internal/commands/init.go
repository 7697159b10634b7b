package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wolfeidau/wasmbundle/internal/config"
)

// InitCmd writes the default build descriptor.
type InitCmd struct {
	Dir    string `help:"directory to write the descriptor into" default:"." type:"path"`
	Format string `help:"descriptor format" default:"yaml" enum:"yaml,toml"`
	Force  bool   `help:"overwrite an existing descriptor"`
}

func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	if existing := config.Find(c.Dir); existing != "" && !c.Force {
		return fmt.Errorf("descriptor %s already exists (use --force to overwrite)", existing)
	}

	data, err := config.DefaultConfig().Marshal(c.Format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(c.Dir, "wasmbundle."+c.Format)
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 project file
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	fmt.Fprintf(stdout, "Wrote %s\n", path)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Expected layout:")
	fmt.Fprintln(stdout, "  js/index.js   entry module")
	fmt.Fprintln(stdout, "  static/       copied into dist/")
	fmt.Fprintln(stdout, "  Cargo.toml    crate compiled by wasm-pack")

	return nil
}
