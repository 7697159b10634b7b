package plugin

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/config"
	"github.com/wolfeidau/wasmbundle/internal/wasmpack"
)

type WasmPackParams struct {
	CrateDirectory string            `yaml:"crateDirectory"`
	OutDir         string            `yaml:"outDir"`
	OutName        string            `yaml:"outName"`
	Target         string            `yaml:"target"`
	ExtraArgs      []string          `yaml:"extraArgs"`
	Command        string            `yaml:"command"`
	Env            map[string]string `yaml:"env"`
}

// WasmPack compiles the crate and makes it importable from the entry modules by
// its crate name.
type WasmPack struct {
	opts wasmpack.Options
}

func NewWasmPack(cfg *config.Config, params map[string]any) (bundle.Plugin, error) {
	var p WasmPackParams
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	crateDir := cfg.Path(p.CrateDirectory)
	command := p.Command
	if command != "" && filepath.Base(command) != command {
		command = cfg.Path(command)
	}

	return &WasmPack{
		opts: wasmpack.Options{
			Command:   command,
			CrateDir:  crateDir,
			OutDir:    p.OutDir,
			OutName:   p.OutName,
			Target:    p.Target,
			Release:   !cfg.Development(),
			ExtraArgs: p.ExtraArgs,
			Env:       p.Env,
		},
	}, nil
}

// Generated returns the directory wasm-pack writes its package into.
func (w *WasmPack) Generated() []string {
	dir := w.opts.OutDir
	if dir == "" {
		dir = wasmpack.DefaultOutDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(w.opts.CrateDir, dir)
	}
	return []string{dir}
}

func (w *WasmPack) Name() string {
	return config.KindWasmPack
}

func (w *WasmPack) Apply(ctx context.Context, comp *bundle.Compilation) error {
	artifacts, err := wasmpack.Build(ctx, w.opts)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(artifacts.WasmPath)
	if err != nil {
		return fmt.Errorf("failed to read wasm artifact: %w", err)
	}

	// relative imports of the glue resolve to the file on disk, bare imports
	// use the crate name
	comp.Alias(artifacts.Crate, artifacts.JSPath)

	// the glue fetches the module relative to import.meta.url, so it has to sit
	// next to every entry bundle
	name := filepath.Base(artifacts.WasmPath)
	comp.AfterBundle(func(_ context.Context, c *bundle.Compilation) error {
		for _, dir := range entryDirs(c.Metadata()) {
			if err := c.EmitAsset(path.Join(dir, name), config.KindWasmPack, data); err != nil {
				return err
			}
		}
		return nil
	})

	return nil
}

// entryDirs lists the distinct output directories holding entry bundles.
func entryDirs(metadata *bundle.BuildMetadata) []string {
	if metadata == nil {
		return []string{"."}
	}

	seen := make(map[string]bool)
	for output, info := range metadata.Outputs {
		if info.Name == "" || strings.HasSuffix(output, ".map") {
			continue
		}
		seen[path.Dir(output)] = true
	}
	if len(seen) == 0 {
		return []string{"."}
	}

	return slices.Sorted(maps.Keys(seen))
}
