// Package plugin provides the build steps a descriptor can activate: copying
// static assets, compiling a crate with wasm-pack and generating an HTML page.
package plugin

import (
	"fmt"

	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/config"
)

// Factory builds a plugin from its descriptor params.
type Factory func(cfg *config.Config, params map[string]any) (bundle.Plugin, error)

var registry = map[string]Factory{
	config.KindCopy:     NewCopy,
	config.KindWasmPack: NewWasmPack,
	config.KindHTML:     NewHTML,
}

// FromConfig activates the descriptor's plugins in listed order.
func FromConfig(cfg *config.Config) ([]bundle.Plugin, error) {
	plugins := make([]bundle.Plugin, 0, len(cfg.Plugins))
	for i, spec := range cfg.Plugins {
		factory, ok := registry[spec.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: plugins[%d] %q", ErrUnknownPlugin, i, spec.Kind)
		}

		p, err := factory(cfg, spec.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to configure plugin %q: %w", spec.Kind, err)
		}
		plugins = append(plugins, p)
	}

	return plugins, nil
}

// Generator is implemented by plugins that write into the source tree.
type Generator interface {
	Generated() []string
}

// GeneratedDirs collects the directories plugins write outside the output path.
func GeneratedDirs(plugins []bundle.Plugin) []string {
	var dirs []string
	for _, p := range plugins {
		if g, ok := p.(Generator); ok {
			dirs = append(dirs, g.Generated()...)
		}
	}
	return dirs
}
