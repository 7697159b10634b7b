// Package config holds the build descriptor consumed by the wasmbundle build host.
//
// A descriptor is constructed once, either from DefaultConfig or from a file via
// Load, resolved against the directory it was loaded from and then treated as
// read-only for the lifetime of the build.
package config

import (
	"bytes"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Mode is the build profile.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Plugin kinds understood by the build host.
const (
	KindCopy     = "copy"
	KindWasmPack = "wasm-pack"
	KindHTML     = "html"
)

const (
	DefaultFilename = "[name].js"
	DefaultListen   = "127.0.0.1:8080"
)

type Config struct {
	Mode        Mode              `yaml:"mode" toml:"mode"`
	Experiments Experiments       `yaml:"experiments" toml:"experiments"`
	Entry       map[string]string `yaml:"entry" toml:"entry"`
	Output      Output            `yaml:"output" toml:"output"`
	DevServer   DevServer         `yaml:"devServer" toml:"devServer"`
	Plugins     []PluginSpec      `yaml:"plugins" toml:"plugins"`

	// Context is the directory relative paths are resolved against. It is set by
	// Resolve and never serialized.
	Context string `yaml:"-" toml:"-"`
}

type Experiments struct {
	// AsyncWebAssembly allows entry modules to import .wasm files
	AsyncWebAssembly bool `yaml:"asyncWebAssembly" toml:"asyncWebAssembly"`
}

type Output struct {
	// Directory the bundle is emitted into
	Path string `yaml:"path" toml:"path"`
	// Filename pattern for entry bundles, supports [name] and [contenthash]
	Filename string `yaml:"filename" toml:"filename"`
}

type DevServer struct {
	// Directory served over HTTP in serve mode
	Static string `yaml:"static" toml:"static"`
	// Hot enables automatic page reload after a rebuild
	Hot bool `yaml:"hot" toml:"hot"`
	// Listen address for the development server
	Listen string `yaml:"listen,omitempty" toml:"listen,omitempty"`
	// CORS origins allowed to fetch from the development server
	CORS []string `yaml:"cors,omitempty" toml:"cors,omitempty"`
}

// PluginSpec is one plugin activation. Plugins run in the order they are listed.
type PluginSpec struct {
	Kind   string         `yaml:"kind" toml:"kind"`
	Params map[string]any `yaml:"params,omitempty" toml:"params,omitempty"`
}

// DefaultConfig returns the descriptor for the conventional project layout: a
// js/index.js entry, a static directory copied verbatim and a Rust crate at the
// project root. Paths are relative until Resolve is called.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeDevelopment,
		Experiments: Experiments{
			AsyncWebAssembly: true,
		},
		Entry: map[string]string{
			"index": "./js/index.js",
		},
		Output: Output{
			Path:     "dist",
			Filename: DefaultFilename,
		},
		DevServer: DevServer{
			Static: "dist",
			Hot:    false,
		},
		Plugins: []PluginSpec{
			{Kind: KindCopy, Params: map[string]any{"patterns": []any{"static"}}},
			{Kind: KindWasmPack, Params: map[string]any{"crateDirectory": "."}},
		},
	}
}

// Resolve makes every path in the descriptor absolute relative to dir and fills
// defaults for optional fields.
func (c *Config) Resolve(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}
	c.Context = abs

	entries := make(map[string]string, len(c.Entry))
	for name, path := range c.Entry {
		entries[name] = c.Path(path)
	}
	c.Entry = entries

	if c.Output.Path != "" {
		c.Output.Path = c.Path(c.Output.Path)
	}
	if c.Output.Filename == "" {
		c.Output.Filename = DefaultFilename
	}
	if c.DevServer.Static == "" {
		c.DevServer.Static = c.Output.Path
	} else {
		c.DevServer.Static = c.Path(c.DevServer.Static)
	}
	if c.DevServer.Listen == "" {
		c.DevServer.Listen = DefaultListen
	}
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}

	return nil
}

// Path resolves p against the descriptor context. Absolute paths are returned cleaned.
func (c *Config) Path(p string) string {
	if p == "" {
		return c.Context
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Context, filepath.FromSlash(p))
}

// Validate checks the descriptor before any build work starts.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("%w: unknown mode %q (expected development or production)", ErrInvalidConfig, c.Mode)
	}

	if len(c.Entry) == 0 {
		return fmt.Errorf("%w: at least one entry is required", ErrInvalidConfig)
	}
	for _, name := range c.EntryNames() {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: entry name must not be empty", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.Entry[name]) == "" {
			return fmt.Errorf("%w: entry %q has no module path", ErrInvalidConfig, name)
		}
	}

	if c.Output.Path == "" {
		return fmt.Errorf("%w: output.path is required", ErrInvalidConfig)
	}
	if len(c.Entry) > 1 && !strings.Contains(c.Output.Filename, "[name]") {
		return fmt.Errorf("%w: output.filename %q must contain [name] when there are multiple entries", ErrInvalidConfig, c.Output.Filename)
	}
	ext := filepath.Ext(c.Output.Filename)
	if ext != ".js" && ext != ".mjs" {
		return fmt.Errorf("%w: output.filename %q must end in .js or .mjs", ErrInvalidConfig, c.Output.Filename)
	}

	for i, p := range c.Plugins {
		if strings.TrimSpace(p.Kind) == "" {
			return fmt.Errorf("%w: plugins[%d] has no kind", ErrInvalidConfig, i)
		}
	}

	return nil
}

// EntryNames returns the entry names in a stable order.
func (c *Config) EntryNames() []string {
	return slices.Sorted(maps.Keys(c.Entry))
}

// Development reports whether the descriptor builds the development profile.
func (c *Config) Development() bool {
	return c.Mode != ModeProduction
}

// Marshal renders the descriptor in the given format ("yaml" or "toml").
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "", "yaml", "yml":
		buf := new(bytes.Buffer)
		enc := yaml.NewEncoder(buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	case "toml":
		data, err := toml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
