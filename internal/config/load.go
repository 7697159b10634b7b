package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Filenames searched by Find, in order.
var Filenames = []string{"wasmbundle.yaml", "wasmbundle.yml", "wasmbundle.toml"}

// Load reads a descriptor file and resolves it against the file's directory.
// The format is chosen by extension, defaulting to YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := cfg.Resolve(filepath.Dir(path)); err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Str("context", cfg.Context).Msg("Loaded build configuration")

	return cfg, nil
}

// Find returns the first descriptor file present in dir, or "" when there is none.
func Find(dir string) string {
	for _, name := range Filenames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// DecodeParams converts a plugin's loosely typed params into out, which should be a
// pointer to a struct with yaml tags.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}

	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode plugin params: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode plugin params: %w", err)
	}

	return nil
}
