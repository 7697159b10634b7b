package wasmpack

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the subset of Cargo.toml needed to locate wasm-pack's output.
type Manifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Lib struct {
		CrateType []string `toml:"crate-type"`
	} `toml:"lib"`
}

// ReadManifest loads Cargo.toml from the crate directory.
func ReadManifest(crateDir string) (*Manifest, error) {
	path := filepath.Join(crateDir, "Cargo.toml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}

	if strings.TrimSpace(m.Package.Name) == "" {
		return nil, fmt.Errorf("%w: %s has no [package] name", ErrInvalidManifest, path)
	}

	return &m, nil
}

// Cdylib reports whether the crate builds a dynamic library, which wasm-pack requires.
func (m *Manifest) Cdylib() bool {
	return slices.Contains(m.Lib.CrateType, "cdylib")
}
