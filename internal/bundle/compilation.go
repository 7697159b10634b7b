package bundle

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/wasmbundle/internal/config"
)

// Plugin is a side-effecting build step activated by the descriptor. Plugins run
// in listed order before bundling and contribute assets and module aliases to the
// compilation.
type Plugin interface {
	Name() string
	Apply(ctx context.Context, c *Compilation) error
}

// Hook runs after bundling, before anything is written to disk.
type Hook func(ctx context.Context, c *Compilation) error

// Compilation collects everything a single build produces. Nothing reaches the
// output directory until every step has succeeded.
type Compilation struct {
	BuildID string
	Config  *config.Config

	mu          sync.Mutex
	assets      map[string][]byte
	producers   map[string]string
	aliases     map[string]string
	afterBundle []Hook
	metadata    *BuildMetadata
}

func newCompilation(cfg *config.Config) *Compilation {
	return &Compilation{
		BuildID:   uuid.NewString(),
		Config:    cfg,
		assets:    make(map[string][]byte),
		producers: make(map[string]string),
		aliases:   make(map[string]string),
	}
}

// EmitAsset records a file to be written at name, relative to the output directory.
// Emitting identical content twice is allowed; different content is a conflict.
func (c *Compilation) EmitAsset(name, producer string, data []byte) error {
	clean, err := cleanAssetPath(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.assets[clean]; ok && !bytes.Equal(existing, data) {
		return fmt.Errorf("%w: %s (from %s and %s)", ErrAssetConflict, clean, c.producers[clean], producer)
	}

	c.assets[clean] = data
	c.producers[clean] = producer
	return nil
}

// Asset returns the content recorded for name.
func (c *Compilation) Asset(name string) ([]byte, bool) {
	clean, err := cleanAssetPath(name)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.assets[clean]
	return data, ok
}

// Assets returns the recorded asset names in sorted order.
func (c *Compilation) Assets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.assets))
}

// Alias makes imports of specifier resolve to the file at target while bundling.
func (c *Compilation) Alias(specifier, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[specifier] = target
}

// Aliases returns a copy of the registered module aliases.
func (c *Compilation) Aliases() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.aliases)
}

// AfterBundle registers a hook run once the entry bundles are available.
func (c *Compilation) AfterBundle(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterBundle = append(c.afterBundle, h)
}

// Metadata returns the bundle metadata, nil until bundling has completed.
func (c *Compilation) Metadata() *BuildMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

func (c *Compilation) hooks() []Hook {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.afterBundle)
}

func (c *Compilation) setMetadata(m *BuildMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = m
}

func cleanAssetPath(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssetPath, name)
	}

	clean := path.Clean(filepath.ToSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssetPath, name)
	}

	return clean, nil
}
