package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/config"
)

type CopyParams struct {
	// Patterns are files or directories mirrored into the output
	Patterns []string `yaml:"patterns"`
	// To is an optional sub directory of the output
	To string `yaml:"to"`
}

// Copy mirrors static files verbatim into the output directory.
type Copy struct {
	sources []string
	to      string
}

func NewCopy(cfg *config.Config, params map[string]any) (bundle.Plugin, error) {
	var p CopyParams
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Patterns) == 0 {
		return nil, fmt.Errorf("copy plugin requires at least one pattern")
	}

	sources := make([]string, 0, len(p.Patterns))
	for _, pattern := range p.Patterns {
		sources = append(sources, cfg.Path(pattern))
	}

	return &Copy{sources: sources, to: filepath.ToSlash(p.To)}, nil
}

func (c *Copy) Name() string {
	return config.KindCopy
}

func (c *Copy) Apply(ctx context.Context, comp *bundle.Compilation) error {
	for _, src := range c.sources {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCopySource, err)
		}

		if !info.IsDir() {
			if err := c.copyFile(comp, src, filepath.Base(src)); err != nil {
				return err
			}
			continue
		}

		count := 0
		err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCopySource, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			count++
			return c.copyFile(comp, p, rel)
		})
		if err != nil {
			return err
		}

		log.Debug().Str("source", src).Int("files", count).Msg("Copied static assets")
	}

	return nil
}

func (c *Copy) copyFile(comp *bundle.Compilation, src, rel string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopySource, err)
	}
	return comp.EmitAsset(path.Join(c.to, filepath.ToSlash(rel)), config.KindCopy, data)
}
