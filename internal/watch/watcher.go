// Package watch triggers rebuilds when project sources change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DefaultDebounce = 200 * time.Millisecond

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/target/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

type Config struct {
	// BaseDir is the directory paths and patterns are relative to.
	BaseDir string

	// Paths are the roots watched recursively. Empty means BaseDir.
	Paths []string

	// Ignore holds doublestar patterns, relative to BaseDir, merged with the defaults.
	Ignore []string

	Debounce time.Duration

	// OnChange is called once per quiet period with the changed paths relative
	// to BaseDir. Calls never overlap.
	OnChange func(ctx context.Context, changed []string) error
}

type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	debounce time.Duration
	started  atomic.Bool
}

func New(cfg Config) (*Watcher, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("watch: base directory is required")
	}

	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}
	cfg.BaseDir = base

	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: cfg.Debounce,
	}

	roots := cfg.Paths
	if len(roots) == 0 {
		roots = []string{base}
	}
	for _, root := range roots {
		if !filepath.IsAbs(root) {
			root = filepath.Join(base, root)
		}
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// Run processes filesystem events until ctx is cancelled. It may only be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close file watcher")
		}
	}()

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			// a rebuild is in progress, try again once it has had time to finish
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		log.Debug().Strs("changed", changed).Msg("Sources changed")

		if err := w.cfg.OnChange(ctx, changed); err != nil {
			log.Error().Err(err).Msg("Rebuild failed")
		}
	}

	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}

			rel := w.rel(evt.Name)
			if w.isIgnored(rel) {
				continue
			}

			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn().Err(err).Msg("File watcher dropped events")
				continue
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", root).Msg("Skipping missing watch path")
			return nil
		}
		return fmt.Errorf("watch: stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return w.add(root)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping inaccessible path")
			return nil //nolint:nilerr
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnoredDir(w.rel(path)) {
			return filepath.SkipDir
		}
		return w.add(path)
	})
}

func (w *Watcher) add(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch: add %q: %w", path, err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if w.isIgnoredDir(w.rel(path)) {
		return
	}
	if err := w.addTree(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to watch new directory")
	}
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.cfg.BaseDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) isIgnored(rel string) bool {
	for _, pat := range w.ignores {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// isIgnoredDir also matches "dir/**" style patterns against the directory itself.
func (w *Watcher) isIgnoredDir(rel string) bool {
	if rel == "." {
		return false
	}
	return w.isIgnored(rel) || w.isIgnored(rel+"/")
}

// IgnoreDir returns the pattern excluding dir, or "" when dir lies outside base.
func IgnoreDir(base, dir string) string {
	rel, err := filepath.Rel(base, dir)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return ""
	}
	return rel + "/**"
}
