package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, cfg Config) chan []string {
	t.Helper()

	changes := make(chan []string, 10)
	cfg.Debounce = 50 * time.Millisecond
	cfg.OnChange = func(_ context.Context, changed []string) error {
		changes <- changed
		return nil
	}

	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})

	// let the event loop start
	time.Sleep(50 * time.Millisecond)
	return changes
}

func waitChange(t *testing.T, changes chan []string) []string {
	t.Helper()
	select {
	case changed := <-changes:
		return changed
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func TestWatcher_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, Config{BaseDir: dir})

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
		time.Sleep(5 * time.Millisecond)
	}

	changed := waitChange(t, changes)
	assert.Subset(t, changed, []string{"a.js", "b.js", "c.js"})

	select {
	case extra := <-changes:
		t.Fatalf("unexpected second callback: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOutputAndDefaults(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"dist", ".git", "src"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}

	changes := startWatcher(t, Config{
		BaseDir: dir,
		Ignore:  []string{IgnoreDir(dir, filepath.Join(dir, "dist"))},
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dist", "index.js"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("x"), 0o600))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("x"), 0o600))

	changed := waitChange(t, changes)
	assert.Equal(t, []string{"src/lib.rs"}, changed)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, Config{BaseDir: dir})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0o755))
	waitChange(t, changes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "game.js"), []byte("x"), 0o600))
	changed := waitChange(t, changes)
	assert.Contains(t, changed, "js/game.js")
}

func TestWatcher_Paths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "other"), 0o755))

	changes := startWatcher(t, Config{BaseDir: dir, Paths: []string{"src", "missing"}})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other", "x.txt"), []byte("x"), 0o600))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.rs"), []byte("x"), 0o600))

	changed := waitChange(t, changes)
	assert.Equal(t, []string{"src/main.rs"}, changed)
}

func TestWatcher_RunTwice(t *testing.T) {
	w, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	require.Error(t, w.Run(ctx))
}

func TestNew_InvalidIgnore(t *testing.T) {
	_, err := New(Config{BaseDir: t.TempDir(), Ignore: []string{"[unclosed"}})
	require.Error(t, err)

	_, err = New(Config{})
	require.Error(t, err)
}

func TestIgnoreDir(t *testing.T) {
	assert.Equal(t, "dist/**", IgnoreDir("/p", "/p/dist"))
	assert.Equal(t, "web/pkg/**", IgnoreDir("/p", "/p/web/pkg"))
	assert.Empty(t, IgnoreDir("/p", "/p"))
	assert.Empty(t, IgnoreDir("/p", "/elsewhere/dist"))
}
