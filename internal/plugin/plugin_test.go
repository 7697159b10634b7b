package plugin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/config"
	"github.com/wolfeidau/wasmbundle/internal/wasmpack"
)

const fakeWasmPack = `#!/bin/sh
out=""
name=""
while [ $# -gt 0 ]; do
  case "$1" in
    --out-dir) out="$2"; shift ;;
    --out-name) name="$2"; shift ;;
  esac
  shift
done
mkdir -p "$out"
cat > "$out/$name.js" <<JS
const name = "$name";
export default async function init() {
  const url = new URL(name + "_bg.wasm", import.meta.url);
  return url.href;
}
export function start() { return "game started"; }
JS
printf '\000asm\001\000\000\000' > "$out/${name}_bg.wasm"
`

const failingWasmPack = `#!/bin/sh
echo "error: could not compile game" >&2
exit 101
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// newProject lays out a project the way the default descriptor expects it: an
// entry module importing the crate, a static directory and a crate manifest.
func newProject(t *testing.T, toolchain string) (string, *config.Config) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script toolchain requires a unix shell")
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "js", "index.js"), `import init, { start } from "game";
init().then(() => console.log(start()));
`)
	writeFile(t, filepath.Join(dir, "static", "index.html"), "<html><script type=\"module\" src=\"index.js\"></script></html>\n")
	writeFile(t, filepath.Join(dir, "static", "assets", "sprite.png"), "png-bytes")
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname = \"game\"\nversion = \"0.1.0\"\n\n[lib]\ncrate-type = [\"cdylib\"]\n")

	command := filepath.Join(t.TempDir(), "wasm-pack")
	require.NoError(t, os.WriteFile(command, []byte(toolchain), 0o755)) //nolint:gosec

	cfg := config.DefaultConfig()
	cfg.Plugins[1].Params["command"] = command
	require.NoError(t, cfg.Resolve(dir))
	require.NoError(t, cfg.Validate())

	return dir, cfg
}

func build(t *testing.T, cfg *config.Config) (*bundle.Result, error) {
	t.Helper()
	plugins, err := FromConfig(cfg)
	require.NoError(t, err)
	return bundle.New(cfg, bundle.WithPlugins(plugins...)).Build(context.Background())
}

func TestFullBuild_ValidLayout(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)

	result, err := build(t, cfg)
	require.NoError(t, err)

	dist := filepath.Join(dir, "dist")
	assert.FileExists(t, filepath.Join(dist, "index.js"))
	assert.FileExists(t, filepath.Join(dist, "index.html"))
	assert.FileExists(t, filepath.Join(dist, "assets", "sprite.png"))
	assert.FileExists(t, filepath.Join(dist, "index_bg.wasm"))
	assert.Contains(t, result.Assets, "index_bg.wasm")

	bundled, err := os.ReadFile(filepath.Join(dist, "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(bundled), "game started")
	assert.Contains(t, string(bundled), "_bg.wasm")
}

func TestFullBuild_RelativeGlueImport(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)
	writeFile(t, filepath.Join(dir, "js", "index.js"), `import init, { start } from "../pkg/index.js";
init().then(() => console.log(start()));
`)

	result, err := build(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, result.Assets, "index_bg.wasm")

	bundled, err := os.ReadFile(filepath.Join(dir, "dist", "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(bundled), "game started")
}

func TestFullBuild_WasmNextToNestedEntry(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)
	cfg.Output.Filename = "js/[name].js"
	require.NoError(t, cfg.Validate())

	result, err := build(t, cfg)
	require.NoError(t, err)

	dist := filepath.Join(dir, "dist")
	assert.FileExists(t, filepath.Join(dist, "js", "index.js"))
	assert.FileExists(t, filepath.Join(dist, "js", "index_bg.wasm"))
	assert.NoFileExists(t, filepath.Join(dist, "index_bg.wasm"))
	assert.Contains(t, result.Assets, "js/index_bg.wasm")
}

func TestFullBuild_MissingEntry(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)
	require.NoError(t, os.Remove(filepath.Join(dir, "js", "index.js")))

	_, err := build(t, cfg)
	require.ErrorIs(t, err, bundle.ErrEntryNotFound)
	assert.NoDirExists(t, filepath.Join(dir, "dist"))
	assert.NoDirExists(t, filepath.Join(dir, "pkg"), "the crate must not be compiled")
}

func TestFullBuild_EmptyStaticDirectory(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "static")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0o755))

	result, err := build(t, cfg)
	require.NoError(t, err)
	assert.NotContains(t, result.Assets, "index.html")
	assert.FileExists(t, filepath.Join(dir, "dist", "index.js"))
}

func TestFullBuild_MissingStaticDirectory(t *testing.T) {
	dir, cfg := newProject(t, fakeWasmPack)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "static")))

	_, err := build(t, cfg)
	require.ErrorIs(t, err, bundle.ErrPluginFailed)
	require.ErrorIs(t, err, ErrCopySource)
	assert.NoDirExists(t, filepath.Join(dir, "dist"))
}

func TestFullBuild_CompileFailure(t *testing.T) {
	dir, cfg := newProject(t, failingWasmPack)

	_, err := build(t, cfg)
	require.ErrorIs(t, err, bundle.ErrPluginFailed)
	require.ErrorIs(t, err, wasmpack.ErrCompileFailed)
	assert.NoFileExists(t, filepath.Join(dir, "dist", "index.js"))
	assert.NoDirExists(t, filepath.Join(dir, "dist"))
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(t.TempDir()))

	plugins, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, config.KindCopy, plugins[0].Name())
	assert.Equal(t, config.KindWasmPack, plugins[1].Name())

	cfg.Plugins = append(cfg.Plugins, config.PluginSpec{Kind: "minify-css"})
	_, err = FromConfig(cfg)
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestNewCopy_RequiresPatterns(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(t.TempDir()))

	_, err := NewCopy(cfg, nil)
	require.Error(t, err)
}

func TestCopy_FileAndSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "robots.txt"), "User-agent: *\n")
	writeFile(t, filepath.Join(dir, "fonts", "a.woff2"), "font")

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(dir))

	p, err := NewCopy(cfg, map[string]any{
		"patterns": []any{"robots.txt", "fonts"},
		"to":       "public",
	})
	require.NoError(t, err)

	plugins := []bundle.Plugin{p}
	writeFile(t, filepath.Join(dir, "js", "index.js"), "console.log(1);\n")

	result, err := bundle.New(cfg, bundle.WithPlugins(plugins...)).Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Assets, "public/robots.txt")
	assert.Contains(t, result.Assets, "public/a.woff2")
}

func TestHTML_GeneratesPage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "js", "index.js"), "console.log('page');\n")

	cfg := config.DefaultConfig()
	cfg.Output.Filename = "[name].[contenthash].js"
	cfg.Plugins = []config.PluginSpec{{Kind: config.KindHTML, Params: map[string]any{"title": "Game"}}}
	require.NoError(t, cfg.Resolve(dir))

	result, err := build(t, cfg)
	require.NoError(t, err)
	assert.Contains(t, result.Assets, "index.html")

	page, err := os.ReadFile(filepath.Join(dir, "dist", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>Game</title>")

	var script string
	for _, name := range result.Assets {
		if strings.HasPrefix(name, "index.") && strings.HasSuffix(name, ".js") {
			script = name
		}
	}
	require.NotEmpty(t, script)
	assert.Contains(t, string(page), `src="/`+script+`"`)
}

func TestHTML_CustomTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "js", "index.js"), "console.log('page');\n")
	writeFile(t, filepath.Join(dir, "page.tmpl"), `<main data-build="{{ .Mode }}">{{ range .Scripts }}{{ . }}{{ end }}</main>`)

	cfg := config.DefaultConfig()
	cfg.Plugins = []config.PluginSpec{{Kind: config.KindHTML, Params: map[string]any{"template": "page.tmpl", "filename": "app.html"}}}
	require.NoError(t, cfg.Resolve(dir))

	_, err := build(t, cfg)
	require.NoError(t, err)

	page, err := os.ReadFile(filepath.Join(dir, "dist", "app.html"))
	require.NoError(t, err)
	assert.Equal(t, `<main data-build="development">/index.js</main>`, string(page))
}

func TestHTML_UnknownEntry(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(t.TempDir()))

	_, err := NewHTML(cfg, map[string]any{"entry": "admin"})
	require.Error(t, err)
}

func TestGeneratedDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(dir))

	plugins, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "pkg")}, GeneratedDirs(plugins))
}
