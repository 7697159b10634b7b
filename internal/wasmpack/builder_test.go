package wasmpack

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
echo "[INFO]: Compiling to Wasm..."
mkdir -p "$out"
printf 'export default async function init() { return 1; }\n' > "$out/$name.js"
printf '\000asm\001\000\000\000' > "$out/${name}_bg.wasm"
echo "[INFO]: Done"
`

const failingWasmPack = `#!/bin/sh
echo "error[E0425]: cannot find value x in this scope" >&2
exit 101
`

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755)) //nolint:gosec
	return path
}

func writeCrate(t *testing.T, dir, name string) {
	t.Helper()
	manifest := "[package]\nname = \"" + name + "\"\nversion = \"0.1.0\"\n\n[lib]\ncrate-type = [\"cdylib\", \"rlib\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0o600))
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	writeCrate(t, dir, "my-game")

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "my-game", m.Package.Name)
	assert.Equal(t, "0.1.0", m.Package.Version)
	assert.True(t, m.Cdylib())
}

func TestReadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing package name", content: "[package]\nversion = \"0.1.0\"\n"},
		{name: "malformed toml", content: "[package\nname = "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(tt.content), 0o600))

			_, err := ReadManifest(dir)
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}

	_, err := ReadManifest(t.TempDir())
	require.ErrorIs(t, err, ErrInvalidManifest)
}

func TestBuildArgs(t *testing.T) {
	opts := withDefaults(Options{CrateDir: "/src/game"})
	assert.Equal(t, DefaultCommand, opts.Command)
	assert.Equal(t, "/src/game/pkg", opts.OutDir)

	args := buildArgs(opts)
	assert.Equal(t, []string{
		"build", "/src/game",
		"--target", "web",
		"--out-dir", "/src/game/pkg",
		"--out-name", "index",
		"--dev",
	}, args)

	opts.Release = true
	opts.ExtraArgs = []string{"--no-typescript"}
	args = buildArgs(opts)
	assert.Equal(t, []string{"--release", "--no-typescript"}, args[len(args)-2:])
}

func TestBuild_FakeToolchain(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script toolchain requires a unix shell")
	}

	dir := t.TempDir()
	writeCrate(t, dir, "game")
	command := writeScript(t, t.TempDir(), "wasm-pack", fakeWasmPack)

	artifacts, err := Build(context.Background(), Options{
		Command:  command,
		CrateDir: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, "game", artifacts.Crate)
	assert.Equal(t, "index", artifacts.OutName)
	assert.Equal(t, filepath.Join(dir, "pkg", "index.js"), artifacts.JSPath)
	assert.Equal(t, filepath.Join(dir, "pkg", "index_bg.wasm"), artifacts.WasmPath)
	assert.FileExists(t, artifacts.JSPath)
	assert.FileExists(t, artifacts.WasmPath)
}

func TestBuild_CompileFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script toolchain requires a unix shell")
	}

	dir := t.TempDir()
	writeCrate(t, dir, "game")
	command := writeScript(t, t.TempDir(), "wasm-pack", failingWasmPack)

	_, err := Build(context.Background(), Options{
		Command:  command,
		CrateDir: dir,
	})
	require.ErrorIs(t, err, ErrCompileFailed)
	assert.NoFileExists(t, filepath.Join(dir, "pkg", "index.js"))
}

func TestBuild_MissingCommand(t *testing.T) {
	dir := t.TempDir()
	writeCrate(t, dir, "game")

	_, err := Build(context.Background(), Options{
		Command:  filepath.Join(t.TempDir(), "does-not-exist"),
		CrateDir: dir,
	})
	require.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())
}

const envWasmPack = `#!/bin/sh
echo "PATH=[$PATH] HOME=[$HOME] FEATURES=[$WASMBUNDLE_FEATURES] COLOR=[$CARGO_TERM_COLOR]"
[ -n "$HOME" ] || { echo "HOME is not set" >&2; exit 1; }
case ":$PATH:" in
  *":$TOOLCHAIN_BIN:"*) ;;
  *) echo "cargo not found" >&2; exit 1 ;;
esac
[ "$WASMBUNDLE_FEATURES" = "webgl" ] || exit 1
[ "$CARGO_TERM_COLOR" = "never" ] || exit 1
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
printf 'export default 1;\n' > "$out/$name.js"
printf '\000asm\001\000\000\000' > "$out/${name}_bg.wasm"
`

func TestBuild_InheritsEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script toolchain requires a unix shell")
	}

	toolchain := t.TempDir()
	t.Setenv("TOOLCHAIN_BIN", toolchain)
	t.Setenv("PATH", toolchain+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CARGO_TERM_COLOR", "always")

	dir := t.TempDir()
	writeCrate(t, dir, "game")
	command := writeScript(t, t.TempDir(), "wasm-pack", envWasmPack)

	_, err := Build(context.Background(), Options{
		Command:  command,
		CrateDir: dir,
		Env:      map[string]string{"WASMBUNDLE_FEATURES": "webgl"},
	})
	require.NoError(t, err)
}
