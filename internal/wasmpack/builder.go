// Package wasmpack compiles a Rust crate into a WebAssembly module and its
// JavaScript glue by running wasm-pack as a subprocess. Toolchain output is
// streamed to the logger as it arrives and the tail is kept so a failed build can
// report the compiler diagnostics.
package wasmpack

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	consolestream "github.com/wolfeidau/console-stream"
)

const (
	DefaultCommand = "wasm-pack"
	DefaultTarget  = "web"
	DefaultOutDir  = "pkg"
	DefaultOutName = "index"

	// maxDiagnostics bounds the toolchain output kept for error messages
	maxDiagnostics = 16 * 1024
)

type Options struct {
	// Command is the wasm-pack executable, defaults to "wasm-pack"
	Command string
	// CrateDir is the absolute path of the directory holding Cargo.toml
	CrateDir string
	// OutDir receives the generated files, relative paths are resolved against CrateDir
	OutDir string
	// OutName is the generated file stem, defaults to "index"
	OutName string
	// Target is the wasm-pack target, defaults to "web"
	Target string
	// Release builds with optimisations, otherwise --dev is passed
	Release bool
	// ExtraArgs are appended after the generated arguments
	ExtraArgs []string
	// Env is added to the subprocess environment
	Env map[string]string
}

// Artifacts describes the files wasm-pack produced.
type Artifacts struct {
	Crate    string
	OutName  string
	OutDir   string
	JSPath   string
	WasmPath string
	Duration time.Duration
}

// Build runs wasm-pack for the crate and verifies the expected artifacts exist.
func Build(ctx context.Context, opts Options) (*Artifacts, error) {
	startTime := time.Now()

	manifest, err := ReadManifest(opts.CrateDir)
	if err != nil {
		return nil, err
	}
	if !manifest.Cdylib() {
		log.Warn().Str("crate", manifest.Package.Name).Msg("Crate does not declare crate-type cdylib, wasm-pack may refuse to build it")
	}

	opts = withDefaults(opts)
	args := buildArgs(opts)

	log.Info().
		Str("crate", manifest.Package.Name).
		Str("command", opts.Command).
		Strs("args", args).
		Msg("Compiling crate")

	diagnostics, err := run(ctx, opts, args, manifest.Package.Name)
	if err != nil {
		return nil, err
	}

	artifacts := &Artifacts{
		Crate:    manifest.Package.Name,
		OutName:  opts.OutName,
		OutDir:   opts.OutDir,
		JSPath:   filepath.Join(opts.OutDir, opts.OutName+".js"),
		WasmPath: filepath.Join(opts.OutDir, opts.OutName+"_bg.wasm"),
	}

	for _, path := range []string{artifacts.JSPath, artifacts.WasmPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrArtifactMissing, path, diagnostics)
		}
	}

	artifacts.Duration = time.Since(startTime)

	log.Info().
		Str("crate", artifacts.Crate).
		Str("wasm", artifacts.WasmPath).
		Dur("duration", artifacts.Duration).
		Msg("Crate compiled")

	return artifacts, nil
}

func withDefaults(opts Options) Options {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.Target == "" {
		opts.Target = DefaultTarget
	}
	if opts.OutDir == "" {
		opts.OutDir = DefaultOutDir
	}
	if !filepath.IsAbs(opts.OutDir) {
		opts.OutDir = filepath.Join(opts.CrateDir, opts.OutDir)
	}
	if opts.OutName == "" {
		opts.OutName = DefaultOutName
	}
	return opts
}

func buildArgs(opts Options) []string {
	args := []string{
		"build", opts.CrateDir,
		"--target", opts.Target,
		"--out-dir", opts.OutDir,
		"--out-name", opts.OutName,
	}

	if opts.Release {
		args = append(args, "--release")
	} else {
		args = append(args, "--dev")
	}

	return append(args, opts.ExtraArgs...)
}

// run executes wasm-pack via console-stream, logging output as it arrives and
// returning the tail of that output.
func run(ctx context.Context, opts Options, args []string, crate string) (string, error) {
	env := map[string]string{
		"CARGO_TERM_COLOR": "never",
	}
	for k, v := range opts.Env {
		env[k] = v
	}

	process := consolestream.NewProcess(opts.Command, args,
		consolestream.WithPipeMode(),
		consolestream.WithFlushInterval(100*time.Millisecond),
		// the toolchain needs PATH and HOME to find cargo and rustup
		consolestream.WithEnv(os.Environ()),
		consolestream.WithEnvMap(env),
	)

	diagnostics := &tailBuffer{limit: maxDiagnostics}

	var (
		lastError error
		exited    bool
	)
	for event, err := range process.ExecuteAndStream(ctx) {
		if err != nil {
			lastError = err
			break
		}

		switch e := event.Event.(type) {
		case *consolestream.OutputData:
			diagnostics.Write(e.Data)
			for line := range strings.Lines(string(e.Data)) {
				if line = strings.TrimRight(line, "\r\n"); line != "" {
					log.Info().Str("crate", crate).Msg(line)
				}
			}
		case *consolestream.ProcessEnd:
			if e.ExitCode != 0 {
				return diagnostics.String(), fmt.Errorf("%w: exit code %d\n%s", ErrCompileFailed, e.ExitCode, diagnostics.String())
			}
			exited = true
		}
	}

	if lastError != nil {
		return diagnostics.String(), fmt.Errorf("%w: %w\n%s", ErrCompileFailed, lastError, diagnostics.String())
	}
	if !exited {
		return diagnostics.String(), fmt.Errorf("%w: process ended without an exit status\n%s", ErrCompileFailed, diagnostics.String())
	}

	return diagnostics.String(), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
