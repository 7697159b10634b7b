// Package bundle implements the build host: it resolves the descriptor's entries,
// runs the activated plugins in order, bundles the entries with esbuild and emits
// the collected assets into the output directory.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/wasmbundle/internal/config"
	"github.com/wolfeidau/wasmbundle/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MetafileName is the asset the bundle metadata is written to.
const MetafileName = "meta.json"

// Pipeline manages the build process for a single descriptor.
type Pipeline struct {
	config   *config.Config
	plugins  []Plugin
	banner   string
	metadata *BuildMetadata
	emitted  map[string]uint64
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	mu       sync.RWMutex
}

type Option func(*Pipeline)

// WithPlugins appends plugins, preserving their order.
func WithPlugins(plugins ...Plugin) Option {
	return func(p *Pipeline) {
		p.plugins = append(p.plugins, plugins...)
	}
}

// WithBanner prepends js to every emitted entry bundle.
func WithBanner(js string) Option {
	return func(p *Pipeline) {
		p.banner = js
	}
}

// WithTelemetry records spans and metrics with the given providers instead of
// the global ones.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(p *Pipeline) {
		p.tracer = tp.Tracer(telemetry.InstrumentationName)
		p.metrics = telemetry.NewMetrics(mp)
	}
}

// New creates a new build pipeline for the given resolved descriptor
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:  cfg,
		emitted: make(map[string]uint64),
		tracer:  otel.Tracer(telemetry.InstrumentationName),
		metrics: telemetry.NewMetrics(otel.GetMeterProvider()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Result struct {
	BuildID  string
	Duration time.Duration
	Assets   []string
	Written  int
	Skipped  int
}

// Build runs one complete build. Any failure aborts the build before the output
// directory is touched.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	comp := newCompilation(p.config)
	logger := log.With().Str("build_id", comp.BuildID).Logger()

	attrs := []attribute.KeyValue{attribute.String("build.mode", string(p.config.Mode))}

	ctx, span := p.tracer.Start(ctx, "build", trace.WithAttributes(
		append(attrs,
			attribute.String("build.id", comp.BuildID),
			attribute.StringSlice("build.entries", p.config.EntryNames()),
		)...,
	))
	defer span.End()

	p.metrics.BuildsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	result, err := p.run(ctx, comp, logger)

	elapsed := time.Since(started)
	p.metrics.BuildDuration.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(append(attrs, attribute.Bool("success", err == nil))...))

	if err != nil {
		p.metrics.BuildErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result.Duration = elapsed
	span.SetAttributes(attribute.Int("build.assets", len(result.Assets)))

	logger.Info().
		Int("assets", len(result.Assets)).
		Int("written", result.Written).
		Int("unchanged", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Build complete")

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, comp *Compilation, logger zerolog.Logger) (*Result, error) {
	logger.Info().
		Str("mode", string(p.config.Mode)).
		Strs("entries", p.config.EntryNames()).
		Str("output", p.config.Output.Path).
		Msg("Starting build")

	if err := p.resolveEntries(); err != nil {
		return nil, err
	}

	if err := checkWritable(p.config.Output.Path); err != nil {
		return nil, err
	}

	for _, plugin := range p.plugins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.applyPlugin(ctx, plugin, comp, logger); err != nil {
			return nil, err
		}
	}

	var metadata *BuildMetadata
	err := p.phase(ctx, "bundle", func(context.Context) error {
		var err error
		metadata, err = p.bundle(comp, logger)
		return err
	})
	if err != nil {
		return nil, err
	}
	comp.setMetadata(metadata)

	for _, hook := range comp.hooks() {
		err := p.phase(ctx, "after bundle", func(ctx context.Context) error {
			return hook(ctx, comp)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPluginFailed, err)
		}
	}

	var written, skipped int
	err = p.phase(ctx, "emit", func(ctx context.Context) error {
		if err := p.emitMetafile(comp, metadata); err != nil {
			return err
		}
		var err error
		written, skipped, err = p.emit(comp)
		if err != nil {
			return err
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("emit.written", written),
			attribute.Int("emit.skipped", skipped),
		)
		p.metrics.AssetsWrittenTotal.Add(ctx, int64(written))
		p.metrics.AssetsSkippedTotal.Add(ctx, int64(skipped))
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metadata = metadata

	return &Result{
		BuildID: comp.BuildID,
		Assets:  comp.Assets(),
		Written: written,
		Skipped: skipped,
	}, nil
}

func (p *Pipeline) applyPlugin(ctx context.Context, plugin Plugin, comp *Compilation, logger zerolog.Logger) error {
	started := time.Now()
	logger.Debug().Str("plugin", plugin.Name()).Msg("Applying plugin")

	err := p.phase(ctx, "plugin "+plugin.Name(), func(ctx context.Context) error {
		return plugin.Apply(ctx, comp)
	}, attribute.String("plugin.name", plugin.Name()))

	p.metrics.PluginDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(
		attribute.String("plugin.name", plugin.Name()),
		attribute.Bool("success", err == nil),
	))

	if err != nil {
		logger.Error().Err(err).Str("plugin", plugin.Name()).Msg("Plugin failed")
		return fmt.Errorf("%w: %s: %w", ErrPluginFailed, plugin.Name(), err)
	}

	logger.Debug().Str("plugin", plugin.Name()).Dur("duration", time.Since(started)).Msg("Plugin finished")
	return nil
}

// phase runs fn inside a child span of the build, marking the span failed when fn errors.
func (p *Pipeline) phase(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// LoadScripts returns the ordered list of script paths needed for the given entry
// and the main entry file path
func (p *Pipeline) LoadScripts(name string) ([]string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.metadata.LoadScripts(name)
}

func (p *Pipeline) resolveEntries() error {
	for _, name := range p.config.EntryNames() {
		entryPath := p.config.Entry[name]

		info, err := os.Stat(entryPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: entry %q (%s)", ErrEntryNotFound, name, entryPath)
			}
			return fmt.Errorf("%w: entry %q: %w", ErrEntryNotFound, name, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: entry %q (%s) is a directory", ErrEntryNotFound, name, entryPath)
		}
	}
	return nil
}

type esbuildMetafile struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint"`
		Bytes      int    `json:"bytes"`
		Imports    []struct {
			Path     string `json:"path"`
			Kind     string `json:"kind"`
			External bool   `json:"external"`
		} `json:"imports"`
	} `json:"outputs"`
}

func (p *Pipeline) bundle(comp *Compilation, logger zerolog.Logger) (*BuildMetadata, error) {
	outdir := p.config.Output.Path
	ext := filepath.Ext(p.config.Output.Filename)
	dev := p.config.Development()

	entryPoints := make([]api.EntryPoint, 0, len(p.config.Entry))
	for _, name := range p.config.EntryNames() {
		entryPoints = append(entryPoints, api.EntryPoint{
			InputPath:  p.config.Entry[name],
			OutputPath: name,
		})
	}

	opts := api.BuildOptions{
		EntryPointsAdvanced: entryPoints,
		EntryNames:          entryNames(p.config.Output.Filename),
		AbsWorkingDir:       p.config.Context,
		Bundle:              true,
		Write:               false,
		Outdir:              outdir,
		Format:              api.FormatESModule,
		Platform:            api.PlatformBrowser,
		Target:              api.ES2020,
		MinifyWhitespace:    !dev,
		MinifyIdentifiers:   !dev,
		MinifySyntax:        !dev,
		TreeShaking:         api.TreeShakingTrue,
		Sourcemap:           cond(dev, api.SourceMapLinked, api.SourceMapNone),
		Metafile:            true,
		LogLevel:            api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": strconv.Quote(string(p.config.Mode)),
		},
		Plugins: []api.Plugin{aliasPlugin(comp.Aliases())},
	}

	if ext == ".mjs" {
		opts.OutExtension = map[string]string{".js": ".mjs"}
	}
	if p.config.Experiments.AsyncWebAssembly {
		opts.Loader = map[string]api.Loader{".wasm": api.LoaderFile}
	}
	if p.banner != "" {
		opts.Banner = map[string]string{"js": p.banner}
	}

	logger.Debug().Strs("entrypoints", p.config.EntryNames()).Msg("Bundling entries")

	result := api.Build(opts)

	for _, msg := range result.Warnings {
		logger.Warn().Str("warning", msg.Text).Str("location", formatLocation(msg.Location)).Msg("Bundle warning")
	}

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			logger.Error().Str("error", msg.Text).Str("location", formatLocation(msg.Location)).Msg("Build error")
		}
		return nil, fmt.Errorf("%w: %s", ErrBundleFailed, result.Errors[0].Text)
	}

	for _, file := range result.OutputFiles {
		rel, err := p.outputRel(file.Path)
		if err != nil {
			return nil, err
		}
		if err := comp.EmitAsset(rel, "bundle", file.Contents); err != nil {
			return nil, err
		}
		logger.Debug().Str("file", rel).Int("bytes", len(file.Contents)).Msg("Built file")
	}

	var raw esbuildMetafile
	if err := json.Unmarshal([]byte(result.Metafile), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse esbuild metafile: %w", err)
	}

	byInput := make(map[string]string, len(p.config.Entry))
	for name, entryPath := range p.config.Entry {
		byInput[filepath.Clean(entryPath)] = name
	}

	metadata := &BuildMetadata{Outputs: make(map[string]OutputInfo, len(raw.Outputs))}
	for key, out := range raw.Outputs {
		rel, err := p.outputRel(p.contextPath(key))
		if err != nil {
			return nil, err
		}

		info := OutputInfo{
			EntryPoint: out.EntryPoint,
			Bytes:      out.Bytes,
			Imports:    []ImportInfo{},
		}
		if out.EntryPoint != "" {
			info.Name = byInput[p.contextPath(out.EntryPoint)]
		}
		for _, imp := range out.Imports {
			importPath := imp.Path
			if !imp.External {
				if r, err := p.outputRel(p.contextPath(imp.Path)); err == nil {
					importPath = r
				}
			}
			info.Imports = append(info.Imports, ImportInfo{Path: importPath, Kind: imp.Kind})
		}
		metadata.Outputs[rel] = info
	}

	return metadata, nil
}

func (p *Pipeline) emitMetafile(comp *Compilation, metadata *BuildMetadata) error {
	if _, exists := comp.Asset(MetafileName); exists {
		log.Warn().Str("file", MetafileName).Msg("Asset already provided, skipping bundle metadata")
		return nil
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bundle metadata: %w", err)
	}

	return comp.EmitAsset(MetafileName, "bundle", data)
}

func (p *Pipeline) outputRel(file string) (string, error) {
	rel, err := filepath.Rel(p.config.Output.Path, file)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output file %s: %w", file, err)
	}
	return filepath.ToSlash(rel), nil
}

// aliasPlugin resolves registered module specifiers to fixed files.
func aliasPlugin(aliases map[string]string) api.Plugin {
	return api.Plugin{
		Name: "wasmbundle-alias",
		Setup: func(pb api.PluginBuild) {
			for specifier, target := range aliases {
				pb.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(specifier) + "$"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: target}, nil
				})
			}
		},
	}
}

// entryNames turns the output filename pattern into an esbuild entry names
// template. Entries carry their descriptor name as output path, so [dir] is empty.
func entryNames(pattern string) string {
	pattern = strings.TrimSuffix(pattern, path.Ext(pattern))
	return strings.NewReplacer("[contenthash]", "[hash]").Replace(pattern)
}

// contextPath resolves a path from the esbuild metafile, which is relative to
// the descriptor context.
func (p *Pipeline) contextPath(rel string) string {
	return filepath.Clean(filepath.Join(p.config.Context, filepath.FromSlash(rel)))
}

func formatLocation(loc *api.Location) string {
	if loc == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}
