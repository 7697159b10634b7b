package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
)

// emit writes the compilation's assets into the output directory. Assets whose
// checksum matches what the previous build wrote are left untouched, and assets
// the previous build wrote that are no longer produced are removed.
func (p *Pipeline) emit(comp *Compilation) (int, int, error) {
	outdir := p.config.Output.Path

	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrOutputNotWritable, err)
	}

	next := make(map[string]uint64)
	written, skipped := 0, 0

	for _, name := range comp.Assets() {
		data, _ := comp.Asset(name)
		sum := computeCRC64(data)
		next[name] = sum

		target := filepath.Join(outdir, filepath.FromSlash(name))

		if prev, ok := p.emitted[name]; ok && prev == sum && fileExists(target) {
			skipped++
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, skipped, fmt.Errorf("%w: %w", ErrOutputNotWritable, err)
		}
		// #nosec G306 - emitted assets are served to browsers and must be world readable
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return written, skipped, fmt.Errorf("%w: %w", ErrOutputNotWritable, err)
		}
		written++
	}

	for name := range p.emitted {
		if _, ok := next[name]; ok {
			continue
		}
		target := filepath.Join(outdir, filepath.FromSlash(name))
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", target).Msg("Failed to remove stale asset")
			continue
		}
		log.Debug().Str("file", target).Msg("Removed stale asset")
	}

	p.emitted = next

	return written, skipped, nil
}

// checkWritable verifies the output directory exists and is writable, or that its
// nearest existing ancestor is, without creating anything.
func checkWritable(outdir string) error {
	dir := outdir

	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%w: %s is not a directory", ErrOutputNotWritable, dir)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrOutputNotWritable, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("%w: no existing parent for %s", ErrOutputNotWritable, outdir)
		}
		dir = parent
	}

	f, err := os.CreateTemp(dir, ".wasmbundle-write-check-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputNotWritable, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return nil
}

// computeCRC64 computes CRC64-NVME checksum
func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
