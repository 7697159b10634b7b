package bundle

import "errors"

var (
	// ErrEntryNotFound indicates an entry module path does not resolve to a file
	ErrEntryNotFound = errors.New("entry module not found")
	// ErrOutputNotWritable indicates the output directory cannot be created or written
	ErrOutputNotWritable = errors.New("output path is not writable")
	// ErrPluginFailed indicates a plugin step failed and the build was aborted
	ErrPluginFailed = errors.New("plugin failed")
	// ErrBundleFailed indicates esbuild reported errors while bundling
	ErrBundleFailed = errors.New("bundling failed")
	// ErrAssetConflict indicates two steps emitted different content to the same file
	ErrAssetConflict = errors.New("conflicting assets emitted to the same filename")
	// ErrInvalidAssetPath indicates an asset path escapes the output directory
	ErrInvalidAssetPath = errors.New("invalid asset path")
)
