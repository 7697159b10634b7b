package wasmpack

import "errors"

var (
	// ErrInvalidManifest indicates Cargo.toml is missing or does not name a package
	ErrInvalidManifest = errors.New("invalid crate manifest")
	// ErrCompileFailed indicates wasm-pack exited with an error
	ErrCompileFailed = errors.New("wasm-pack build failed")
	// ErrArtifactMissing indicates wasm-pack succeeded but an expected output file is absent
	ErrArtifactMissing = errors.New("wasm-pack artifact missing")
)
