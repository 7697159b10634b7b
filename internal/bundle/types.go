package bundle

import (
	"errors"
	"strings"
)

type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	// Name of the entry in the build descriptor, empty for non-entry outputs
	Name       string       `json:"name,omitempty"`
	EntryPoint string       `json:"entryPoint,omitempty"`
	Imports    []ImportInfo `json:"imports"`
	Bytes      int          `json:"bytes"`
}

type ImportInfo struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// LoadScripts returns the ordered list of script paths needed for the given entry
// name and the main entry file path.
func (m *BuildMetadata) LoadScripts(name string) ([]string, string, error) {
	if m == nil {
		return nil, "", errors.New("assets not built yet, call Build() first")
	}

	scripts := []string{}
	visited := make(map[string]bool)

	for outputPath, info := range m.Outputs {
		if info.Name == name {
			entrypoint := "/" + outputPath
			scripts = append(scripts, entrypoint)
			visited[outputPath] = true
			m.addDependencies(info, &scripts, visited)
			return scripts, entrypoint, nil
		}
	}

	return nil, "", errors.New("entrypoint not found in metadata")
}

func (m *BuildMetadata) addDependencies(output OutputInfo, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if visited[imp.Path] || !isScript(imp.Path) {
			continue
		}
		visited[imp.Path] = true
		*scripts = append(*scripts, "/"+imp.Path)

		if chunkInfo, exists := m.Outputs[imp.Path]; exists {
			m.addDependencies(chunkInfo, scripts, visited)
		}
	}
}

func isScript(path string) bool {
	return strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".mjs")
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
