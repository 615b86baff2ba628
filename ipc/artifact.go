package ipc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TreeFile is the file name of the namespace tree artifact.
const TreeFile = "ipc-channels.json"

// WriteArtifact writes data as name into every directory in dirs,
// creating directories as needed. A failing directory is logged and
// skipped. It returns the paths that were written.
func WriteArtifact(name string, data []byte, dirs []string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	var written []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if err := writeFile(path, data); err != nil {
			logger.Warn("failed to write artifact", "path", path, "error", err)
			continue
		}
		logger.Info("wrote artifact", "path", path)
		written = append(written, path)
	}
	return written
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalTree renders a tree as indented JSON.
func MarshalTree(tree Tree) ([]byte, error) {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteTree writes the current namespace tree to TreeFile in every dir.
func (r *Router) WriteTree(dirs ...string) ([]string, error) {
	data, err := MarshalTree(r.NamespaceTree())
	if err != nil {
		return nil, fmt.Errorf("encoding namespace tree: %w", err)
	}
	return WriteArtifact(TreeFile, data, dirs, r.logger), nil
}
