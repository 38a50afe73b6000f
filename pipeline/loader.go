package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileLoader finds pipeline documents on disk by name or path.
type FileLoader struct {
	dirs []string
}

// NewFileLoader creates a loader that searches dirs for <name>.yaml,
// <name>.yml and <name>/metadata.yaml.
func NewFileLoader(dirs ...string) *FileLoader {
	return &FileLoader{dirs: dirs}
}

// Load resolves name to a document. A name that is an existing file path
// is read directly.
func (l *FileLoader) Load(name string) (*Document, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return ReadFile(name)
	}
	for _, dir := range l.dirs {
		candidates := []string{
			filepath.Join(dir, name+".yaml"),
			filepath.Join(dir, name+".yml"),
			filepath.Join(dir, name, metadataFile),
		}
		for _, path := range candidates {
			if doc, err := ReadFile(path); err == nil {
				return doc, nil
			}
		}
	}
	return nil, fmt.Errorf("pipeline %q not found in %v", name, l.dirs)
}

// ReadFile parses the document at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}
