package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore reads definitions from <dir>/<name>.yaml or <dir>/<name>.yml.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Load(ctx context.Context, name string) (Definition, error) {
	if !validName(name) {
		return Definition{}, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	content, err := s.read(name)
	if err != nil {
		return Definition{}, err
	}
	return Parse(name, content)
}

func (s *FileStore) read(name string) ([]byte, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		content, err := os.ReadFile(filepath.Join(s.dir, name+ext))
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read definition %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
}

// Parse decodes one YAML definition document.
func Parse(name string, content []byte) (Definition, error) {
	doc := document{}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Definition{}, fmt.Errorf("%w: %s: empty document", ErrDefinitionMalformed, name)
		}
		return Definition{}, fmt.Errorf("%w: %s: %v", ErrDefinitionMalformed, name, err)
	}
	return doc.definition(name)
}
