package linker

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// File is the raw content of one input, addressed by its canonical path.
type File struct {
	Name     string
	Path     string
	Contents []byte
}

// MemoryAreas hands out file contents by canonical path. Recently used
// contents stay cached so an input named twice on the command line, or
// re-read by a later pass, is not loaded again.
type MemoryAreas struct {
	cache  *lru.Cache[string, []byte]
	logger *zap.Logger
}

func NewMemoryAreas(size int, logger *zap.Logger) (*MemoryAreas, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.NewWithEvict[string, []byte](size, func(path string, _ []byte) {
		logger.Debug("evict memory area", zap.String("path", path))
	})
	if err != nil {
		return nil, err
	}
	return &MemoryAreas{cache: cache, logger: logger}, nil
}

func CanonicalPath(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

func (m *MemoryAreas) Open(name string) (*File, error) {
	path, err := CanonicalPath(name)
	if err != nil {
		return nil, err
	}

	if contents, ok := m.cache.Get(path); ok {
		return &File{Name: name, Path: path, Contents: contents}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m.cache.Add(path, contents)
	return &File{Name: name, Path: path, Contents: contents}, nil
}

func (m *MemoryAreas) Len() int {
	return m.cache.Len()
}

// FindLibrary searches the library paths for -l<name>, taking the first
// directory that holds lib<name>.so or lib<name>.a. Archives are extracted
// before linking, so finding one, or asking for static binding, is an error.
func (c *Context) FindLibrary(name string, attr InputAttribute) (*File, error) {
	if attr.Static {
		return nil, fmt.Errorf("%w: -l%s: static library requested; archives are extracted externally",
			ErrBadInput, name)
	}

	for _, dir := range c.Args.LibraryPaths {
		path := filepath.Join(dir, "lib"+name+".so")
		if _, err := os.Stat(path); err == nil {
			return c.Areas.Open(path)
		}
		archive := filepath.Join(dir, "lib"+name+".a")
		if _, err := os.Stat(archive); err == nil {
			return nil, fmt.Errorf("%w: -l%s: %s is an archive; archives are extracted externally",
				ErrBadInput, name, archive)
		}
	}
	return nil, fmt.Errorf("%w: library not found: -l%s", ErrBadInput, name)
}
