// Package modelcache encapsulates path knowledge for the model cache
// directory. It provides a Dir value object with accessors for cached
// artifacts and their download staging files.
package modelcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// partialSuffix marks an in-flight download.
const partialSuffix = ".part"

// Dir is a value object that resolves paths within the model cache directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path. The path is converted to an
// absolute path. No I/O is performed; use Ensure to create the directory.
func New(root string) Dir {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return Dir{root: abs}
}

// Root returns the absolute path to the cache directory.
func (d Dir) Root() string { return d.root }

// Path returns the final location of the named artifact.
func (d Dir) Path(name string) string { return filepath.Join(d.root, filepath.Base(name)) }

// PartialPath returns the staging location used while name is downloaded.
func (d Dir) PartialPath(name string) string { return d.Path(name) + partialSuffix }

// Ensure creates the cache directory and any missing parents.
func (d Dir) Ensure() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("modelcache: create %s: %w", d.root, err)
	}

	return nil
}

// Has reports whether the named artifact is present as a regular file.
func (d Dir) Has(name string) bool {
	return IsFile(d.Path(name))
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
