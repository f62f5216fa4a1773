package uploads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Store writes uploaded files under a root directory, one subdirectory per
// CM serial. Filenames get a timestamp prefix so concurrent saves never
// collide and no locking is needed.
type Store struct {
	Root string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{Root: dir}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips directory components and unsafe characters from
// a client-supplied filename.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "upload"
	}
	return name
}

// Save stores the uploaded content under CM<serial>/<timestamp>_<name> and
// returns the path relative to the store root, which is what gets recorded
// in the entry's data. Any path escaping the root is rejected outright.
func (s *Store) Save(serial int, originalName string, r io.Reader) (string, error) {
	subdir := fmt.Sprintf("CM%d", serial)
	dir := filepath.Join(s.Root, subdir)

	rootAbs, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(dirAbs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe upload path %q", dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create serial dir: %w", err)
	}

	stamp := time.Now().Format("2006-01-02-15-04-05.000000")
	filename := stamp + "_" + SanitizeFilename(originalName)

	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return filepath.ToSlash(filepath.Join(subdir, filename)), nil
}

// Open resolves a stored relative path for serving, refusing anything that
// escapes the root.
func (s *Store) Open(relPath string) (*os.File, error) {
	full := filepath.Join(s.Root, filepath.FromSlash(relPath))

	rootAbs, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(fullAbs, rootAbs+string(os.PathSeparator)) {
		return nil, fmt.Errorf("unsafe file path %q", relPath)
	}

	return os.Open(full)
}

// Clear removes every stored file. Used by the admin history-clearing
// operations.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if err := os.RemoveAll(filepath.Join(s.Root, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}
