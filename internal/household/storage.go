package household

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage holds receipt captures while they are being recognised
type Storage interface {
	// Save writes a capture and returns the name to read it back with
	Save(filename string, data []byte) (string, error)

	// Get reads a capture
	Get(name string) ([]byte, error)

	// Delete removes a capture
	Delete(name string) error
}

// LocalStorage implements Storage in a directory on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the capture directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// path confines name to the capture directory
func (l *LocalStorage) path(name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid capture name %q", name)
	}
	return filepath.Join(l.basePath, base), nil
}

// Save writes a capture file
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing capture: %w", err)
	}
	return filepath.Base(path), nil
}

// Get reads a capture file
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return data, nil
}

// Delete removes a capture file
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting capture: %w", err)
	}
	return nil
}

const maxBaseLen = 40

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// captureName builds a short, filesystem-safe capture name prefixed by id.
// Phone cameras produce long names full of spaces and punctuation.
func captureName(id, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 || unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := unsafeChars.ReplaceAllString(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)), "")
	if len(base) > maxBaseLen {
		base = base[:maxBaseLen]
	}
	if base == "" {
		base = "capture"
	}
	return fmt.Sprintf("%s_%s%s", id, base, ext)
}
