package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const fallbackFilename = "uploaded_image"

// FileStore keeps uploaded images on local disk.
type FileStore struct {
	imagesDir string
	now       func() time.Time
}

func NewFileStore(imagesDir string) *FileStore {
	return &FileStore{
		imagesDir: imagesDir,
		now:       time.Now,
	}
}

// Dir returns the directory holding the stored images.
func (s *FileStore) Dir() string {
	return s.imagesDir
}

// Save writes the upload to <timestamp>_<sanitized name> in the images
// directory. A partially written file is removed on failure.
func (s *FileStore) Save(originalName string, r io.Reader) (filename, path string, err error) {
	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create image directory: %w", err)
	}

	filename = fmt.Sprintf("%s_%s", timestampPrefix(s.now()), SanitizeFilename(originalName))
	path = filepath.Join(s.imagesDir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", filename, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to close %s: %w", filename, err)
	}

	return filename, path, nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *FileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// SanitizeFilename keeps letters, digits, '-', '_' and '.'.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}

	safe := b.String()
	if safe == "" || safe == "." || safe == ".." {
		return fallbackFilename
	}
	return safe
}

// timestampPrefix formats t as YYYYmmddHHMMSS followed by microseconds.
func timestampPrefix(t time.Time) string {
	return fmt.Sprintf("%s%06d", t.Format("20060102150405"), t.Nanosecond()/1000)
}
