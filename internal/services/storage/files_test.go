package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"cat.jpg", "cat.jpg"},
		{"my photo (1).png", "myphoto1.png"},
		{"../../etc/passwd", "passwd"},
		{"C:\\Users\\me\\avatar.jpeg", "avatar.jpeg"},
		{"zdjęcie_01.jpg", "zdjęcie_01.jpg"},
		{"", "uploaded_image"},
		{"???", "uploaded_image"},
		{"..", "uploaded_image"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, SanitizeFilename(tt.input), "input %q", tt.input)
	}
}

func TestFileStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	store := NewFileStore(dir)
	store.now = func() time.Time { return time.Date(2025, 6, 15, 14, 30, 5, 123456000, time.UTC) }

	filename, path, err := store.Save("cat.jpg", strings.NewReader("bytes"))
	require.NoError(t, err)
	require.Equal(t, "20250615143005123456_cat.jpg", filename)
	require.Equal(t, filepath.Join(dir, filename), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bytes", string(data))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFileStore_Save_RemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, _, err := store.Save("cat.jpg", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileStore_Remove(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, path, err := store.Save("a.jpg", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, store.Remove(path), "removing twice is fine")
}
