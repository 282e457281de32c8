package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BackendLocal is the storage backend name of LocalBackend.
const BackendLocal = "local"

// LocalBackend stores blobs as files under a base directory.
type LocalBackend struct {
	baseDir string
}

func NewLocalBackend(baseDir string) *LocalBackend {
	return &LocalBackend{baseDir: baseDir}
}

func (b *LocalBackend) Name() string   { return BackendLocal }
func (b *LocalBackend) IsRemote() bool { return false }

// ErrInvalidKey is returned for keys that do not name a file inside the
// backend's base directory.
var ErrInvalidKey = errors.New("invalid storage key")

// Path maps a key to its file under the base directory. Absolute keys and
// keys that climb out of the base directory are rejected.
func (b *LocalBackend) Path(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	rel := filepath.Clean(filepath.FromSlash(key))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.baseDir, rel), nil
}

func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := b.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Upload(_ context.Context, key, localPath, _ string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}
	return copyFile(localPath, path)
}

func (b *LocalBackend) Download(_ context.Context, key, localPath string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}
	return copyFile(path, localPath)
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL returns a file:// URL, or "" for an invalid key.
func (b *LocalBackend) URL(key string) string {
	path, err := b.Path(key)
	if err != nil {
		return ""
	}
	return "file://" + path
}

func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return out.Close()
}
