package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Location = (*FileLocation)(nil)

// FileLocation stores each path as a file on the local disk.
type FileLocation struct {
	Placeholders Placeholders
}

func NewFileLocation(p Placeholders) *FileLocation {
	return &FileLocation{Placeholders: p}
}

func (l *FileLocation) resolve(path string) (string, error) {
	resolved := strings.TrimSpace(l.Placeholders.Resolve(path))
	if resolved == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Clean(resolved), nil
}

func (l *FileLocation) HasData(ctx context.Context, path string) (bool, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", resolved, err)
	}
	return !info.IsDir(), nil
}

// Save writes to a temp file next to the target and renames it into place,
// so a failed write leaves the previous file intact.
func (l *FileLocation) Save(ctx context.Context, path, data string) error {
	resolved, err := l.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		return fmt.Errorf("renaming into %s: %w", resolved, err)
	}
	cleanup = false
	return nil
}

func (l *FileLocation) Load(ctx context.Context, path string) (string, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", resolved, err)
	}
	return string(data), nil
}

func (l *FileLocation) Delete(ctx context.Context, path string) error {
	resolved, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(resolved); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", resolved, err)
	}
	return nil
}
