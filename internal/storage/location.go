// Package storage holds the pluggable locations a save document is persisted to.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidPath = errors.New("storage: invalid path")

// Location persists strings under a path. Load on a path with no data returns
// "", nil; callers that need to tell "empty" from "absent" use HasData.
type Location interface {
	HasData(ctx context.Context, path string) (bool, error)
	Save(ctx context.Context, path, data string) error
	Load(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Copy moves the data at path from one location to another. It reports false
// when the source had nothing to copy.
func Copy(ctx context.Context, from, to Location, path string) (bool, error) {
	ok, err := from.HasData(ctx, path)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	if !ok {
		return false, nil
	}
	data, err := from.Load(ctx, path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := to.Save(ctx, path, data); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// Mirror makes path on to match from: the data is copied when from has it and
// deleted from to when it does not. It reports whether data was copied.
func Mirror(ctx context.Context, from, to Location, path string) (bool, error) {
	copied, err := Copy(ctx, from, to, path)
	if err != nil || copied {
		return copied, err
	}
	if err := to.Delete(ctx, path); err != nil {
		return false, fmt.Errorf("clearing %s: %w", path, err)
	}
	return false, nil
}
