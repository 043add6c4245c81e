// Package pebble provides an on-disk KeyValueStore built on Pebble.
package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"savekit/internal/logger"
	"savekit/internal/storage"
)

var _ storage.KeyValueStore = (*Store)(nil)

type Store struct {
	db   *pebble.DB
	path string
	log  *logger.Logger
}

func Open(path string, log *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble path is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	db, err := pebble.Open(path, &pebble.Options{Logger: &pebbleLogger{log: log}})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	log.Debug("pebble store opened", "path", path)
	return &Store{db: db, path: path, log: log}, nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	return string(value), true, nil
}

// Apply commits the mutation as a single synced batch.
func (s *Store) Apply(_ context.Context, m storage.Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, key := range m.Delete {
		if err := batch.Delete([]byte(key), nil); err != nil {
			return fmt.Errorf("pebble batch delete %s: %w", key, err)
		}
	}
	for _, kv := range m.Set {
		if err := batch.Set([]byte(kv.Key), []byte(kv.Value), nil); err != nil {
			return fmt.Errorf("pebble batch set %s: %w", kv.Key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// pebbleLogger adapts the project logger to pebble's logger interface.
type pebbleLogger struct {
	log *logger.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.log.SugaredLogger.Debugf(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.log.SugaredLogger.Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.log.SugaredLogger.Fatalf(format, args...)
}
