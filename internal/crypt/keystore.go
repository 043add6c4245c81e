package crypt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"savekit/internal/storage"
)

// KeyStore keeps the per-installation key in its own storage location,
// separate from the save data it protects.
type KeyStore struct {
	Location storage.Location
	Path     string

	cached []byte
}

func NewKeyStore(loc storage.Location, path string) *KeyStore {
	return &KeyStore{Location: loc, Path: path}
}

// Key returns the stored key. With create set, a missing key is generated
// and persisted; otherwise ErrNoKey is returned.
func (k *KeyStore) Key(ctx context.Context, create bool) ([]byte, error) {
	if k.cached != nil {
		return k.cached, nil
	}
	raw, err := k.Location.Load(ctx, k.Path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: stored key is not base64: %v", ErrDecrypt, err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: stored key has %d bytes", ErrDecrypt, len(key))
		}
		k.cached = key
		return key, nil
	}
	if !create {
		return nil, ErrNoKey
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := k.Location.Save(ctx, k.Path, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("persisting key: %w", err)
	}
	k.cached = key
	return key, nil
}
