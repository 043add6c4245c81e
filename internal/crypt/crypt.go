// Package crypt encrypts serialized save documents with a per-installation key.
package crypt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"savekit/internal/storage"
)

var (
	ErrDecrypt = errors.New("crypt: decryption failed")
	ErrNoKey   = fmt.Errorf("%w: no key stored", ErrDecrypt)
)

type Handler struct {
	keys   *KeyStore
	cipher Cipher
}

func NewHandler(keys *KeyStore, c Cipher) *Handler {
	if c == nil {
		c = AESGCM()
	}
	return &Handler{keys: keys, cipher: c}
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext). The key is created on first use.
func (h *Handler) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := h.keys.Key(ctx, true)
	if err != nil {
		return "", err
	}
	aead, err := h.cipher.AEAD(key)
	if err != nil {
		return "", fmt.Errorf("building %s: %w", h.cipher.Name(), err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure matches ErrDecrypt.
func (h *Handler) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	key, err := h.keys.Key(ctx, false)
	if err != nil {
		return "", err
	}
	aead, err := h.cipher.AEAD(key)
	if err != nil {
		return "", fmt.Errorf("%w: building %s: %v", ErrDecrypt, h.cipher.Name(), err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Wrap returns a Location that encrypts on Save and decrypts on Load.
func (h *Handler) Wrap(inner storage.Location) storage.Location {
	return &encryptedLocation{inner: inner, handler: h}
}

type encryptedLocation struct {
	inner   storage.Location
	handler *Handler
}

func (l *encryptedLocation) HasData(ctx context.Context, path string) (bool, error) {
	return l.inner.HasData(ctx, path)
}

func (l *encryptedLocation) Save(ctx context.Context, path, data string) error {
	sealed, err := l.handler.Encrypt(ctx, data)
	if err != nil {
		return err
	}
	return l.inner.Save(ctx, path, sealed)
}

func (l *encryptedLocation) Load(ctx context.Context, path string) (string, error) {
	sealed, err := l.inner.Load(ctx, path)
	if err != nil {
		return "", err
	}
	if sealed == "" {
		return "", nil
	}
	return l.handler.Decrypt(ctx, sealed)
}

func (l *encryptedLocation) Delete(ctx context.Context, path string) error {
	return l.inner.Delete(ctx, path)
}
