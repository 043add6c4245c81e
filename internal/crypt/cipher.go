package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = 32

// Cipher builds an AEAD for a key. The nonce size of the AEAD decides the
// length of the prefix written in front of every ciphertext.
type Cipher interface {
	Name() string
	AEAD(key []byte) (cipher.AEAD, error)
}

type aesGCM struct{}

func (aesGCM) Name() string { return "aes-gcm" }

func (aesGCM) AEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

type xChaCha struct{}

func (xChaCha) Name() string { return "xchacha20-poly1305" }

func (xChaCha) AEAD(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key)
}

func AESGCM() Cipher { return aesGCM{} }
func XChaCha() Cipher { return xChaCha{} }

func CipherByName(name string) (Cipher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-gcm":
		return aesGCM{}, nil
	case "xchacha20-poly1305":
		return xChaCha{}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher: %s", name)
	}
}
