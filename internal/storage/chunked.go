package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const DefaultChunkSize = 8192

var _ Location = (*ChunkedLocation)(nil)

// ChunkedLocation spreads each path over numbered keys in a KeyValueStore.
// Chunk i of path lives under "<prefix><path>_<i>"; the chunk count is found
// by probing from 0 until a key is missing.
type ChunkedLocation struct {
	Store     KeyValueStore
	Prefix    string
	ChunkSize int
}

func NewChunkedLocation(store KeyValueStore, prefix string, chunkSize int) *ChunkedLocation {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedLocation{Store: store, Prefix: prefix, ChunkSize: chunkSize}
}

func (l *ChunkedLocation) ChunkKey(path string, index int) string {
	return fmt.Sprintf("%s%s_%d", l.Prefix, path, index)
}

func (l *ChunkedLocation) HasData(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, ErrInvalidPath
	}
	_, ok, err := l.Store.Get(ctx, l.ChunkKey(path, 0))
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", path, err)
	}
	return ok, nil
}

func (l *ChunkedLocation) Save(ctx context.Context, path, data string) error {
	if path == "" {
		return ErrInvalidPath
	}
	existing, err := l.chunkKeys(ctx, path)
	if err != nil {
		return err
	}

	chunks := SplitChunks(data, l.ChunkSize)
	m := Mutation{Delete: existing, Set: make([]KV, 0, len(chunks))}
	for i, chunk := range chunks {
		m.Set = append(m.Set, KV{Key: l.ChunkKey(path, i), Value: chunk})
	}
	if err := l.Store.Apply(ctx, m); err != nil {
		return fmt.Errorf("writing %d chunks for %s: %w", len(chunks), path, err)
	}
	return nil
}

func (l *ChunkedLocation) Load(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	var b strings.Builder
	for i := 0; ; i++ {
		chunk, ok, err := l.Store.Get(ctx, l.ChunkKey(path, i))
		if err != nil {
			return "", fmt.Errorf("reading chunk %d of %s: %w", i, path, err)
		}
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

func (l *ChunkedLocation) Delete(ctx context.Context, path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	keys, err := l.chunkKeys(ctx, path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := l.Store.Apply(ctx, Mutation{Delete: keys}); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", path, err)
	}
	return nil
}

func (l *ChunkedLocation) chunkKeys(ctx context.Context, path string) ([]string, error) {
	var keys []string
	for i := 0; ; i++ {
		key := l.ChunkKey(path, i)
		_, ok, err := l.Store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("probing chunk %d of %s: %w", i, path, err)
		}
		if !ok {
			return keys, nil
		}
		keys = append(keys, key)
	}
}

// SplitChunks cuts s into pieces of at most size bytes without splitting a
// UTF-8 sequence. A rune wider than size still gets a chunk of its own, and
// the empty string yields one empty chunk.
func SplitChunks(s string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(s) <= size {
		return []string{s}
	}
	chunks := make([]string, 0, len(s)/size+1)
	for len(s) > 0 {
		end := size
		if end >= len(s) {
			chunks = append(chunks, s)
			break
		}
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			_, width := utf8.DecodeRuneInString(s)
			end = width
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
