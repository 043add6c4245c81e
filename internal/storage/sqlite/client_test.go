package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"savekit/internal/storage"
)

func newTestClient(t *testing.T, dsn string) *Client {
	t.Helper()
	client, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientGetApply(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "sqlite://:memory:")

	if _, ok, err := client.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got %v %v", ok, err)
	}

	err := client.Apply(ctx, storage.Mutation{Set: []storage.KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	err = client.Apply(ctx, storage.Mutation{Delete: []string{"a"}, Set: []storage.KV{{Key: "b", Value: "3"}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, ok, _ := client.Get(ctx, "a"); ok {
		t.Fatalf("expected a to be deleted")
	}
	if value, ok, _ := client.Get(ctx, "b"); !ok || value != "3" {
		t.Fatalf("expected b=3, got %q %v", value, ok)
	}
}

func TestChunkedLocationOnSQLite(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "sqlite://"+filepath.Join(t.TempDir(), "save.db"))
	loc := storage.NewChunkedLocation(client, "savekit_", 16)

	long := strings.Repeat("save-data-", 20)
	if err := loc.Save(ctx, "slot", long); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loc.Load(ctx, "slot")
	if err != nil || got != long {
		t.Fatalf("unexpected load (%d bytes) %v", len(got), err)
	}

	if err := loc.Save(ctx, "slot", "tiny"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := client.Get(ctx, loc.ChunkKey("slot", 1)); ok {
		t.Fatalf("orphaned chunk after shorter write")
	}
}
