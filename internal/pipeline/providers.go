package pipeline

import (
	"context"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"

	"savekit/internal/document"
)

// Hook rewrites the raw primary document before it is parsed. Hooks run in
// ascending Order; an error aborts the load.
type Hook interface {
	Order() int
	Intercept(raw string) (string, error)
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	Priority int
	Fn       func(raw string) (string, error)
}

func (h HookFunc) Order() int                           { return h.Priority }
func (h HookFunc) Intercept(raw string) (string, error) { return h.Fn(raw) }

func sortHooks(hooks []Hook) []Hook {
	out := append([]Hook(nil), hooks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}

// Provider contributes a "$<Key>" metadata object on save. Metadata is
// written for tooling and never read back.
type Provider interface {
	Key() string
	CanWrite() bool
	Metadata(ctx context.Context) (any, error)
}

type SystemInfo struct{}

func (SystemInfo) Key() string    { return "system_info" }
func (SystemInfo) CanWrite() bool { return true }

func (SystemInfo) Metadata(context.Context) (any, error) {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	return map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"go_version": runtime.Version(),
		"hostname":   host,
	}, nil
}

type GameInfo struct {
	Product string
	Company string
	Version string
}

func (GameInfo) Key() string    { return "game_info" }
func (GameInfo) CanWrite() bool { return true }

func (g GameInfo) Metadata(context.Context) (any, error) {
	return map[string]any{
		"product": g.Product,
		"company": g.Company,
		"version": g.Version,
	}, nil
}

// SaveInfo stamps every save with a fresh id and the save time.
type SaveInfo struct {
	Now func() time.Time
}

func (SaveInfo) Key() string    { return "save_info" }
func (SaveInfo) CanWrite() bool { return true }

func (s SaveInfo) Metadata(context.Context) (any, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return map[string]any{
		"save_id":  uuid.NewString(),
		"saved_at": now().UTC().Format(document.DateLayout),
	}, nil
}

// DefaultProviders returns the built-in metadata providers.
func DefaultProviders(game GameInfo) []Provider {
	return []Provider{SystemInfo{}, game, SaveInfo{}}
}
