// Package memory adapts persisted user preferences into the snapshot taken
// once at session start.
package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/writecoach/internal/domain"
)

// Provider returns the preference snapshot stored under key.
type Provider interface {
	Get(ctx context.Context, key string) (domain.MemorySnapshot, error)
}

// PreferenceReader is the slice of the store a StoreProvider needs.
type PreferenceReader interface {
	GetPreference(ctx context.Context, userID string) (text string, ok bool, err error)
}

// StoreProvider reads preferences from the repository.
type StoreProvider struct {
	repo PreferenceReader
}

// NewStoreProvider creates a provider backed by repo.
func NewStoreProvider(repo PreferenceReader) *StoreProvider {
	return &StoreProvider{repo: repo}
}

// Get implements Provider.
func (p *StoreProvider) Get(ctx context.Context, key string) (domain.MemorySnapshot, error) {
	text, ok, err := p.repo.GetPreference(ctx, key)
	if err != nil {
		return domain.NoMemory(), fmt.Errorf("read preferences for %s: %w", key, err)
	}
	if !ok {
		return domain.NoMemory(), nil
	}
	return domain.MemoryOf(text), nil
}

// FileProvider serves preferences from a YAML document mapping keys to text:
//
//	default: "Prefer British spelling."
//	user-123: "Keep paragraphs under 120 words."
//
// The "default" entry, when present, applies to keys with no entry of their own.
type FileProvider struct {
	entries map[string]string
}

// DefaultKey is the FileProvider fallback entry.
const DefaultKey = "default"

// LoadFile reads and parses path once.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses a YAML preferences document.
func ParseFile(data []byte) (*FileProvider, error) {
	entries := map[string]string{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse memory file: %w", err)
	}
	return &FileProvider{entries: entries}, nil
}

// Get implements Provider.
func (p *FileProvider) Get(_ context.Context, key string) (domain.MemorySnapshot, error) {
	if text, ok := p.entries[key]; ok {
		return domain.MemoryOf(text), nil
	}
	if text, ok := p.entries[DefaultKey]; ok {
		return domain.MemoryOf(text), nil
	}
	return domain.NoMemory(), nil
}

// Static returns the same snapshot for every key.
type Static struct {
	Snapshot domain.MemorySnapshot
}

// Get implements Provider.
func (s Static) Get(context.Context, string) (domain.MemorySnapshot, error) {
	return s.Snapshot, nil
}

// Chain consults providers in order and returns the first present snapshot.
// Errors are returned only if no provider produced a snapshot.
type Chain []Provider

// Get implements Provider.
func (c Chain) Get(ctx context.Context, key string) (domain.MemorySnapshot, error) {
	var firstErr error
	for _, p := range c {
		snap, err := p.Get(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if snap.Present() {
			return snap, nil
		}
	}
	return domain.NoMemory(), firstErr
}
