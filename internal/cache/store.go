// Package cache maps fingerprints to the current best-known artifact and
// serializes concurrent build work per fingerprint.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/probeweave/probeweave/internal/types"
)

// Attempt is one provenance record: what a build or repair attempt produced,
// whether it stuck or not. Attempts exist for auditability; correctness never
// depends on them.
type Attempt struct {
	Fingerprint types.Fingerprint `json:"fingerprint"`
	Attempt     int               `json:"attempt"`
	Origin      string            `json:"origin"`
	Verdict     string            `json:"verdict"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Stats summarizes a store for reporting.
type Stats struct {
	Entries  int `json:"entries"`
	Repaired int `json:"repaired"`
	Attempts int `json:"attempts"`
}

// Store is the persistence contract. Implementations must tolerate
// concurrent use; the single-flight layer above guarantees at most one
// writer per fingerprint at a time, but readers run freely.
//
// Store errors are infrastructure failures and are fatal for the run: the
// pipeline never silently degrades to always-rebuild.
type Store interface {
	// Get returns the current entry for the fingerprint, or nil if absent.
	Get(ctx context.Context, fp types.Fingerprint) (*types.Artifact, error)

	// Put installs an artifact as the current entry for its fingerprint.
	// Only artifacts with a valid verdict are accepted.
	Put(ctx context.Context, artifact *types.Artifact) error

	// RecordAttempt appends a provenance record.
	RecordAttempt(ctx context.Context, attempt *Attempt) error

	// Attempts returns the provenance history for a fingerprint, oldest first.
	Attempts(ctx context.Context, fp types.Fingerprint) ([]*Attempt, error)

	// Stats summarizes the store.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// checkStorable rejects artifacts that must never become the current entry.
func checkStorable(artifact *types.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("artifact is nil")
	}
	if !artifact.Verdict.Valid() {
		return fmt.Errorf("refusing to store artifact %s with invalid verdict (%s)",
			artifact.Fingerprint.Short(), artifact.Verdict.Summary())
	}
	return nil
}

// MemoryStore implements Store in memory. Useful for tests and short-lived
// processes.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[types.Fingerprint]*types.Artifact
	attempts map[types.Fingerprint][]*Attempt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[types.Fingerprint]*types.Artifact),
		attempts: make(map[types.Fingerprint][]*Attempt),
	}
}

// Get returns the current entry or nil.
func (m *MemoryStore) Get(ctx context.Context, fp types.Fingerprint) (*types.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[fp]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

// Put installs a valid artifact as the current entry.
func (m *MemoryStore) Put(ctx context.Context, artifact *types.Artifact) error {
	if err := checkStorable(artifact); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *artifact
	m.entries[artifact.Fingerprint] = &cp
	return nil
}

// RecordAttempt appends a provenance record.
func (m *MemoryStore) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	m.attempts[attempt.Fingerprint] = append(m.attempts[attempt.Fingerprint], &cp)
	return nil
}

// Attempts returns provenance history, oldest first.
func (m *MemoryStore) Attempts(ctx context.Context, fp types.Fingerprint) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Attempt, len(m.attempts[fp]))
	copy(out, m.attempts[fp])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

// Stats summarizes the store.
func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Stats{Entries: len(m.entries)}
	for _, e := range m.entries {
		if e.Origin.Repaired > 0 {
			s.Repaired++
		}
	}
	for _, a := range m.attempts {
		s.Attempts += len(a)
	}
	return s, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
