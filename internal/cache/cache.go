package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/probeweave/probeweave/internal/types"
)

// BuildFunc produces a validated artifact for a fingerprint that missed the
// cache. It encapsulates generate → validate → repair.
type BuildFunc func(ctx context.Context) (*types.Artifact, error)

// Cache is the content-addressed front over a Store. It guarantees:
//
//   - read-through: an existing valid entry is returned without building;
//   - single-flight: concurrent callers for one fingerprint share one build;
//   - write-once-per-success: only a valid artifact updates the entry, and a
//     failed build never evicts a previously valid one.
type Cache struct {
	store Store
	group singleflight.Group
	log   *slog.Logger
}

// New wraps a store.
func New(store Store) *Cache {
	return &Cache{store: store, log: slog.Default().With("component", "cache")}
}

// Store exposes the underlying store for provenance reporting.
func (c *Cache) Store() Store { return c.store }

// GetOrBuild returns the artifact for fp, building it at most once across all
// concurrent callers. The hit flag is true when an existing entry satisfied
// the call without any build work.
//
// Store failures propagate: an unreadable cache is fatal, not a rebuild.
func (c *Cache) GetOrBuild(ctx context.Context, fp types.Fingerprint, build BuildFunc) (*types.Artifact, bool, error) {
	// Fast path outside the flight group.
	if entry, err := c.store.Get(ctx, fp); err != nil {
		return nil, false, err
	} else if entry != nil {
		return entry, true, nil
	}

	type buildResult struct {
		artifact *types.Artifact
		hit      bool
	}

	v, err, shared := c.group.Do(string(fp), func() (any, error) {
		// Re-check inside the flight: another caller may have finished a
		// build between our miss and acquiring the flight slot.
		if entry, err := c.store.Get(ctx, fp); err != nil {
			return nil, err
		} else if entry != nil {
			return buildResult{artifact: entry, hit: true}, nil
		}

		start := time.Now()
		artifact, err := build(ctx)
		if err != nil {
			// No write on failure; any prior valid entry stays untouched.
			return nil, err
		}
		if artifact == nil {
			return nil, fmt.Errorf("build returned no artifact for %s", fp.Short())
		}
		if err := c.store.Put(ctx, artifact); err != nil {
			return nil, err
		}
		c.log.Debug("cache entry written",
			"fingerprint", fp.Short(), "origin", artifact.Origin.String(), "took", time.Since(start))
		return buildResult{artifact: artifact}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(buildResult)
	if shared {
		c.log.Debug("build shared across concurrent callers", "fingerprint", fp.Short())
	}
	return res.artifact, res.hit, nil
}
