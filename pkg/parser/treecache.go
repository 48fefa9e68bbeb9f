package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	ts "github.com/tree-sitter/go-tree-sitter"

	"github.com/phxlens/phxlens/pkg/util"
)

// DefaultTreeCacheCapacity bounds parse-tree memory; templates beyond
// the cap are reparsed on demand, which stays correct, just slower.
const DefaultTreeCacheCapacity = 200

// Edit describes the single contiguous byte region that changed between
// two versions of a source, computed from the longest common prefix and
// suffix. Recorded for observability; reparses are always full because
// a template parses in well under a millisecond at this cache's scale.
type Edit struct {
	StartByte  uint32
	OldEndByte uint32
	NewEndByte uint32
}

// computeEdit returns the changed region between two sources and false
// when they are identical. The common suffix never overlaps the common
// prefix, so the region is well formed even for pure insert or delete.
func computeEdit(oldSrc, newSrc []byte) (Edit, bool) {
	if bytes.Equal(oldSrc, newSrc) {
		return Edit{}, false
	}

	prefix := 0
	for prefix < len(oldSrc) && prefix < len(newSrc) && oldSrc[prefix] == newSrc[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(oldSrc)-prefix && suffix < len(newSrc)-prefix &&
		oldSrc[len(oldSrc)-1-suffix] == newSrc[len(newSrc)-1-suffix] {
		suffix++
	}

	return Edit{
		StartByte:  uint32(prefix),
		OldEndByte: uint32(len(oldSrc) - suffix),
		NewEndByte: uint32(len(newSrc) - suffix),
	}, true
}

type treeEntry struct {
	source []byte
	tree   *ts.Tree
}

// TreeCache keeps recently used template parse trees keyed by file path
// and grammar. A lookup with unchanged bytes reuses the cached tree; a
// lookup with changed bytes computes the edit region, reparses, and
// replaces the entry. Least recently used entries are evicted and their
// trees closed once capacity is exceeded.
//
// All access is serialized by one mutex: trees are freed on eviction, so
// handing a tree out of the critical section would race with Close. The
// WithTree callback therefore runs while the lock is held and must not
// retain the tree.
type TreeCache struct {
	pm     *ParserManager
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, *treeEntry]

	hits      int64
	misses    int64
	evictions int64
	edits     int64
	capacity  int
}

// TreeCacheStats reports cache behavior for the scan_status surface.
type TreeCacheStats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Edits     int64 `json:"edits"`
}

// NewTreeCache creates a tree cache with the given capacity.
// capacity <= 0 selects DefaultTreeCacheCapacity.
func NewTreeCache(pm *ParserManager, capacity int, logger *slog.Logger) (*TreeCache, error) {
	if capacity <= 0 {
		capacity = DefaultTreeCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	tc := &TreeCache{
		pm:       pm,
		logger:   logger,
		capacity: capacity,
	}

	cache, err := lru.NewWithEvict[string, *treeEntry](capacity, func(key string, e *treeEntry) {
		if e != nil && e.tree != nil {
			e.tree.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}
	tc.cache = cache
	return tc, nil
}

func cacheKey(path string, grammar Grammar) string {
	return path + "\x00" + grammar.String()
}

// WithTree invokes fn with the parse tree for (path, grammar), reusing
// the cached tree when source is byte-identical to the cached version.
// fn runs under the cache lock and must not retain the tree after it
// returns.
func (tc *TreeCache) WithTree(path string, source []byte, grammar Grammar, fn func(tree *ts.Tree) error) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	key := cacheKey(path, grammar)

	// Get promotes the entry to most recently used.
	if entry, ok := tc.cache.Get(key); ok {
		if bytes.Equal(entry.source, source) {
			tc.hits++
			return fn(entry.tree)
		}
		if edit, changed := computeEdit(entry.source, source); changed {
			tc.edits++
			util.Debugf(util.DebugParser, "template changed",
				"path", path,
				"grammar", grammar.String(),
				"start", edit.StartByte,
				"old_end", edit.OldEndByte,
				"new_end", edit.NewEndByte)
		}
		// Stale entry: remove so the eviction callback frees the tree.
		tc.cache.Remove(key)
	}

	tc.misses++
	tree, err := tc.pm.Parse(source, grammar)
	if err != nil {
		return err
	}

	src := make([]byte, len(source))
	copy(src, source)
	if evicted := tc.cache.Add(key, &treeEntry{source: src, tree: tree}); evicted {
		tc.evictions++
	}
	return fn(tree)
}

// Remove drops the cached trees for a path across all grammars.
// Called when a file is deleted or closed.
func (tc *TreeCache) Remove(path string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cache.Remove(cacheKey(path, GrammarHTML))
	tc.cache.Remove(cacheKey(path, GrammarEEx))
}

// Purge drops every cached tree.
func (tc *TreeCache) Purge() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cache.Purge()
}

// Len returns the number of cached trees.
func (tc *TreeCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.cache.Len()
}

// Contains reports whether a tree is cached for (path, grammar) without
// promoting it.
func (tc *TreeCache) Contains(path string, grammar Grammar) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.cache.Contains(cacheKey(path, grammar))
}

// Stats returns cache counters.
func (tc *TreeCache) Stats() TreeCacheStats {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return TreeCacheStats{
		Entries:   tc.cache.Len(),
		Capacity:  tc.capacity,
		Hits:      tc.hits,
		Misses:    tc.misses,
		Evictions: tc.evictions,
		Edits:     tc.edits,
	}
}
