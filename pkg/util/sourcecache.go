// SourceCache provides byte-range access to project source files using
// memory-mapped files, falling back to os.ReadFile when mmap fails.
//
// Registries store byte offsets for handler clauses and definitions
// instead of copying source text; callers fetch the text lazily through
// this cache when a query actually needs it. Slicing a mapped region is
// O(1) and only touched pages are paged in.
package util

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// SourceCache is safe for concurrent use. Reads run under RLock; loads
// and invalidations take the write lock.
type SourceCache interface {
	// Slice returns file content in [startByte, endByte). The range
	// (0, 0) means the whole file. The file is mapped on first access.
	Slice(path string, startByte, endByte uint32) (string, error)

	// Line returns the 1-indexed line and a few following lines,
	// bounded by maxLines. Used for definition previews.
	Line(path string, line int, maxLines int) (string, error)

	// Invalidate drops the cached mapping for a path. Called when the
	// watcher reports a change so later fetches see fresh bytes.
	Invalidate(path string)

	// Stats returns hit/miss/fallback counters.
	Stats() SourceCacheStats

	// Close unmaps everything. Call on shutdown.
	Close() error
}

// SourceCacheStats tracks cache behavior for the scan_status surface.
type SourceCacheStats struct {
	Mapped    int   `json:"mapped"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Fallbacks int64 `json:"fallbacks"`
}

type mappedSource struct {
	data mmap.MMap
	file *os.File // nil for fallback entries
}

type sourceCache struct {
	maxFiles int
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*mappedSource

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	fallbacks int64
}

// NewSourceCache creates a cache holding at most maxFiles mappings;
// 0 means unlimited. When the limit is reached further loads bypass the
// cache with a plain read instead of failing.
func NewSourceCache(maxFiles int, logger *slog.Logger) SourceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &sourceCache{
		maxFiles: maxFiles,
		logger:   logger,
		entries:  make(map[string]*mappedSource),
	}
}

func (sc *sourceCache) Slice(path string, startByte, endByte uint32) (string, error) {
	data, err := sc.bytes(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	if startByte == 0 && endByte == 0 {
		endByte = uint32(len(data))
	} else if endByte <= startByte {
		return "", fmt.Errorf("invalid byte range: end (%d) <= start (%d)", endByte, startByte)
	}
	if endByte > uint32(len(data)) {
		return "", fmt.Errorf("invalid byte range: end (%d) > size (%d) for %q", endByte, len(data), path)
	}
	return string(data[startByte:endByte]), nil
}

func (sc *sourceCache) Line(path string, line int, maxLines int) (string, error) {
	if line < 1 {
		return "", fmt.Errorf("invalid line %d", line)
	}
	if maxLines < 1 {
		maxLines = 1
	}
	data, err := sc.bytes(path)
	if err != nil {
		return "", err
	}

	cur := 1
	start := 0
	for i := 0; i < len(data) && cur < line; i++ {
		if data[i] == '\n' {
			cur++
			start = i + 1
		}
	}
	if cur < line {
		return "", fmt.Errorf("line %d past end of %q", line, path)
	}
	end := start
	remaining := maxLines
	for end < len(data) && remaining > 0 {
		if data[end] == '\n' {
			remaining--
			if remaining == 0 {
				break
			}
		}
		end++
	}
	return string(data[start:end]), nil
}

// bytes returns the mapped (or fallback-read) content for path.
func (sc *sourceCache) bytes(path string) (mmap.MMap, error) {
	sc.mu.RLock()
	if e, ok := sc.entries[path]; ok {
		sc.mu.RUnlock()
		sc.recordHit()
		return e.data, nil
	}
	sc.mu.RUnlock()

	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Another goroutine may have loaded it while we waited.
	if e, ok := sc.entries[path]; ok {
		sc.recordHit()
		return e.data, nil
	}
	sc.recordMiss()

	if sc.maxFiles > 0 && len(sc.entries) >= sc.maxFiles {
		// Over capacity: serve this request without caching.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		return mmap.MMap(data), nil
	}

	entry, err := sc.load(path)
	if err != nil {
		return nil, err
	}
	sc.entries[path] = entry
	return entry.data, nil
}

// load maps a file, falling back to a plain read when mmap fails.
// Caller holds the write lock.
func (sc *sourceCache) load(path string) (*mappedSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if stat.Size() == 0 {
		// Zero bytes cannot be mapped.
		return &mappedSource{data: nil, file: file}, nil
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		sc.logger.Warn("mmap failed, using fallback read", "file", path, "error", err)
		file.Close()
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("mmap and fallback read failed for %q: %w", path, readErr)
		}
		sc.recordFallback()
		return &mappedSource{data: mmap.MMap(raw), file: nil}, nil
	}
	return &mappedSource{data: data, file: file}, nil
}

func (sc *sourceCache) Invalidate(path string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e, ok := sc.entries[path]
	if !ok {
		return
	}
	delete(sc.entries, path)
	sc.release(path, e)
}

func (sc *sourceCache) Stats() SourceCacheStats {
	sc.mu.RLock()
	mapped := len(sc.entries)
	sc.mu.RUnlock()

	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	return SourceCacheStats{
		Mapped:    mapped,
		Hits:      sc.hits,
		Misses:    sc.misses,
		Fallbacks: sc.fallbacks,
	}
}

func (sc *sourceCache) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var errs []error
	for path, e := range sc.entries {
		if err := sc.releaseErr(e); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", path, err))
		}
	}
	sc.entries = make(map[string]*mappedSource)
	if len(errs) > 0 {
		return fmt.Errorf("source cache close: %v", errs)
	}
	return nil
}

func (sc *sourceCache) release(path string, e *mappedSource) {
	if err := sc.releaseErr(e); err != nil {
		sc.logger.Warn("failed to release mapping", "file", path, "error", err)
	}
}

func (sc *sourceCache) releaseErr(e *mappedSource) error {
	var err error
	if e.file != nil {
		// Only real mappings need Unmap; fallback data is a plain slice.
		if e.data != nil {
			err = e.data.Unmap()
		}
		if cerr := e.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (sc *sourceCache) recordHit() {
	sc.statsMu.Lock()
	sc.hits++
	sc.statsMu.Unlock()
}

func (sc *sourceCache) recordMiss() {
	sc.statsMu.Lock()
	sc.misses++
	sc.statsMu.Unlock()
}

func (sc *sourceCache) recordFallback() {
	sc.statsMu.Lock()
	sc.fallbacks++
	sc.statsMu.Unlock()
}
