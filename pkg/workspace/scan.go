package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/phxlens/phxlens/pkg/util"
)

// Directories never worth descending into. priv/static is matched as a
// relative path because "static" alone is a legitimate template folder
// name.
var skipDirNames = map[string]bool{
	"_build":       true,
	"deps":         true,
	".git":         true,
	".elixir_ls":   true,
	"node_modules": true,
	"cover":        true,
}

// ScanOptions configures workspace discovery.
type ScanOptions struct {
	// Include globs relative to the root. Empty means the default
	// Elixir and template extensions.
	Include []string

	// Exclude globs relative to the root, applied to files and
	// directories on top of the built-in skip list.
	Exclude []string
}

// DefaultScanOptions covers every file the registries can read.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Include: []string{
			"**/*.ex",
			"**/*.exs",
			"**/*.heex",
			"**/*.eex",
			"**/*.leex",
		},
	}
}

// ScanStats describes one workspace scan.
type ScanStats struct {
	Root            string      `json:"root"`
	FilesDiscovered int         `json:"files_discovered"`
	FilesApplied    int         `json:"files_applied"`
	FilesFailed     int         `json:"files_failed"`
	Errors          []FileError `json:"-"`
	DiscoveryMs     int64       `json:"discovery_ms"`
	ApplyMs         int64       `json:"apply_ms"`
	TotalMs         int64       `json:"total_ms"`
	WorkerCount     int         `json:"worker_count"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
}

// ProgressFunc is called after each file is applied during a scan.
type ProgressFunc func(done, total int, path string)

// Scan walks the workspace and feeds every matching file through the
// registries. Files load in parallel through the worker pool; a single
// collector applies them, so registry swaps have one writer for the
// whole scan. Unreadable files are logged and skipped. Watcher events
// arriving mid-scan are safe because the content hash gate makes the
// last write win per file.
func (d *Dispatcher) Scan(ctx context.Context, progress ProgressFunc) (*ScanStats, error) {
	start := time.Now()
	stats := &ScanStats{Root: d.Root(), StartTime: start}

	d.logger.Info("workspace scan starting", "root", stats.Root)

	discoveryStart := time.Now()
	files, err := discoverFiles(stats.Root, d.opts)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	stats.FilesDiscovered = len(files)
	stats.DiscoveryMs = time.Since(discoveryStart).Milliseconds()

	util.Debugf(util.DebugScan, "discovery complete",
		"files", len(files), "ms", stats.DiscoveryMs)

	if len(files) == 0 {
		d.logger.Warn("no files matched the scan patterns", "root", stats.Root)
		stats.EndTime = time.Now()
		stats.TotalMs = time.Since(start).Milliseconds()
		d.setLastScan(stats)
		return stats, nil
	}

	applyStart := time.Now()
	if err := d.applyParallel(ctx, files, stats, progress); err != nil {
		return nil, err
	}
	stats.ApplyMs = time.Since(applyStart).Milliseconds()

	stats.EndTime = time.Now()
	stats.TotalMs = time.Since(start).Milliseconds()
	d.setLastScan(stats)

	d.logger.Info("workspace scan complete",
		"files", stats.FilesApplied,
		"failed", stats.FilesFailed,
		"total_ms", stats.TotalMs)

	return stats, nil
}

// discoverFiles walks root collecting files that pass the include and
// exclude patterns. Walk errors on individual entries are logged and
// skipped so one unreadable directory does not abort the scan.
func discoverFiles(root string, opts ScanOptions) ([]string, error) {
	include := opts.Include
	if len(include) == 0 {
		include = DefaultScanOptions().Include
	}
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			util.Debugf(util.DebugScan, "walk error", "path", path, "error", err)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if skipDirNames[entry.Name()] || rel == "priv/static" {
				return filepath.SkipDir
			}
			for _, pattern := range opts.Exclude {
				if ok, _ := doublestar.Match(pattern, rel); ok {
					return filepath.SkipDir
				}
			}
			return nil
		}

		for _, pattern := range opts.Exclude {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return nil
			}
		}
		for _, pattern := range include {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				files = append(files, path)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// applyParallel fans files out to the pool and applies results in this
// goroutine. Controller-to-template rebinding is coalesced into a
// single rebuild at the end instead of once per template.
func (d *Dispatcher) applyParallel(ctx context.Context, files []string, stats *ScanStats, progress ProgressFunc) error {
	pool := NewWorkerPool(0, d.logger)
	stats.WorkerCount = pool.numWorkers
	pool.Start()
	defer pool.Stop()

	submitErr := make(chan error, 1)
	go func() {
		defer pool.FinishSubmitting()
		for i, path := range files {
			select {
			case <-ctx.Done():
				submitErr <- ctx.Err()
				return
			default:
			}
			if err := pool.Submit(FileJob{Path: path, JobID: i}); err != nil {
				submitErr <- err
				return
			}
		}
		submitErr <- nil
	}()

	total := len(files)
	templatesChanged := false
	for done := 0; done < total; {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case result := <-pool.Results():
			if d.applyFile(result.Path, result.Content) {
				templatesChanged = true
			}
			stats.FilesApplied++
			done++
			if progress != nil {
				progress(done, total, result.Path)
			}

		case fileErr := <-pool.Errors():
			stats.Errors = append(stats.Errors, fileErr)
			stats.FilesFailed++
			done++
			d.logger.Warn("scan skipped file",
				"path", fileErr.Path, "error", fileErr.Err)
		}
	}

	if err := <-submitErr; err != nil {
		return fmt.Errorf("submit scan jobs: %w", err)
	}

	if templatesChanged {
		d.controllers.Rebuild()
	}
	return nil
}

// relPath converts an absolute path under root to the slashed relative
// form used for pattern matching.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
