package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/phxlens/phxlens/pkg/util"
)

// FileJob is one file to load for indexing.
type FileJob struct {
	Path  string
	JobID int
}

// FileResult carries the loaded content of a file back to the collector.
type FileResult struct {
	Path    string
	Content []byte
	JobID   int
}

// FileError is a per-file failure. Scans record these and move on.
type FileError struct {
	Path string
	Err  error
}

// WorkerPool loads files concurrently during a workspace scan. Workers
// only read from disk; applying content to the registries happens in a
// single collector goroutine so each registry sees one writer during a
// scan.
//
// Lifecycle:
//
//	pool := NewWorkerPool(0, logger)
//	pool.Start()
//	defer pool.Stop()
//	... Submit jobs, FinishSubmitting, drain Results/Errors ...
type WorkerPool struct {
	numWorkers int
	jobs       chan FileJob
	results    chan FileResult
	errors     chan FileError
	wg         sync.WaitGroup
	logger     *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	stopped    atomic.Bool
	jobsClosed atomic.Bool

	jobsSubmitted atomic.Int64
	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
}

// NewWorkerPool creates a pool. numWorkers 0 auto-detects from CPU
// count, matching the parser pool size so tree-sitter parses during
// template scanning never queue behind each other.
func NewWorkerPool(numWorkers int, logger *slog.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = util.GetOptimalPoolSize()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan FileJob, numWorkers*2),
		results:    make(chan FileResult, numWorkers),
		errors:     make(chan FileError, numWorkers),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start spawns the worker goroutines. Must be called before Submit.
func (wp *WorkerPool) Start() {
	if !wp.started.CompareAndSwap(false, true) {
		wp.logger.Warn("worker pool already started")
		return
	}

	util.Debugf(util.DebugScan, "starting worker pool", "workers", wp.numWorkers)

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(id, job)
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job FileJob) {
	content, err := os.ReadFile(job.Path)
	if err != nil {
		wp.jobsFailed.Add(1)
		util.Debugf(util.DebugScan, "read failed",
			"worker", workerID, "path", job.Path, "error", err)
		select {
		case wp.errors <- FileError{Path: job.Path, Err: fmt.Errorf("read file: %w", err)}:
		case <-wp.ctx.Done():
		}
		return
	}

	wp.jobsProcessed.Add(1)
	select {
	case wp.results <- FileResult{Path: job.Path, Content: content, JobID: job.JobID}:
	case <-wp.ctx.Done():
	}
}

// Submit enqueues a job. Blocks while the jobs channel is full; returns
// an error once the pool is stopped or cancelled.
func (wp *WorkerPool) Submit(job FileJob) error {
	if wp.stopped.Load() {
		return fmt.Errorf("worker pool is stopped")
	}

	wp.jobsSubmitted.Add(1)

	select {
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool cancelled")
	case wp.jobs <- job:
		return nil
	}
}

// Results returns the channel the collector drains.
func (wp *WorkerPool) Results() <-chan FileResult {
	return wp.results
}

// Errors returns the per-file error channel.
func (wp *WorkerPool) Errors() <-chan FileError {
	return wp.errors
}

// FinishSubmitting closes the jobs channel so workers drain and exit.
// Call after the last Submit. Idempotent.
func (wp *WorkerPool) FinishSubmitting() {
	if wp.jobsClosed.CompareAndSwap(false, true) {
		close(wp.jobs)
	}
}

// Wait blocks until every worker has exited. Call after
// FinishSubmitting.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Stop shuts the pool down: closes jobs if still open, waits for
// in-flight work, then closes the result and error channels.
// Idempotent.
func (wp *WorkerPool) Stop() {
	if !wp.stopped.CompareAndSwap(false, true) {
		return
	}

	if wp.jobsClosed.CompareAndSwap(false, true) {
		close(wp.jobs)
	}
	wp.cancel()
	wp.wg.Wait()

	close(wp.results)
	close(wp.errors)

	util.Debugf(util.DebugScan, "worker pool stopped",
		"submitted", wp.jobsSubmitted.Load(),
		"processed", wp.jobsProcessed.Load(),
		"failed", wp.jobsFailed.Load())
}

// GetStats reports pool counters.
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:    wp.numWorkers,
		JobsSubmitted: wp.jobsSubmitted.Load(),
		JobsProcessed: wp.jobsProcessed.Load(),
		JobsFailed:    wp.jobsFailed.Load(),
		QueueLength:   len(wp.jobs),
	}
}

// WorkerPoolStats is a snapshot of pool counters.
type WorkerPoolStats struct {
	NumWorkers    int
	JobsSubmitted int64
	JobsProcessed int64
	JobsFailed    int64
	QueueLength   int
}
