package util

import "runtime"

// GetOptimalPoolSize returns the worker count for CPU-bound parallel
// work: min(max(NumCPU*2, 4), 32).
//
// 2x cores keeps the CPU busy while goroutines block in CGO parser
// calls; the floor guarantees parallelism on small machines and the
// cap bounds parser memory on large ones.
func GetOptimalPoolSize() int {
	poolSize := runtime.NumCPU() * 2
	if poolSize < 4 {
		poolSize = 4
	}
	if poolSize > 32 {
		poolSize = 32
	}
	return poolSize
}

// GetOptimalPoolSizeWithOverride uses override when positive, otherwise
// the computed size. Overrides come from config and tests.
func GetOptimalPoolSizeWithOverride(override int) int {
	if override > 0 {
		return override
	}
	return GetOptimalPoolSize()
}
