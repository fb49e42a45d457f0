// Package resource provides admission control for the heavy phases of index
// maintenance: bounded build concurrency, ingest rate limiting, and memory
// budgeting for training buffers.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits. Zero values disable the corresponding limit
// unless stated otherwise.
type Config struct {
	// MemoryLimitBytes caps managed memory (training buffers, rerank
	// candidate sets). 0 means track only, no hard limit.
	MemoryLimitBytes int64

	// MaxBuildWorkers caps concurrent build jobs (training, bulk linking).
	// Defaults to 1.
	MaxBuildWorkers int64

	// IngestVectorsPerSec throttles insert admission. 0 means unlimited.
	IngestVectorsPerSec int64

	// IOLimitBytesPerSec throttles artifact reads and writes. 0 means
	// unlimited.
	IOLimitBytesPerSec int64
}

// Controller enforces the configured limits. A nil Controller is valid and
// enforces nothing.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	buildSem *semaphore.Weighted

	ingestLimiter *rate.Limiter
	ioLimiter     *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBuildWorkers <= 0 {
		cfg.MaxBuildWorkers = 1
	}

	c := &Controller{
		cfg:      cfg,
		buildSem: semaphore.NewWeighted(cfg.MaxBuildWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IngestVectorsPerSec > 0 {
		c.ingestLimiter = rate.NewLimiter(rate.Limit(cfg.IngestVectorsPerSec), int(cfg.IngestVectorsPerSec))
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves memory, blocking until the budget allows it or ctx
// is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory reserves memory without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory returns reserved memory to the budget.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the tracked memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireBuildSlot blocks until a build worker slot is free.
func (c *Controller) AcquireBuildSlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.buildSem.Acquire(ctx, 1)
}

// TryAcquireBuildSlot acquires a build worker slot without blocking.
func (c *Controller) TryAcquireBuildSlot() bool {
	if c == nil {
		return true
	}
	return c.buildSem.TryAcquire(1)
}

// ReleaseBuildSlot frees a build worker slot.
func (c *Controller) ReleaseBuildSlot() {
	if c == nil {
		return
	}
	c.buildSem.Release(1)
}

// AdmitIngest waits until n vectors may be admitted under the ingest rate.
func (c *Controller) AdmitIngest(ctx context.Context, n int) error {
	if c == nil || c.ingestLimiter == nil || n <= 0 {
		return nil
	}
	return c.ingestLimiter.WaitN(ctx, n)
}

// AcquireIO waits until n bytes of artifact traffic may proceed. Requests
// larger than the burst are admitted in burst-sized chunks.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
