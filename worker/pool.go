// Package worker provides a bounded goroutine pool for CPU-bound jobs.
//
// The gateway runs every challenge script through a WorkerPool so a burst of
// inbound requests cannot start more interpreter VMs than there are workers.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do once Stop has been called.
var ErrStopped = errors.New("worker: pool stopped")

// WorkerPool manages a fixed number of goroutines that drain a shared job
// queue.
//
// Design choices:
//   - workerCount goroutines are started once and reused.
//   - jobQueue is buffered (workerCount*4) so producers rarely block; when
//     it is full Submit and Do wait, applying back-pressure.
//   - Stop closes the queue and waits for in-flight jobs, preventing
//     goroutine leaks.
type WorkerPool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a WorkerPool with workerCount goroutines ready to
// receive jobs.  workerCount <= 0 falls back to one worker.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.workerCount }

// Start launches the worker goroutines.  It must be called exactly once before
// any jobs are submitted.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			for job := range wp.jobQueue {
				job()
			}
		}()
	}
}

// Submit enqueues job for execution by one of the pool's goroutines.  It
// blocks if the internal buffer is full.  Submit must not be called after
// Stop.
func (wp *WorkerPool) Submit(job func()) {
	wp.jobQueue <- job
}

// Do runs job on the pool and waits for it to finish.  If ctx ends first, Do
// returns ctx.Err(); a job that was already queued still runs later, so job
// must not touch state the caller reads after an error.
func (wp *WorkerPool) Do(ctx context.Context, job func()) error {
	wp.mu.RLock()
	if wp.stopped {
		wp.mu.RUnlock()
		return ErrStopped
	}
	done := make(chan struct{})
	select {
	case wp.jobQueue <- func() { defer close(done); job() }:
		wp.mu.RUnlock()
	case <-ctx.Done():
		wp.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the pool to finish all queued jobs and then waits for all
// worker goroutines to exit.  Later Do calls return ErrStopped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()
	wp.wg.Wait()
}
