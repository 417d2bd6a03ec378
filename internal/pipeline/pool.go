package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// QueueStats reports the current state of the run queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type runFunc func(ctx context.Context, j Job) Result

// workerPool runs jobs on a fixed number of goroutines so one user's slow
// backend call never blocks another user's run.
type workerPool struct {
	jobs    chan Job
	run     runFunc
	workers int
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func newWorkerPool(workers, queueSize int, run runFunc, log zerolog.Logger) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		jobs:    make(chan Job, queueSize),
		run:     run,
		workers: workers,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (wp *workerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.workers).Int("queue_size", cap(wp.jobs)).Msg("pipeline worker pool started")
}

// Stop signals workers to drain and waits for completion.
func (wp *workerPool) Stop() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("pipeline worker pool stopped")
}

// enqueue adds a job to the queue. Returns false if the queue is full or
// the pool is stopped.
func (wp *workerPool) enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *workerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		InFlight:  int(wp.inFlight.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

func (wp *workerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		wp.inFlight.Add(1)
		res := wp.run(wp.ctx, job)
		wp.inFlight.Add(-1)
		if res.State == Failed {
			wp.failed.Add(1)
			log.Debug().Str("run_id", job.RunID).Msg("worker finished failed run")
		} else {
			wp.completed.Add(1)
		}
	}
}
