package channel

import (
	"context"
	"log/slog"
	"sync"
)

// Job asks for one order's channel post to be brought up to date.
type Job struct {
	OrderID int64
	// Flow is the correlation token of the request that caused the job.
	Flow string
	// Force bypasses the unchanged-payload shortcut.
	Force bool
}

// Dispatcher schedules sync jobs after a lifecycle commit. Dispatch never
// reports sync failures to the caller: the transition has already
// committed and the synchronizer flags failed orders itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job)
}

// Syncer is the part of *Synchronizer dispatchers drive.
type Syncer interface {
	Sync(ctx context.Context, orderID int64) error
	Resync(ctx context.Context, orderID int64) error
}

func runJob(ctx context.Context, s Syncer, job Job) error {
	if job.Force {
		return s.Resync(ctx, job.OrderID)
	}
	return s.Sync(ctx, job.OrderID)
}

// Inline runs each job synchronously in the caller's goroutine.
type Inline struct {
	Syncer Syncer
	Logger *slog.Logger
}

// Dispatch runs the job and logs a failure.
func (d Inline) Dispatch(ctx context.Context, job Job) {
	if err := runJob(ctx, d.Syncer, job); err != nil {
		logger := d.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logJobError(logger, job, err)
	}
}

// Discard drops every job. Used when no channel is configured at all.
type Discard struct{}

// Dispatch does nothing.
func (Discard) Dispatch(context.Context, Job) {}

// Worker queues jobs for a single Run loop.
//
// Thread-safety model:
//   - Dispatch(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Worker struct {
	syncer Syncer
	logger *slog.Logger
	queue  *jobQueue
}

// NewWorker creates a worker driving s. A nil logger means slog.Default().
func NewWorker(s Syncer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{syncer: s, logger: logger, queue: newJobQueue()}
}

// Dispatch enqueues the job. Jobs dispatched after Stop are dropped with a
// warning.
func (w *Worker) Dispatch(_ context.Context, job Job) {
	if !w.queue.Enqueue(job) {
		w.logger.Warn("sync worker stopped, job dropped", "order_id", job.OrderID, "flow", job.Flow)
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Run processes jobs in FIFO order until ctx is cancelled or Stop is
// called. After Stop, jobs already queued are drained before Run returns.
//
// A failed job is logged and processing continues; the synchronizer has
// already flagged the order for reconciliation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("sync worker starting")

	for {
		if job, ok := w.queue.TryDequeue(); ok {
			if err := runJob(ctx, w.syncer, job); err != nil {
				logJobError(w.logger, job, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopping: context cancelled")
			w.queue.Close()
			return ctx.Err()

		case <-w.queue.Wait():
			if w.queue.Drained() {
				w.logger.Info("sync worker stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is empty.
func (w *Worker) Stop() {
	w.queue.Close()
}

func logJobError(logger *slog.Logger, job Job, err error) {
	logger.Error("channel sync job failed",
		"order_id", job.OrderID,
		"flow", job.Flow,
		"force", job.Force,
		"error", err,
	)
}

// jobQueue is an unbounded thread-safe FIFO with a signal channel for
// context-aware waiting.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]Job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that fires when jobs may be available. It is
// closed once the queue is closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Drained reports whether the queue is closed and empty.
func (q *jobQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.jobs) == 0
}

// Close stops accepting jobs and wakes waiters.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
