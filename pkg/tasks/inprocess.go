package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// defaultQueueDepth bounds how many tasks may sit enqueued before
// Enqueue starts applying backpressure to its caller. The pipeline's
// step 14 call sites are all best-effort, so a full queue just means
// the caller blocks briefly rather than losing the task.
const defaultQueueDepth = 256

type job struct {
	taskType string
	payload  Payload
}

// InProcessQueue is a bounded worker pool pulling off a single buffered
// channel, the natural generalization of the teacher's runWithConcurrency
// pull-based bounded-pool idiom (memory_batches.go) from a fixed task
// list to a long-lived queue.
type InProcessQueue struct {
	jobs     chan job
	handlers map[string]Handler
	mu       sync.RWMutex
	workers  int
	log      zerolog.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// NewInProcessQueue builds a queue with the given worker concurrency.
// Register handlers with Handle before calling Start.
func NewInProcessQueue(workers int, log zerolog.Logger) *InProcessQueue {
	if workers < 1 {
		workers = 1
	}
	return &InProcessQueue{
		jobs:     make(chan job, defaultQueueDepth),
		handlers: make(map[string]Handler),
		workers:  workers,
		log:      log.With().Str("component", "tasks.inprocess").Logger(),
		done:     make(chan struct{}),
	}
}

// Handle registers h for taskType. Must be called before Start.
func (q *InProcessQueue) Handle(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Start launches the worker goroutines. Non-blocking.
func (q *InProcessQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *InProcessQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(j)
		case <-q.done:
			return
		}
	}
}

func (q *InProcessQueue) run(j job) {
	q.mu.RLock()
	h, ok := q.handlers[j.taskType]
	q.mu.RUnlock()
	if !ok {
		q.log.Warn().Str("task_type", j.taskType).Msg("no handler registered, dropping task")
		return
	}
	if err := h(context.Background(), j.payload); err != nil {
		q.log.Warn().Err(err).Str("task_type", j.taskType).Msg("background task failed")
	}
}

// Enqueue hands payload off to a worker, blocking only if the internal
// buffer (defaultQueueDepth) is full or ctx is canceled first.
func (q *InProcessQueue) Enqueue(ctx context.Context, taskType string, payload Payload) error {
	select {
	case q.jobs <- job{taskType: taskType, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the done signal and waits (up to ctx's deadline) for
// in-flight tasks to finish; queued-but-unstarted tasks are dropped.
func (q *InProcessQueue) Stop(ctx context.Context) error {
	close(q.done)
	waited := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks: in-process queue drain timed out: %w", ctx.Err())
	}
}
