// Package tasks implements the fire-and-forget background task queue the
// pipeline schedules onto at the end of on_message (spec.md §4.9 step 14:
// outcome tracking, fact extraction, episode-monitor ticks). Two
// interchangeable Queue implementations satisfy the same interface: an
// asynq/Redis-backed queue for durability across restarts, and a bounded
// in-process worker pool for deployments with no Redis configured.
package tasks

import "context"

// Payload is the JSON-encoded body of one enqueued task.
type Payload []byte

// Handler processes one task's payload. A returned error is logged by
// the queue implementation; it never propagates back to the caller that
// enqueued the task, per the "fire-and-forget" contract.
type Handler func(ctx context.Context, payload Payload) error

// Queue enqueues named tasks for asynchronous, best-effort execution.
// Enqueue itself must not block on the task's own execution — only on
// handing it off (a Redis round-trip for AsynqQueue, a channel send for
// InProcessQueue).
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload Payload) error
}
