// Package worker runs deploy jobs one at a time. The single-concurrency
// queue is what makes the shared filesystem state (checkout directory,
// build output, production tree) safe without locks.
package worker

import (
	"context"
	"errors"
	"log"

	"github.com/sim-publish/buildserver/internal/infra/metrics"
)

// ErrQueueFull is returned when the in-process queue cannot accept more
// jobs.
var ErrQueueFull = errors.New("worker queue is full")

// Queue executes submitted jobs sequentially on a single goroutine.
type Queue struct {
	jobs chan func()
}

// NewQueue creates a queue with the given pending-job capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{jobs: make(chan func(), capacity)}
}

// Submit enqueues a job for the worker. Jobs run strictly in submission
// order.
func (q *Queue) Submit(job func()) error {
	select {
	case q.jobs <- job:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is cancelled. A job in progress runs to
// completion — there is no mid-task cancellation.
func (q *Queue) Run(ctx context.Context) {
	log.Printf("[worker] started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] stopped")
			return
		case job := <-q.jobs:
			metrics.QueueDepth.Dec()
			job()
		}
	}
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}
