// Package bus carries ingestion jobs from the upload handlers to the
// pipeline workers.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("job queue closed")

// ErrFull is returned when the queue stayed full for the publish timeout.
var ErrFull = errors.New("job queue full")

// Job asks the pipeline to process one document.
type Job struct {
	DocumentID string
	EnqueuedAt time.Time
}

// JobQueue is a Go-channel based queue for in-process job hand-off.
type JobQueue struct {
	jobs    chan Job
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a JobQueue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *JobQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &JobQueue{
		jobs:    make(chan Job, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish enqueues a job. It blocks up to 10 seconds if the queue is full
// instead of dropping, and returns early if ctx ends.
func (q *JobQueue) Publish(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "document_id", job.DocumentID)
		return ErrClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case q.jobs <- job:
		return nil
	default:
	}

	q.logger.Warn("job queue full, waiting...", "document_id", job.DocumentID)
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.jobs <- job:
		q.logger.Info("job delivered after wait", "document_id", job.DocumentID)
		return nil
	case <-timer.C:
		q.logger.Error("job dropped: queue full", "document_id", job.DocumentID, "waited", q.timeout)
		return ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the receive side. It is closed by Close.
func (q *JobQueue) Subscribe() <-chan Job {
	return q.jobs
}

// Len reports the number of queued jobs.
func (q *JobQueue) Len() int {
	return len(q.jobs)
}

func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
