// Package pipeline drives uploaded documents through extraction, chunking
// and indexing on a bounded pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"policyqa/internal/bus"
	"policyqa/internal/domain"
	"policyqa/internal/ingest"
	"policyqa/internal/knowledge"
	"policyqa/internal/metrics"
)

// Stage progress reported to polling clients.
const (
	ProgressProcessing = 10
	ProgressChunking   = 40
	ProgressEmbedding  = 70
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Machine      *ingest.Machine
	Queue        *bus.JobQueue
	Extractor    Extractor
	Chunker      *knowledge.Chunker
	Index        domain.KnowledgeIndex
	Workers      int           // default 2
	StageTimeout time.Duration // per document; 0 disables
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Runner consumes jobs from the queue and processes each document once.
type Runner struct {
	machine   *ingest.Machine
	queue     *bus.JobQueue
	extractor Extractor
	chunker   *knowledge.Chunker
	index     domain.KnowledgeIndex
	workers   int
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Extractor == nil {
		cfg.Extractor = &FileExtractor{}
	}
	if cfg.Chunker == nil {
		cfg.Chunker = knowledge.NewChunker(1000, 200)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		machine:   cfg.Machine,
		queue:     cfg.Queue,
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		index:     cfg.Index,
		workers:   cfg.Workers,
		timeout:   cfg.StageTimeout,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Enqueue schedules a document for processing.
func (r *Runner) Enqueue(ctx context.Context, documentID string) error {
	if err := r.queue.Publish(ctx, bus.Job{DocumentID: documentID}); err != nil {
		return fmt.Errorf("enqueue %s: %w", documentID, err)
	}
	r.metrics.SetQueueDepth(r.queue.Len())
	return nil
}

// Recover fails documents interrupted by a previous run and re-queues
// uploads that never started. It must complete before new uploads are
// accepted, otherwise a fresh upload could be queued twice or failed as
// interrupted. It returns the number of re-queued documents.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	ids, err := r.machine.Recover(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if err := r.Enqueue(ctx, id); err != nil {
			r.logger.Warn("requeue failed", "id", id, "err", err)
			r.machine.Fail(context.WithoutCancel(ctx), id, fmt.Errorf("could not queue for processing: %w", err))
			continue
		}
		queued++
	}
	if queued > 0 {
		r.logger.Info("requeued interrupted uploads", "count", queued)
	}
	return queued, nil
}

// Run processes jobs until ctx is cancelled or the queue is closed, then
// waits for in-flight documents to finish.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	r.logger.Info("pipeline started", "workers", r.workers)
	jobs := r.queue.Subscribe()
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case job, ok := <-jobs:
			if !ok {
				break loop
			}
			r.metrics.SetQueueDepth(r.queue.Len())
			g.Go(func() error {
				r.Process(gctx, job.DocumentID)
				return nil
			})
		}
	}

	err := g.Wait()
	r.logger.Info("pipeline stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// errDeleted stops processing of a document removed mid-run.
var errDeleted = errors.New("document deleted during processing")

// Process runs one document through every stage. Failures are recorded on
// the document; Process itself never fails.
func (r *Runner) Process(ctx context.Context, id string) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := r.logger.With("id", id)
	start := time.Now()

	err := r.process(ctx, logger, id)
	switch {
	case err == nil:
		logger.Info("document ready", "elapsed", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, errDeleted):
		logger.Info("document deleted while processing, dropping work")
		if r.index != nil {
			r.index.DeleteDocument(context.WithoutCancel(ctx), id)
		}
	default:
		logger.Error("document processing failed", "err", err)
		// Recording the failure must survive a cancelled run context.
		if _, ferr := r.machine.Fail(context.WithoutCancel(ctx), id, err); ferr != nil && !errors.Is(ferr, domain.ErrNotFound) {
			logger.Error("failed to record processing failure", "err", ferr)
		}
	}
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, id string) error {
	doc, err := r.advance(ctx, id, domain.StatusProcessing, ProgressProcessing)
	if err != nil {
		return err
	}

	stageStart := time.Now()
	pages, err := r.extractor.Extract(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}
	if !hasText(pages) {
		return errors.New("no extractable text found in document")
	}
	r.metrics.RecordStage("processing", time.Since(stageStart))
	logger.Debug("text extracted", "pages", len(pages))

	if _, err := r.advance(ctx, id, domain.StatusChunking, ProgressChunking); err != nil {
		return err
	}
	stageStart = time.Now()
	chunks := r.chunker.Split(id, doc.Filename, pages)
	r.metrics.RecordStage("chunking", time.Since(stageStart))
	logger.Debug("document chunked", "chunks", len(chunks))

	if _, err := r.advance(ctx, id, domain.StatusEmbedding, ProgressEmbedding); err != nil {
		return err
	}
	stageStart = time.Now()
	if r.index != nil {
		if err := r.index.AddChunks(ctx, id, chunks); err != nil {
			return fmt.Errorf("failed to index chunks: %w", err)
		}
	}
	r.metrics.RecordStage("embedding", time.Since(stageStart))
	r.metrics.RecordChunks(len(chunks))

	pageCount := 0
	if doc.Kind == domain.KindPDF {
		// Blank pages yield no content file, so count from the page tree.
		n, err := PageCount(doc.StoragePath)
		if err != nil {
			logger.Warn("page count failed, using extracted pages", "err", err)
			n = len(pages)
		}
		pageCount = n
	}
	if err := r.machine.RecordStats(ctx, id, pageCount, len(chunks)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errDeleted
		}
		return err
	}

	_, err = r.advance(ctx, id, domain.StatusReady, 100)
	return err
}

func (r *Runner) advance(ctx context.Context, id string, next domain.Status, progress int) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("processing cancelled: %w", err)
	}
	doc, err := r.machine.Advance(ctx, id, next, &progress, "")
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errDeleted
	}
	return doc, err
}

func hasText(pages []knowledge.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
