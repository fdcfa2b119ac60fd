package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"policyqa/internal/bus"
	"policyqa/internal/domain"
	"policyqa/internal/ingest"
	"policyqa/internal/knowledge"
	"policyqa/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type harness struct {
	machine *ingest.Machine
	index   *knowledge.MemoryIndex
	queue   *bus.JobQueue
	runner  *Runner
}

func newHarness(t *testing.T, extractor Extractor) *harness {
	t.Helper()
	files, err := ingest.NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	idx := knowledge.NewMemoryIndex()
	m := ingest.NewMachine(ingest.MachineConfig{
		Store:  store.NewMemoryStore(),
		Files:  files,
		Index:  idx,
		Logger: testLogger(),
	})
	q := bus.New(10, testLogger())
	r := NewRunner(RunnerConfig{
		Machine:   m,
		Queue:     q,
		Extractor: extractor,
		Chunker:   knowledge.NewChunker(60, 10),
		Index:     idx,
		Workers:   2,
		Logger:    testLogger(),
	})
	return &harness{machine: m, index: idx, queue: q, runner: r}
}

func (h *harness) upload(t *testing.T, name, body string) *domain.Document {
	t.Helper()
	doc, err := h.machine.Create(context.Background(), ingest.FileUpload{Filename: name, Size: -1, Content: strings.NewReader(body)})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// recordingExtractor wraps FileExtractor and records the status seen at extraction time.
type recordingExtractor struct {
	machine *ingest.Machine
	mu      sync.Mutex
	seen    []domain.Status
}

func (r *recordingExtractor) Extract(ctx context.Context, doc *domain.Document) ([]knowledge.Page, error) {
	cur, _ := r.machine.Get(ctx, doc.ID)
	r.mu.Lock()
	r.seen = append(r.seen, cur.Status)
	r.mu.Unlock()
	return (&FileExtractor{}).Extract(ctx, doc)
}

func TestProcess_TextDocumentBecomesReady(t *testing.T) {
	rec := &recordingExtractor{}
	h := newHarness(t, rec)
	rec.machine = h.machine

	body := "Flood damage is excluded unless the optional flood rider was purchased. " +
		"Fire damage to the dwelling is covered up to the policy limit stated in the schedule."
	doc := h.upload(t, "terms.txt", body)

	h.runner.Process(context.Background(), doc.ID)

	got, _ := h.machine.Get(context.Background(), doc.ID)
	if got.Status != domain.StatusReady || got.Progress != 100 {
		t.Fatalf("expected ready/100, got %s/%d (%s)", got.Status, got.Progress, got.Error)
	}
	if got.ChunksCount < 2 {
		t.Fatalf("expected several chunks, got %d", got.ChunksCount)
	}
	if n, _ := h.index.Count(context.Background()); n != got.ChunksCount {
		t.Fatalf("index has %d chunks, document reports %d", n, got.ChunksCount)
	}
	if len(rec.seen) != 1 || rec.seen[0] != domain.StatusProcessing {
		t.Fatalf("extraction should run in processing, saw %v", rec.seen)
	}

	results, _ := h.index.Search(context.Background(), "flood rider", 1, nil)
	if len(results) != 1 || !strings.HasPrefix(results[0].Chunk.ID, "terms.txt_") {
		t.Fatalf("unexpected search result %+v", results)
	}
}

type failingExtractor struct{ err error }

func (f failingExtractor) Extract(context.Context, *domain.Document) ([]knowledge.Page, error) {
	return nil, f.err
}

func TestProcess_ExtractionFailureRecordsError(t *testing.T) {
	h := newHarness(t, failingExtractor{err: errors.New("encrypted pdf")})
	doc := h.upload(t, "a.txt", "some text")

	h.runner.Process(context.Background(), doc.ID)

	got, _ := h.machine.Get(context.Background(), doc.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "encrypted pdf") {
		t.Fatalf("error message lost: %q", got.Error)
	}
}

type emptyExtractor struct{}

func (emptyExtractor) Extract(context.Context, *domain.Document) ([]knowledge.Page, error) {
	return []knowledge.Page{{Number: 1, Text: "   "}}, nil
}

func TestProcess_NoTextFails(t *testing.T) {
	h := newHarness(t, emptyExtractor{})
	doc := h.upload(t, "blank.txt", "x")

	h.runner.Process(context.Background(), doc.ID)

	got, _ := h.machine.Get(context.Background(), doc.ID)
	if got.Status != domain.StatusError || !strings.Contains(got.Error, "no extractable text") {
		t.Fatalf("expected no-text error, got %s %q", got.Status, got.Error)
	}
}

func TestProcess_InvalidTransitionForcesError(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.upload(t, "a.txt", "coverage text")
	// Simulate a stray writer moving the document ahead of the pipeline.
	h.machine.Advance(context.Background(), doc.ID, domain.StatusProcessing, nil, "")

	h.runner.Process(context.Background(), doc.ID)

	got, _ := h.machine.Get(context.Background(), doc.ID)
	if got.Status != domain.StatusError || !strings.Contains(got.Error, "cannot move from processing") {
		t.Fatalf("expected forced error, got %s %q", got.Status, got.Error)
	}
}

// deletingExtractor removes the document while it is being processed.
type deletingExtractor struct{ machine *ingest.Machine }

func (d *deletingExtractor) Extract(ctx context.Context, doc *domain.Document) ([]knowledge.Page, error) {
	d.machine.Delete(ctx, doc.ID)
	return []knowledge.Page{{Text: "late text"}}, nil
}

func TestProcess_DeletedMidRunIsDropped(t *testing.T) {
	ext := &deletingExtractor{}
	h := newHarness(t, ext)
	ext.machine = h.machine
	doc := h.upload(t, "a.txt", "coverage text")

	h.runner.Process(context.Background(), doc.ID)

	if _, err := h.machine.Get(context.Background(), doc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted document resurrected: %v", err)
	}
	if n, _ := h.index.Count(context.Background()); n != 0 {
		t.Fatalf("chunks of deleted document indexed: %d", n)
	}
}

func TestRun_ProcessesQueuedJobs(t *testing.T) {
	h := newHarness(t, nil)
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.upload(t, "doc.txt", "policy wording about deductibles and limits").ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	for _, id := range ids {
		if err := h.runner.Enqueue(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		ready := 0
		for _, id := range ids {
			d, _ := h.machine.Get(ctx, id)
			if d.Status == domain.StatusReady {
				ready++
			}
		}
		if ready == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/%d documents ready", ready, len(ids))
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.queue.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func waitForStatus(t *testing.T, h *harness, id string, want domain.Status) *domain.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, err := h.machine.Get(context.Background(), id)
		if err == nil && d.Status == want {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: wanted %s, got %+v (%v)", id, want, d, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecover_SettlesLeftoversBeforeNewUploads(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := h.upload(t, "pending.txt", "policy wording about hail damage")
	midway := h.upload(t, "midway.txt", "policy wording about theft")
	h.machine.Advance(ctx, midway.ID, domain.StatusProcessing, nil, "")

	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	n, err := h.runner.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued upload, got %d", n)
	}

	// An upload accepted after recovery is queued exactly once and is
	// never mistaken for interrupted work.
	fresh := h.upload(t, "fresh.txt", "policy wording about windstorm deductibles")
	if err := h.runner.Enqueue(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, h, pending.ID, domain.StatusReady)
	waitForStatus(t, h, fresh.ID, domain.StatusReady)
	if got := waitForStatus(t, h, midway.ID, domain.StatusError); got.Error != ingest.InterruptedMessage {
		t.Fatalf("expected interrupted, got %q", got.Error)
	}
	if n, _ := h.runner.Recover(ctx); n != 0 {
		t.Fatalf("settled documents requeued again: %d", n)
	}

	h.queue.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
