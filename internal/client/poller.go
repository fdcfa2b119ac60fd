package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"policyqa/internal/domain"
	"policyqa/internal/metrics"
)

// StatusFetcher reads one document's status from the server.
type StatusFetcher interface {
	Status(ctx context.Context, id string) (*domain.StatusReport, error)
}

type EventKind int

const (
	// EventSkipped: the fetch failed and the attempt was spent.
	EventSkipped EventKind = iota + 1
	// EventProgress: a non-terminal status was observed.
	EventProgress
	// EventTerminal: ready or error was observed; polling stopped.
	EventTerminal
	// EventRemoved: the document no longer exists; polling stopped.
	EventRemoved
	// EventExhausted: the attempt budget ran out; polling stopped.
	EventExhausted
	// EventStopped: Stop was called or the start context ended.
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventSkipped:
		return "skipped"
	case EventProgress:
		return "progress"
	case EventTerminal:
		return "terminal"
	case EventRemoved:
		return "removed"
	case EventExhausted:
		return "exhausted"
	case EventStopped:
		return "stopped"
	}
	return "unknown"
}

// Event describes one poll outcome for a document.
type Event struct {
	Kind       EventKind
	DocumentID string
	Attempt    int
	Status     domain.Status
	Err        error
}

// Done reports whether the session ended with this event.
func (e Event) Done() bool {
	return e.Kind >= EventTerminal
}

type PollerConfig struct {
	Fetcher      StatusFetcher
	Store        *Store
	Clock        Clock
	Interval     time.Duration // default 10s
	MaxAttempts  int           // default 30
	ProgressStep int           // default 10
	ProgressCap  int           // default 90
	FetchTimeout time.Duration // per fetch; default Interval
	MarkStalled  bool          // flag the document when the budget runs out
	OnEvent      func(Event)
	Metrics      *metrics.Client
	Logger       *slog.Logger
}

// Poller runs one polling session per in-flight document. Each session
// fetches status every Interval until it sees a terminal status, the
// document disappears or MaxAttempts fetches were made.
type Poller struct {
	cfg PollerConfig

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

type session struct {
	id       string
	attempts int
	timer    Timer
	ctx      context.Context
	cancel   context.CancelFunc
	done     bool
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 10
	}
	if cfg.ProgressCap <= 0 || cfg.ProgressCap > 99 {
		cfg.ProgressCap = 90
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{cfg: cfg, sessions: make(map[string]*session)}
}

// Start begins polling id. It returns false when a session for id is
// already running. The session ends early when ctx is cancelled.
func (p *Poller) Start(ctx context.Context, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[id]; ok {
		return false
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{id: id, ctx: sctx, cancel: cancel}
	p.sessions[id] = s
	p.wg.Add(1)
	s.timer = p.cfg.Clock.AfterFunc(p.cfg.Interval, func() { p.tick(s) })
	context.AfterFunc(sctx, func() { p.finish(s, Event{Kind: EventStopped, DocumentID: id}) })

	p.cfg.Logger.Debug("polling started", "id", id, "interval", p.cfg.Interval, "max_attempts", p.cfg.MaxAttempts)
	return true
}

// Stop ends the session for id. It reports whether one was running.
func (p *Poller) Stop(id string) bool {
	p.mu.Lock()
	s, ok := p.sessions[id]
	var attempts int
	if ok {
		attempts = s.attempts
	}
	p.mu.Unlock()
	if ok {
		p.finish(s, Event{Kind: EventStopped, DocumentID: id, Attempt: attempts})
	}
	return ok
}

// StopAll ends every running session.
func (p *Poller) StopAll() {
	for _, id := range p.Active() {
		p.Stop(id)
	}
}

// Polling reports whether a session for id is running.
func (p *Poller) Polling(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[id]
	return ok
}

// Active returns the ids with a running session.
func (p *Poller) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every session has ended.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) tick(s *session) {
	p.mu.Lock()
	if s.done {
		p.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	p.mu.Unlock()

	p.cfg.Metrics.RecordPollAttempt()
	ctx, cancel := context.WithTimeout(s.ctx, p.cfg.FetchTimeout)
	rep, err := p.cfg.Fetcher.Status(ctx, s.id)
	cancel()

	if s.ctx.Err() != nil {
		return
	}

	ev := Event{DocumentID: s.id, Attempt: attempt}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.cfg.Store.Dispatch(Remove{ID: s.id})
		ev.Kind = EventRemoved
		p.finish(s, ev)
		return

	case err != nil:
		ev.Kind, ev.Err = EventSkipped, err
		p.cfg.Logger.Debug("status fetch failed, tick skipped", "id", s.id, "attempt", attempt, "err", err)

	case rep.Status.Terminal():
		p.cfg.Store.Dispatch(ApplyStatus{Report: *rep})
		ev.Kind, ev.Status = EventTerminal, rep.Status
		p.finish(s, ev)
		return

	default:
		p.cfg.Store.Dispatch(ApplyStatus{Report: *rep})
		p.cfg.Store.Dispatch(BumpProgress{ID: s.id, Step: p.cfg.ProgressStep, Cap: p.cfg.ProgressCap})
		ev.Kind, ev.Status = EventProgress, rep.Status
	}

	if attempt >= p.cfg.MaxAttempts {
		p.emit(ev)
		if p.cfg.MarkStalled {
			p.cfg.Store.Dispatch(MarkStalled{ID: s.id})
		}
		p.cfg.Metrics.RecordPollExhausted()
		last := ev.Status
		if d, ok := p.cfg.Store.Document(s.id); ok {
			last = d.Status
		}
		p.finish(s, Event{Kind: EventExhausted, DocumentID: s.id, Attempt: attempt, Status: last})
		return
	}

	p.mu.Lock()
	if !s.done {
		s.timer = p.cfg.Clock.AfterFunc(p.cfg.Interval, func() { p.tick(s) })
	}
	p.mu.Unlock()
	p.emit(ev)
}

// finish ends a session once; later calls are ignored.
func (p *Poller) finish(s *session, ev Event) {
	p.mu.Lock()
	if s.done {
		p.mu.Unlock()
		return
	}
	s.done = true
	if p.sessions[s.id] == s {
		delete(p.sessions, s.id)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	p.mu.Unlock()

	s.cancel()
	switch ev.Kind {
	case EventExhausted:
		p.cfg.Logger.Info("polling gave up before a terminal status", "id", s.id, "attempts", ev.Attempt, "status", ev.Status)
	case EventRemoved:
		p.cfg.Logger.Debug("document gone, polling stopped", "id", s.id)
	default:
		p.cfg.Logger.Debug("polling stopped", "id", s.id, "event", ev.Kind, "status", ev.Status)
	}
	p.emit(ev)
	p.wg.Done()
}

func (p *Poller) emit(ev Event) {
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(ev)
	}
}
