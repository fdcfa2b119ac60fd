package client

import (
	"slices"
	"sync"
	"time"

	"policyqa/internal/domain"
)

type Tab string

const (
	TabDocuments Tab = "documents"
	TabChat      Tab = "chat"
)

// LocalDocument is the client's view of one document.
type LocalDocument struct {
	ID          string
	Filename    string
	Size        int64
	Status      domain.Status
	Progress    int
	Error       string
	ChunksCount int
	UploadedAt  time.Time

	// Optimistic entries were added before the server assigned an id.
	Optimistic bool
	// Stalled is set when polling gave up before a terminal status.
	Stalled bool
}

type ChatMessage struct {
	Role    string // user | assistant
	Content string
	Sources []domain.Source
	Failed  bool
	At      time.Time
}

// State is the complete client-side application state.
type State struct {
	Documents []LocalDocument
	Messages  []ChatMessage
	Tab       Tab
}

func (s State) index(id string) int {
	return slices.IndexFunc(s.Documents, func(d LocalDocument) bool { return d.ID == id })
}

// Document looks up a document by id.
func (s State) Document(id string) (LocalDocument, bool) {
	if i := s.index(id); i >= 0 {
		return s.Documents[i], true
	}
	return LocalDocument{}, false
}

// Action is a state change request handled by Reduce.
type Action interface{ action() }

// AddOptimistic shows a file as uploading before the server answers.
type AddOptimistic struct {
	TempID   string
	Filename string
	Size     int64
	At       time.Time
}

// ResolveUpload replaces an optimistic entry with the server's document.
type ResolveUpload struct {
	TempID   string
	Document UploadedDocument
}

// UploadFailed marks an optimistic entry as failed.
type UploadFailed struct {
	TempID string
	Error  string
}

// ApplyStatus reconciles a document with a server status snapshot.
type ApplyStatus struct {
	Report domain.StatusReport
}

// BumpProgress advances the heuristic progress of a non-terminal document.
type BumpProgress struct {
	ID   string
	Step int
	Cap  int
}

// MarkStalled flags a document whose polling budget ran out.
type MarkStalled struct {
	ID string
}

type Remove struct {
	ID string
}

// SetDocuments replaces the list with the server's. Pending optimistic
// entries are kept at the end.
type SetDocuments struct {
	Documents []domain.Document
}

type AppendMessage struct {
	Message ChatMessage
}

type SetTab struct {
	Tab Tab
}

func (AddOptimistic) action() {}
func (ResolveUpload) action() {}
func (UploadFailed) action()  {}
func (ApplyStatus) action()   {}
func (BumpProgress) action()  {}
func (MarkStalled) action()   {}
func (Remove) action()        {}
func (SetDocuments) action()  {}
func (AppendMessage) action() {}
func (SetTab) action()        {}

// Reduce returns the state after applying a. It never mutates s.
func Reduce(s State, a Action) State {
	docs := slices.Clone(s.Documents)
	next := State{Documents: docs, Messages: s.Messages, Tab: s.Tab}

	switch a := a.(type) {
	case AddOptimistic:
		if next.index(a.TempID) >= 0 {
			return s
		}
		next.Documents = append(docs, LocalDocument{
			ID:         a.TempID,
			Filename:   a.Filename,
			Size:       a.Size,
			Status:     domain.StatusUploading,
			UploadedAt: a.At,
			Optimistic: true,
		})

	case ResolveUpload:
		i := next.index(a.TempID)
		if i < 0 {
			return s
		}
		d := docs[i]
		d.ID = a.Document.ID
		d.Filename = a.Document.Filename
		d.Size = a.Document.Size
		d.Status = a.Document.Status
		if d.Status == domain.StatusUnknown {
			d.Status = domain.StatusUploading
		}
		d.Optimistic = false
		docs[i] = d

	case UploadFailed:
		i := next.index(a.TempID)
		if i < 0 {
			return s
		}
		d := docs[i]
		d.Status = domain.StatusError
		d.Error = a.Error
		if d.Error == "" {
			d.Error = "upload failed"
		}
		docs[i] = d

	case ApplyStatus:
		i := next.index(a.Report.DocumentID)
		if i < 0 {
			return s
		}
		docs[i] = applyReport(docs[i], a.Report)

	case BumpProgress:
		i := next.index(a.ID)
		if i < 0 || docs[i].Status.Terminal() {
			return s
		}
		d := docs[i]
		d.Progress = min(d.Progress+a.Step, a.Cap)
		docs[i] = d

	case MarkStalled:
		i := next.index(a.ID)
		if i < 0 || docs[i].Status.Terminal() {
			return s
		}
		docs[i].Stalled = true

	case Remove:
		i := next.index(a.ID)
		if i < 0 {
			return s
		}
		next.Documents = slices.Delete(docs, i, i+1)

	case SetDocuments:
		next.Documents = mergeDocuments(s.Documents, a.Documents)

	case AppendMessage:
		next.Messages = append(slices.Clone(s.Messages), a.Message)

	case SetTab:
		next.Tab = a.Tab

	default:
		return s
	}
	return next
}

// applyReport keeps the invariants: error is set only in the error status
// and progress is 100 only when ready.
func applyReport(d LocalDocument, r domain.StatusReport) LocalDocument {
	if d.Status.Terminal() {
		return d
	}
	d.Status = r.Status
	d.ChunksCount = r.ChunksCount
	if r.Filename != "" {
		d.Filename = r.Filename
	}
	if r.Size > 0 {
		d.Size = r.Size
	}
	if !r.UploadedAt.IsZero() {
		d.UploadedAt = r.UploadedAt
	}
	switch r.Status {
	case domain.StatusReady:
		d.Progress = 100
		d.Error = ""
		d.Stalled = false
	case domain.StatusError:
		d.Error = r.Error
		if d.Error == "" {
			d.Error = "processing failed"
		}
		d.Stalled = false
	default:
		d.Error = ""
		d.Progress = min(d.Progress, 99)
	}
	return d
}

func mergeDocuments(local []LocalDocument, remote []domain.Document) []LocalDocument {
	byID := make(map[string]LocalDocument, len(local))
	for _, d := range local {
		byID[d.ID] = d
	}

	out := make([]LocalDocument, 0, len(remote)+len(local))
	for _, r := range remote {
		d := LocalDocument{
			ID:          r.ID,
			Filename:    r.Filename,
			Size:        r.Size,
			Status:      r.Status,
			Progress:    r.Progress,
			Error:       r.Error,
			ChunksCount: r.ChunksCount,
			UploadedAt:  r.UploadedAt,
		}
		if prev, ok := byID[r.ID]; ok && !r.Status.Terminal() {
			d.Progress = max(d.Progress, prev.Progress)
			d.Stalled = prev.Stalled
		}
		out = append(out, d)
	}
	for _, d := range local {
		if d.Optimistic {
			out = append(out, d)
		}
	}
	return out
}

// Store serializes actions through Reduce and notifies subscribers.
// Subscribers run synchronously in dispatch order and must not dispatch.
type Store struct {
	mu     sync.Mutex
	state  State
	notify sync.Mutex
	subs   map[int]func(State)
	nextID int
}

func NewStore(initial State) *Store {
	if initial.Tab == "" {
		initial.Tab = TabDocuments
	}
	return &Store{state: initial, subs: make(map[int]func(State))}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Document(id string) (LocalDocument, bool) {
	return s.State().Document(id)
}

// Dispatch applies a and returns the new state.
func (s *Store) Dispatch(a Action) State {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	s.state = Reduce(s.state, a)
	state := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
	return state
}

// Subscribe registers fn for every state change and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
