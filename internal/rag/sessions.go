package rag

import (
	"container/list"
	"sync"
)

// DefaultSession is used when a chat request carries no session id.
const DefaultSession = "default"

// Exchange is one answered question.
type Exchange struct {
	Question string
	Answer   string
}

// Sessions keeps per-session chat history in memory. Only the most recent
// maxHistory exchanges survive per session, and only the maxSessions most
// recently used sessions are kept. History resets on restart.
type Sessions struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	order       *list.List // front is most recently used
	maxHistory  int
	maxSessions int
}

type sessionEntry struct {
	id      string
	history []Exchange
}

func NewSessions(maxHistory, maxSessions int) *Sessions {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	return &Sessions{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		maxHistory:  maxHistory,
		maxSessions: maxSessions,
	}
}

// History returns a copy of the session's exchanges, oldest first.
func (s *Sessions) History(id string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[id]
	if !ok {
		return []Exchange{}
	}
	s.order.MoveToFront(el)
	h := el.Value.(*sessionEntry).history
	out := make([]Exchange, len(h))
	copy(out, h)
	return out
}

// Append records an exchange, evicting the least recently used session
// when the limit is reached.
func (s *Sessions) Append(id string, ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[id]
	if !ok {
		el = s.order.PushFront(&sessionEntry{id: id})
		s.entries[id] = el
		for s.order.Len() > s.maxSessions {
			oldest := s.order.Back()
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*sessionEntry).id)
		}
	} else {
		s.order.MoveToFront(el)
	}
	e := el.Value.(*sessionEntry)
	h := append(e.history, ex)
	if len(h) > s.maxHistory {
		h = append([]Exchange(nil), h[len(h)-s.maxHistory:]...)
	}
	e.history = h
}

// Clear drops a session. It reports whether the session existed.
func (s *Sessions) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[id]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.entries, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
