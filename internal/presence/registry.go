// Package presence tracks live editing sessions per matrix and fans out
// ephemeral events (cell focus, re-poll signals) to peers. Nothing here is
// durable: a registry entry exists only while its client stays connected and is
// rebuilt from scratch on reconnect.
package presence

import (
	"sync"
	"time"

	"matrixcore/pkg/domain"
)

// EventKind classifies a presence event.
type EventKind string

const (
	// EventFocus announces the cell a peer is currently editing.
	EventFocus EventKind = "focus"
	// EventRepoll tells peers to poll the change feed now.
	EventRepoll EventKind = "repoll"
)

// Event is one ephemeral notification fanned out to every other live session
// on the same matrix.
type Event struct {
	Kind     EventKind           `json:"kind"`
	MatrixID int64               `json:"matrix_id"`
	Token    string              `json:"token"`
	UserID   int64               `json:"user_id"`
	Focus    *domain.CellAddress `json:"focus,omitempty"`
}

// Session is the transient per-client state held by the registry.
type Session struct {
	Token       string
	ProjectID   int64
	MatrixID    int64
	UserID      int64
	ReadOnly    bool
	ConnectedAt time.Time
	LastSync    time.Time
	Focus       *domain.CellAddress
}

// Registry isolates the process-wide session map behind an interface so a
// distributed implementation can replace the in-process one without touching
// the engine.
type Registry interface {
	Register(s Session) error
	Lookup(matrixID int64, token string) (Session, bool)
	Update(matrixID int64, token string, mutate func(*Session)) bool
	List(matrixID int64) []Session
	Broadcast(ev Event)
	Remove(matrixID int64, token string)
	Subscribe(matrixID int64, token string) (<-chan Event, func())
}

type subscriber struct {
	token string
	ch    chan Event
}

// MemoryRegistry is the single-process Registry implementation, keyed by
// matrix id then session token.
type MemoryRegistry struct {
	mu          sync.RWMutex
	sessions    map[int64]map[string]Session
	subscribers map[int64][]subscriber
}

// NewMemoryRegistry constructs an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions:    make(map[int64]map[string]Session),
		subscribers: make(map[int64][]subscriber),
	}
}

// Register stores a session, replacing any previous entry under its token.
func (r *MemoryRegistry) Register(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	matrix, ok := r.sessions[s.MatrixID]
	if !ok {
		matrix = make(map[string]Session)
		r.sessions[s.MatrixID] = matrix
	}
	matrix[s.Token] = s
	return nil
}

// Lookup retrieves a session by matrix and token.
func (r *MemoryRegistry) Lookup(matrixID int64, token string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[matrixID][token]
	return s, ok
}

// Update mutates a registered session in place, reporting whether it exists.
func (r *MemoryRegistry) Update(matrixID int64, token string, mutate func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	matrix, ok := r.sessions[matrixID]
	if !ok {
		return false
	}
	s, ok := matrix[token]
	if !ok {
		return false
	}
	mutate(&s)
	s.Token = token
	s.MatrixID = matrixID
	matrix[token] = s
	return true
}

// List returns every live session on a matrix.
func (r *MemoryRegistry) List(matrixID int64) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matrix := r.sessions[matrixID]
	out := make([]Session, 0, len(matrix))
	for _, s := range matrix {
		out = append(out, s)
	}
	return out
}

// Broadcast delivers ev to every subscriber on the matrix except its origin.
// Slow subscribers are skipped rather than blocked on; presence events are
// freshness hints, not data.
func (r *MemoryRegistry) Broadcast(ev Event) {
	r.mu.RLock()
	subs := append([]subscriber(nil), r.subscribers[ev.MatrixID]...)
	r.mu.RUnlock()
	for _, sub := range subs {
		if sub.token == ev.Token {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Remove drops a session and its subscription.
func (r *MemoryRegistry) Remove(matrixID int64, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if matrix, ok := r.sessions[matrixID]; ok {
		delete(matrix, token)
		if len(matrix) == 0 {
			delete(r.sessions, matrixID)
		}
	}
	r.dropSubscriberLocked(matrixID, token)
}

// Subscribe opens a buffered event stream for a session. The returned cancel
// function closes the stream and must be called when the connection ends.
func (r *MemoryRegistry) Subscribe(matrixID int64, token string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	r.mu.Lock()
	r.subscribers[matrixID] = append(r.subscribers[matrixID], subscriber{token: token, ch: ch})
	r.mu.Unlock()
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.dropSubscriberLocked(matrixID, token)
	}
	return ch, cancel
}

func (r *MemoryRegistry) dropSubscriberLocked(matrixID int64, token string) {
	subs := r.subscribers[matrixID]
	for i, sub := range subs {
		if sub.token == token {
			close(sub.ch)
			r.subscribers[matrixID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subscribers[matrixID]) == 0 {
		delete(r.subscribers, matrixID)
	}
}
