package relay

import (
	"encoding/json"
	"sync"

	"mcbridge/internal/domain"
)

// Waiter is a single-resolution future for one correlated request. The
// payload and error are written before done is closed and read only after.
type Waiter struct {
	connID  string
	done    chan struct{}
	once    sync.Once
	payload json.RawMessage
	err     error
}

func newWaiter(connID string) *Waiter {
	return &Waiter{connID: connID, done: make(chan struct{})}
}

// Done is closed once the waiter has been resolved or failed.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Result returns the stored payload or failure. Only valid after Done.
func (w *Waiter) Result() (json.RawMessage, error) { return w.payload, w.err }

func (w *Waiter) complete(payload json.RawMessage, err error) bool {
	completed := false
	w.once.Do(func() {
		w.payload = payload
		w.err = err
		close(w.done)
		completed = true
	})
	return completed
}

// PendingTable maps request ids to their waiters.
type PendingTable struct {
	mu      sync.Mutex
	pending map[string]*Waiter
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{pending: make(map[string]*Waiter)}
}

// Register stores a fresh waiter for requestID, bound to the connection the
// request will be sent on.
func (t *PendingTable) Register(requestID, connID string) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[requestID]; exists {
		return nil, domain.NewDomainError("PendingTable.Register", domain.ErrDuplicateRequestID, requestID)
	}
	w := newWaiter(connID)
	t.pending[requestID] = w
	return w, nil
}

// Resolve delivers payload to the waiter for requestID. It reports false for
// unknown, removed or already completed entries; that is never an error.
func (t *PendingTable) Resolve(requestID string, payload json.RawMessage) bool {
	t.mu.Lock()
	w, ok := t.pending[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return w.complete(payload, nil)
}

// Remove discards the entry for requestID.
func (t *PendingTable) Remove(requestID string) {
	t.mu.Lock()
	delete(t.pending, requestID)
	t.mu.Unlock()
}

// FailConn completes every waiter registered against connID with err and
// returns how many were still open. Entries stay in the table; their owners
// remove them.
func (t *PendingTable) FailConn(connID string, err error) int {
	t.mu.Lock()
	waiters := make([]*Waiter, 0, len(t.pending))
	for _, w := range t.pending {
		if w.connID == connID {
			waiters = append(waiters, w)
		}
	}
	t.mu.Unlock()

	failed := 0
	for _, w := range waiters {
		if w.complete(nil, err) {
			failed++
		}
	}
	return failed
}

// Len returns the number of open entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
