package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"mcbridge/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- test doubles ---

type fakeConn struct {
	id       string
	mu       sync.Mutex
	frames   []json.RawMessage
	writeErr error
	onWrite  func(raw json.RawMessage)
	closed   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteFrame(_ context.Context, v any) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, raw)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(raw)
	}
	return nil
}

func (c *fakeConn) Close(string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) written() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.frames))
	copy(out, c.frames)
	return out
}

type fakeSource struct {
	mu   sync.Mutex
	conn domain.GameConn
}

func (s *fakeSource) Get() (domain.GameConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.conn != nil
}

func (s *fakeSource) set(c domain.GameConn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) notifications() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

type fakeMirror struct {
	configured bool
	mu         sync.Mutex
	msgs       []domain.WebhookMessage
}

func (m *fakeMirror) Configured() bool { return m.configured }

func (m *fakeMirror) Mirror(_ context.Context, msg domain.WebhookMessage) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

func (m *fakeMirror) messages() []domain.WebhookMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WebhookMessage(nil), m.msgs...)
}

// requestIDOf extracts request_id from an outbound request frame.
func requestIDOf(raw json.RawMessage) string {
	var req domain.Request
	_ = json.Unmarshal(raw, &req)
	return req.RequestID
}
