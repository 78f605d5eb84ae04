package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mcbridge/internal/domain"
)

func TestStatusHandler_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Set(&stubConn{id: "c1"})
	deps := StatusDeps{Registry: reg, Pending: func() int { return 3 }, Version: "test"}

	metrics := &Metrics{}
	metrics.RequestsSent.Store(42)
	metrics.RequestsTimedOut.Store(2)
	metrics.ChatMirrored.Store(7)

	handler := statusHandler(deps, time.Now().Add(-60*time.Second), metrics)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Service.Name != "mcbridge" || resp.Service.Version != "test" {
		t.Errorf("Service = %+v", resp.Service)
	}
	if resp.Service.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d, want >= 59", resp.Service.UptimeSeconds)
	}
	if !resp.Game.Connected {
		t.Error("Game.Connected = false")
	}
	if resp.Requests.Pending != 3 || resp.Requests.Sent != 42 || resp.Requests.TimedOut != 2 {
		t.Errorf("Requests = %+v", resp.Requests)
	}
	if resp.Chat.Mirrored != 7 {
		t.Errorf("Chat.Mirrored = %d, want 7", resp.Chat.Mirrored)
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	handler := statusHandler(StatusDeps{}, time.Now(), &Metrics{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestMetricsHandler_Success(t *testing.T) {
	metrics := &Metrics{}
	metrics.FramesReceived.Store(100)
	metrics.FramesMalformed.Store(4)

	handler := metricsHandler(StatusDeps{Registry: NewRegistry()}, time.Now().Add(-120*time.Second), metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	expected := []string{
		"mcbridge_game_connected 0",
		"mcbridge_frames_received_total 100",
		"mcbridge_frames_malformed_total 4",
		"mcbridge_requests_pending 0",
		"# TYPE mcbridge_requests_sent_total counter",
		"mcbridge_uptime_seconds",
		"go_goroutines",
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsObserve(t *testing.T) {
	m := &Metrics{}
	ctx := context.Background()
	for _, typ := range []domain.EventType{
		domain.EventGameConnected,
		domain.EventRequestSent,
		domain.EventRequestSent,
		domain.EventRequestCompleted,
		domain.EventChatDropped,
		domain.EventType("unknown"),
	} {
		m.Observe(ctx, domain.NewEvent(typ, "c1"))
	}

	if got := m.Connections.Load(); got != 1 {
		t.Errorf("Connections = %d, want 1", got)
	}
	if got := m.RequestsSent.Load(); got != 2 {
		t.Errorf("RequestsSent = %d, want 2", got)
	}
	if got := m.RequestsCompleted.Load(); got != 1 {
		t.Errorf("RequestsCompleted = %d, want 1", got)
	}
	if got := m.ChatDropped.Load(); got != 1 {
		t.Errorf("ChatDropped = %d, want 1", got)
	}
}

func TestRegisterRESTHandlers(t *testing.T) {
	bus := &syncBus{}
	reg := NewRegistry()
	h := newRecordingHandler()
	srv := NewServer(reg, h, "127.0.0.1:0", testLogger())
	metrics := RegisterRESTHandlers(srv, StatusDeps{Bus: bus, Registry: reg})
	runTestServer(t, srv)

	bus.Publish(context.Background(), domain.NewEvent(domain.EventFrameReceived, "c1"))
	if metrics.FramesReceived.Load() != 1 {
		t.Error("bus event not counted")
	}

	resp, err := http.Get("http://" + srv.BoundAddr() + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Frames.Received != 1 {
		t.Errorf("Frames.Received = %d, want 1", status.Frames.Received)
	}
}

// syncBus delivers events synchronously to SubscribeAll handlers.
type syncBus struct {
	handlers []domain.EventHandler
}

func (b *syncBus) Publish(ctx context.Context, event domain.Event) {
	for _, h := range b.handlers {
		h(ctx, event)
	}
}

func (b *syncBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }

func (b *syncBus) SubscribeAll(handler domain.EventHandler) func() {
	b.handlers = append(b.handlers, handler)
	return func() {}
}

func (b *syncBus) Close() {}
