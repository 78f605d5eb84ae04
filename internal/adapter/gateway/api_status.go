package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"mcbridge/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service       ServiceStatus      `json:"service"`
	Game          GameStatus         `json:"game"`
	Requests      RequestStatus      `json:"requests"`
	Frames        FrameStatus        `json:"frames"`
	Chat          ChatStatus         `json:"chat"`
	Notifications NotificationStatus `json:"notifications"`
}

// ServiceStatus holds bridge overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// GameStatus describes the game-process connection.
type GameStatus struct {
	Connected         bool  `json:"connected"`
	ConnectionsTotal  int64 `json:"connections_total"`
	ReplacementsTotal int64 `json:"replacements_total"`
}

// RequestStatus holds correlated request counters.
type RequestStatus struct {
	Pending   int   `json:"pending"`
	Sent      int64 `json:"sent_total"`
	Completed int64 `json:"completed_total"`
	TimedOut  int64 `json:"timed_out_total"`
	Failed    int64 `json:"failed_total"`
	Orphaned  int64 `json:"orphaned_total"`
}

// FrameStatus holds inbound frame counters.
type FrameStatus struct {
	Received  int64 `json:"received_total"`
	Malformed int64 `json:"malformed_total"`
	Ignored   int64 `json:"ignored_total"`
}

// ChatStatus holds chat relay counters in both directions.
type ChatStatus struct {
	Forwarded int64 `json:"forwarded_total"`
	Dropped   int64 `json:"dropped_total"`
	Mirrored  int64 `json:"mirrored_total"`
}

// NotificationStatus holds channel notification counters.
type NotificationStatus struct {
	Sent   int64 `json:"sent_total"`
	Failed int64 `json:"failed_total"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	Connections         atomic.Int64
	Disconnections      atomic.Int64
	Replacements        atomic.Int64
	FramesReceived      atomic.Int64
	FramesMalformed     atomic.Int64
	FramesIgnored       atomic.Int64
	RequestsSent        atomic.Int64
	RequestsCompleted   atomic.Int64
	RequestsTimedOut    atomic.Int64
	RequestsFailed      atomic.Int64
	ResponsesOrphaned   atomic.Int64
	ChatForwarded       atomic.Int64
	ChatDropped         atomic.Int64
	ChatMirrored        atomic.Int64
	NotificationsSent   atomic.Int64
	NotificationsFailed atomic.Int64
}

// counter maps an event type to the counter it increments.
func (m *Metrics) counter(t domain.EventType) *atomic.Int64 {
	switch t {
	case domain.EventGameConnected:
		return &m.Connections
	case domain.EventGameDisconnected:
		return &m.Disconnections
	case domain.EventGameReplaced:
		return &m.Replacements
	case domain.EventFrameReceived:
		return &m.FramesReceived
	case domain.EventFrameMalformed:
		return &m.FramesMalformed
	case domain.EventFrameIgnored:
		return &m.FramesIgnored
	case domain.EventRequestSent:
		return &m.RequestsSent
	case domain.EventRequestCompleted:
		return &m.RequestsCompleted
	case domain.EventRequestTimedOut:
		return &m.RequestsTimedOut
	case domain.EventRequestFailed:
		return &m.RequestsFailed
	case domain.EventResponseOrphaned:
		return &m.ResponsesOrphaned
	case domain.EventChatForwarded:
		return &m.ChatForwarded
	case domain.EventChatDropped:
		return &m.ChatDropped
	case domain.EventChatMirrored:
		return &m.ChatMirrored
	case domain.EventNotificationSent:
		return &m.NotificationsSent
	case domain.EventNotificationFailed:
		return &m.NotificationsFailed
	}
	return nil
}

// Observe is an event handler that counts relay events.
func (m *Metrics) Observe(_ context.Context, e domain.Event) {
	if c := m.counter(e.Type); c != nil {
		c.Add(1)
	}
}

// StatusDeps provides the live state reported by the REST handlers.
type StatusDeps struct {
	Bus      domain.EventBus
	Registry *Registry
	Pending  func() int // can be nil
	Version  string
}

func (d StatusDeps) pending() int {
	if d.Pending == nil {
		return 0
	}
	return d.Pending()
}

// RegisterRESTHandlers registers the status and metrics endpoints on the
// server and starts counting bus events.
func RegisterRESTHandlers(s *Server, deps StatusDeps) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	if deps.Bus != nil {
		deps.Bus.SubscribeAll(metrics.Observe)
	}

	s.RegisterHTTPRoute("/api/v1/status", statusHandler(deps, startTime, metrics))
	s.RegisterHTTPRoute("/metrics", metricsHandler(deps, startTime, metrics))

	return metrics
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps StatusDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "mcbridge",
				Version:       deps.Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Game: GameStatus{
				Connected:         deps.Registry != nil && deps.Registry.Connected(),
				ConnectionsTotal:  metrics.Connections.Load(),
				ReplacementsTotal: metrics.Replacements.Load(),
			},
			Requests: RequestStatus{
				Pending:   deps.pending(),
				Sent:      metrics.RequestsSent.Load(),
				Completed: metrics.RequestsCompleted.Load(),
				TimedOut:  metrics.RequestsTimedOut.Load(),
				Failed:    metrics.RequestsFailed.Load(),
				Orphaned:  metrics.ResponsesOrphaned.Load(),
			},
			Frames: FrameStatus{
				Received:  metrics.FramesReceived.Load(),
				Malformed: metrics.FramesMalformed.Load(),
				Ignored:   metrics.FramesIgnored.Load(),
			},
			Chat: ChatStatus{
				Forwarded: metrics.ChatForwarded.Load(),
				Dropped:   metrics.ChatDropped.Load(),
				Mirrored:  metrics.ChatMirrored.Load(),
			},
			Notifications: NotificationStatus{
				Sent:   metrics.NotificationsSent.Load(),
				Failed: metrics.NotificationsFailed.Load(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
