package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(deps StatusDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		connected := 0
		if deps.Registry != nil && deps.Registry.Connected() {
			connected = 1
		}
		writeMetric(w, "mcbridge_game_connected", "gauge", "Whether a game process is connected.", connected)
		writeMetric(w, "mcbridge_game_connections_total", "counter", "Game connections accepted.", metrics.Connections.Load())
		writeMetric(w, "mcbridge_game_disconnections_total", "counter", "Active game connections lost.", metrics.Disconnections.Load())
		writeMetric(w, "mcbridge_game_replacements_total", "counter", "Game connections displaced by a newer one.", metrics.Replacements.Load())

		writeMetric(w, "mcbridge_frames_received_total", "counter", "Inbound frames decoded.", metrics.FramesReceived.Load())
		writeMetric(w, "mcbridge_frames_malformed_total", "counter", "Inbound frames that failed to decode.", metrics.FramesMalformed.Load())
		writeMetric(w, "mcbridge_frames_ignored_total", "counter", "Inbound frames of unknown type.", metrics.FramesIgnored.Load())

		writeMetric(w, "mcbridge_requests_pending", "gauge", "Requests awaiting a response.", deps.pending())
		writeMetric(w, "mcbridge_requests_sent_total", "counter", "Requests sent to the game process.", metrics.RequestsSent.Load())
		writeMetric(w, "mcbridge_requests_completed_total", "counter", "Requests answered in time.", metrics.RequestsCompleted.Load())
		writeMetric(w, "mcbridge_requests_timed_out_total", "counter", "Requests that timed out.", metrics.RequestsTimedOut.Load())
		writeMetric(w, "mcbridge_requests_failed_total", "counter", "Requests that failed to send or lost their connection.", metrics.RequestsFailed.Load())
		writeMetric(w, "mcbridge_responses_orphaned_total", "counter", "Responses with no waiting request.", metrics.ResponsesOrphaned.Load())

		writeMetric(w, "mcbridge_chat_forwarded_total", "counter", "Discord messages forwarded to the game.", metrics.ChatForwarded.Load())
		writeMetric(w, "mcbridge_chat_dropped_total", "counter", "Discord messages dropped.", metrics.ChatDropped.Load())
		writeMetric(w, "mcbridge_chat_mirrored_total", "counter", "Game chat lines mirrored to Discord.", metrics.ChatMirrored.Load())

		writeMetric(w, "mcbridge_notifications_sent_total", "counter", "Channel notifications posted.", metrics.NotificationsSent.Load())
		writeMetric(w, "mcbridge_notifications_failed_total", "counter", "Channel notifications that failed.", metrics.NotificationsFailed.Load())

		// Uptime.
		fmt.Fprintf(w, "# HELP mcbridge_uptime_seconds Seconds since the bridge started.\n")
		fmt.Fprintf(w, "# TYPE mcbridge_uptime_seconds gauge\n")
		fmt.Fprintf(w, "mcbridge_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
		writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
		writeMetric(w, "go_memstats_sys_bytes", "gauge", "Total bytes of memory obtained from the OS.", mem.Sys)

		fmt.Fprintf(w, "# HELP go_gc_duration_seconds Total GC pause duration.\n")
		fmt.Fprintf(w, "# TYPE go_gc_duration_seconds gauge\n")
		fmt.Fprintf(w, "go_gc_duration_seconds %f\n", float64(mem.PauseTotalNs)/1e9)
	}
}

func writeMetric[T int | int64 | uint64](w io.Writer, name, typ, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
