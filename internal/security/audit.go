// Package security keeps an append-only audit trail of game-connection
// lifecycle and relay failures.
package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mcbridge/internal/domain"
	"mcbridge/internal/infra/tracer"
	"mcbridge/internal/usecase/scheduling"
)

// RetentionPolicy controls how long audit entries are kept.
type RetentionPolicy struct {
	MaxAge  time.Duration // 0 = no limit
	MaxSize int64         // bytes; 0 = no limit
}

// FileAuditLogger implements domain.AuditLogger by writing JSONL to a file.
type FileAuditLogger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	retention RetentionPolicy
}

// NewFileAuditLogger creates an audit logger that appends to path.
// The file is created with 0600 permissions if it does not exist.
func NewFileAuditLogger(path string, retention RetentionPolicy) (*FileAuditLogger, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditLogger{file: f, path: path, retention: retention}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// Log writes an audit event as a single JSON line. When ctx carries a
// recording span the entry is also added to it as a span event.
func (a *FileAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(event.Detail)+1)
		attrs = append(attrs, tracer.StringAttr("audit.conn_id", event.ConnID))
		for k, v := range event.Detail {
			attrs = append(attrs, tracer.StringAttr("audit."+k, v))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}
	return nil
}

// Close closes the audit log file.
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// EnforceRetention rewrites the log keeping only entries that satisfy the
// retention policy: entries older than MaxAge are dropped, then the oldest
// entries are dropped until the file fits MaxSize. Safe to call while the
// logger is in use.
func (a *FileAuditLogger) EnforceRetention(_ context.Context) (removed int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	policy := a.retention
	if policy.MaxAge <= 0 && policy.MaxSize <= 0 {
		return 0, nil
	}
	if policy.MaxAge <= 0 {
		info, err := os.Stat(a.path)
		if err != nil {
			return 0, fmt.Errorf("stat audit log: %w", err)
		}
		if info.Size() <= policy.MaxSize {
			return 0, nil
		}
	}

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}

	kept, keptSize, removed, err := readKept(a.path, cutoff)
	if err != nil {
		return 0, err
	}
	for policy.MaxSize > 0 && keptSize > policy.MaxSize && len(kept) > 0 {
		keptSize -= int64(len(kept[0])) + 1
		kept = kept[1:]
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	if err := writeLines(tmpPath, kept); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	renameErr := os.Rename(tmpPath, a.path)
	if renameErr != nil {
		os.Remove(tmpPath)
	}
	a.file, err = openAppend(a.path)
	if err != nil {
		return removed, fmt.Errorf("reopen after retention: %w", err)
	}
	if renameErr != nil {
		return 0, fmt.Errorf("rename temp file: %w", renameErr)
	}
	return removed, nil
}

// ScheduleRetention registers the audit_retention action on s, running
// EnforceRetention every interval.
func (a *FileAuditLogger) ScheduleRetention(s *scheduling.Scheduler, interval time.Duration, logger *slog.Logger) error {
	s.RegisterAction(scheduling.ActionAuditRetention, func(ctx context.Context) error {
		removed, err := a.EnforceRetention(ctx)
		if removed > 0 {
			logger.Info("audit log trimmed", "removed", removed)
		}
		return err
	})
	return s.AddTask(scheduling.ScheduledTask{
		Name:     "audit-retention",
		Schedule: interval.String(),
		Action:   scheduling.ActionAuditRetention,
	})
}

// readKept returns the lines of path not older than cutoff.
func readKept(path string, cutoff time.Time) (kept [][]byte, size int64, removed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open for reading: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !cutoff.IsZero() {
			var entry struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if json.Unmarshal(line, &entry) == nil && entry.Timestamp.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, append([]byte(nil), line...))
		size += int64(len(line)) + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("scan audit log: %w", err)
	}
	return kept, size, removed, nil
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	return f.Close()
}

// ParseRetentionMaxSize parses a human-readable size string (e.g. "100MB", "1GB").
func ParseRetentionMaxSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse size %q: invalid", s)
	}
	return n * multiplier, nil
}

// auditTypes maps bus events to the audit entries they produce. Events not
// listed here are not audited.
var auditTypes = map[domain.EventType]domain.AuditEventType{
	domain.EventGameConnected:      domain.AuditGameConnect,
	domain.EventGameDisconnected:   domain.AuditGameDisconnect,
	domain.EventGameReplaced:       domain.AuditGameReplaced,
	domain.EventRequestTimedOut:    domain.AuditRequestTimeout,
	domain.EventRequestFailed:      domain.AuditRequestFailed,
	domain.EventChatDropped:        domain.AuditChatDropped,
	domain.EventNotificationFailed: domain.AuditNotifyFailed,
}

// SubscribeAudit records the audited event types from bus into audit.
// Write failures are logged. The returned function unsubscribes.
func SubscribeAudit(bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) func() {
	var unsubs []func()
	for evType, auditType := range auditTypes {
		unsubs = append(unsubs, bus.Subscribe(evType, func(ctx context.Context, e domain.Event) {
			entry := domain.AuditEvent{
				Timestamp: e.Timestamp.UTC(),
				Type:      auditType,
				ConnID:    e.ConnID,
				Detail:    payloadDetail(e.Payload),
			}
			if err := audit.Log(ctx, entry); err != nil {
				logger.Error("audit log write failed", "type", string(auditType), "error", err)
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// payloadDetail flattens a JSON object payload into string detail fields.
func payloadDetail(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	detail := make(map[string]string, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case string:
			detail[k] = v
		default:
			b, _ := json.Marshal(v)
			detail[k] = string(b)
		}
	}
	return detail
}
