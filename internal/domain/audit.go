package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditGameConnect    AuditEventType = "game_connect"
	AuditGameDisconnect AuditEventType = "game_disconnect"
	AuditGameReplaced   AuditEventType = "game_replaced"
	AuditRequestTimeout AuditEventType = "request_timeout"
	AuditRequestFailed  AuditEventType = "request_failed"
	AuditChatDropped    AuditEventType = "chat_dropped"
	AuditNotifyFailed   AuditEventType = "notify_failed"
)

// AuditEvent is one line of the connection audit trail.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	ConnID    string            `json:"conn_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
