package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mcbridge/internal/domain"
	"mcbridge/internal/infra/tracer"
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChatMirror mirrors in-game chat through m.
func WithChatMirror(m domain.ChatMirror) DispatcherOption {
	return func(d *Dispatcher) { d.mirror = m }
}

// WithDispatcherEventBus publishes frame events on bus.
func WithDispatcherEventBus(bus domain.EventBus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithAvatarBase overrides the player face URL prefix.
func WithAvatarBase(base string) DispatcherOption {
	return func(d *Dispatcher) {
		if base != "" {
			d.avatarBase = base
		}
	}
}

// Dispatcher classifies inbound frames and routes them either to the chat
// side or to the pending-request table.
type Dispatcher struct {
	table      *PendingTable
	notifier   domain.Notifier
	mirror     domain.ChatMirror // can be nil
	bus        domain.EventBus   // can be nil
	logger     *slog.Logger
	avatarBase string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(table *PendingTable, notifier domain.Notifier, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		table:      table,
		notifier:   notifier,
		logger:     logger,
		avatarBase: DefaultAvatarBase,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connected announces a newly accepted game connection.
func (d *Dispatcher) Connected(ctx context.Context, connID string) {
	publish(ctx, d.bus, domain.EventGameConnected, connID, nil)
	d.notify(ctx, connID, serverStartedNotification())
}

// Disconnected fails the requests still waiting on connID. When the
// connection was the active one, the channel is told the server stopped.
func (d *Dispatcher) Disconnected(ctx context.Context, connID string, current bool) {
	if n := d.table.FailConn(connID, domain.ErrUnavailable); n > 0 {
		d.logger.Info("failed pending requests of closed connection", "conn_id", connID, "count", n)
	}
	if !current {
		return
	}
	publish(ctx, d.bus, domain.EventGameDisconnected, connID, nil)
	d.notify(ctx, connID, serverStoppedNotification())
}

// HandleFrame processes one raw inbound frame. Errors are logged and never
// terminate the connection.
func (d *Dispatcher) HandleFrame(ctx context.Context, connID string, data []byte) {
	ctx, span := tracer.StartSpan(ctx, "relay.frame")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("conn.id", connID), tracer.IntAttr("frame.size", len(data)))

	if err := d.handle(ctx, connID, data); err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, domain.ErrMalformedFrame) {
			publish(ctx, d.bus, domain.EventFrameMalformed, connID, nil)
			d.logger.Error("received malformed frame", "conn_id", connID, "error", err, "frame", truncate(string(data), 256))
			return
		}
		d.logger.Error("error processing frame", "conn_id", connID, "code", domain.ErrorCodeOf(err), "error", err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, connID string, data []byte) error {
	frame, err := domain.DecodeFrame(data)
	if err != nil {
		return err
	}
	publish(ctx, d.bus, domain.EventFrameReceived, connID, nil)

	switch {
	case frame.Type == domain.FrameChat:
		return d.handleChat(ctx, connID, frame)
	case frame.Type == domain.FrameJoin:
		if err := requireFields(frame, true, true, false); err != nil {
			return err
		}
		d.notify(ctx, connID, joinNotification(frame.Player, faceURL(d.avatarBase, frame.UUID)))
		return nil
	case frame.Type == domain.FrameLeave:
		if err := requireFields(frame, true, true, false); err != nil {
			return err
		}
		d.notify(ctx, connID, leaveNotification(frame.Player, faceURL(d.avatarBase, frame.UUID)))
		return nil
	case frame.Type == domain.FrameDeath:
		if err := requireFields(frame, false, true, true); err != nil {
			return err
		}
		d.notify(ctx, connID, deathNotification(frame.Message, faceURL(d.avatarBase, frame.UUID)))
		return nil
	case frame.Type.IsResponse():
		return d.handleResponse(ctx, connID, frame)
	default:
		publish(ctx, d.bus, domain.EventFrameIgnored, connID, nil)
		d.logger.Debug("ignoring unrecognized frame", "conn_id", connID, "type", frame.Type)
		return nil
	}
}

func (d *Dispatcher) handleChat(ctx context.Context, connID string, frame domain.InboundFrame) error {
	if d.mirror == nil || !d.mirror.Configured() {
		d.logger.Warn("webhook not configured, cannot mirror chat message", "conn_id", connID)
		return nil
	}
	if err := requireFields(frame, true, true, true); err != nil {
		return err
	}
	msg := domain.WebhookMessage{
		Username:  frame.Player,
		AvatarURL: faceURL(d.avatarBase, frame.UUID),
		Content:   frame.Message,
	}
	if err := d.mirror.Mirror(ctx, msg); err != nil {
		publish(ctx, d.bus, domain.EventNotificationFailed, connID, nil)
		return domain.WrapOp("Dispatcher.mirror", err)
	}
	publish(ctx, d.bus, domain.EventChatMirrored, connID, nil)
	return nil
}

func (d *Dispatcher) handleResponse(ctx context.Context, connID string, frame domain.InboundFrame) error {
	if frame.RequestID == "" {
		return fmt.Errorf("%w: %s without request_id", domain.ErrMalformedFrame, frame.Type)
	}
	if !d.table.Resolve(frame.RequestID, frame.Raw) {
		publish(ctx, d.bus, domain.EventResponseOrphaned, connID, nil)
		d.logger.Info("dropping late or unsolicited response", "conn_id", connID, "type", frame.Type, "request_id", frame.RequestID)
	}
	return nil
}

// notify posts n. Failures are logged; a one-way event is never retried.
func (d *Dispatcher) notify(ctx context.Context, connID string, n domain.Notification) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		publish(ctx, d.bus, domain.EventNotificationFailed, connID, nil)
		d.logger.Error("notification failed", "conn_id", connID, "code", domain.ErrorCodeOf(err), "error", err)
		return
	}
	publish(ctx, d.bus, domain.EventNotificationSent, connID, nil)
}

func requireFields(f domain.InboundFrame, player, uuid, message bool) error {
	switch {
	case player && f.Player == "":
		return fmt.Errorf("%w: %s without player", domain.ErrMalformedFrame, f.Type)
	case uuid && f.UUID == "":
		return fmt.Errorf("%w: %s without uuid", domain.ErrMalformedFrame, f.Type)
	case message && f.Message == "":
		return fmt.Errorf("%w: %s without message", domain.ErrMalformedFrame, f.Type)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
