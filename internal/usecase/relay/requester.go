package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"mcbridge/internal/domain"
	"mcbridge/internal/infra/tracer"
)

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// WithRequestTimeout sets the timeout used by the typed helpers.
func WithRequestTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRequesterEventBus publishes request lifecycle events on bus.
func WithRequesterEventBus(bus domain.EventBus) RequesterOption {
	return func(r *Requester) { r.bus = bus }
}

// Requester sends correlated requests to the game process and waits for the
// matching response.
type Requester struct {
	conns   domain.ConnSource
	table   *PendingTable
	bus     domain.EventBus // can be nil
	logger  *slog.Logger
	timeout time.Duration
	newID   func() string
}

// NewRequester creates a Requester that sends over the connection held by
// conns and awaits responses resolved into table.
func NewRequester(conns domain.ConnSource, table *PendingTable, logger *slog.Logger, opts ...RequesterOption) *Requester {
	r := &Requester{
		conns:   conns,
		table:   table,
		logger:  logger,
		timeout: DefaultRequestTimeout,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Timeout returns the default timeout used by ListPlayers and TPS.
func (r *Requester) Timeout() time.Duration { return r.timeout }

// Request sends {kind, request_id} and returns the raw response frame.
//
// It fails with ErrUnavailable when no connection is active or the send
// fails, and with ErrTimedOut when no response arrives within timeout. The
// pending entry is removed on every path.
func (r *Requester) Request(ctx context.Context, kind domain.RequestKind, timeout time.Duration) (json.RawMessage, error) {
	const op = "Requester.Request"

	ctx, span := tracer.StartSpan(ctx, "relay.request",
		trace.WithAttributes(tracer.StringAttr("request.kind", string(kind))))
	defer span.End()

	conn, ok := r.conns.Get()
	if !ok {
		err := domain.NewDomainError(op, domain.ErrUnavailable, string(kind))
		tracer.RecordError(span, err)
		return nil, err
	}

	requestID := r.newID()
	span.SetAttributes(tracer.StringAttr("request.id", requestID))
	info := domain.RequestInfo{Kind: kind, RequestID: requestID}

	waiter, err := r.table.Register(requestID, conn.ID())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer r.table.Remove(requestID)

	if err := domain.SendFrame(ctx, op, conn, domain.Request{Type: kind, RequestID: requestID}); err != nil {
		r.logger.Warn("request send failed", "kind", kind, "request_id", requestID, "conn_id", conn.ID(), "error", err)
		publish(ctx, r.bus, domain.EventRequestFailed, conn.ID(), info)
		tracer.RecordError(span, err)
		return nil, err
	}
	publish(ctx, r.bus, domain.EventRequestSent, conn.ID(), info)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter.Done():
		payload, err := waiter.Result()
		if err != nil {
			publish(ctx, r.bus, domain.EventRequestFailed, conn.ID(), info)
			err = domain.NewDomainError(op, err, string(kind))
			tracer.RecordError(span, err)
			return nil, err
		}
		publish(ctx, r.bus, domain.EventRequestCompleted, conn.ID(), info)
		tracer.SetOK(span)
		return payload, nil
	case <-timer.C:
		r.logger.Warn("request timed out", "kind", kind, "request_id", requestID, "timeout", timeout)
		publish(ctx, r.bus, domain.EventRequestTimedOut, conn.ID(), info)
		err := domain.NewDomainError(op, domain.ErrTimedOut, fmt.Sprintf("%s after %s", kind, timeout))
		tracer.RecordError(span, err)
		return nil, err
	case <-ctx.Done():
		tracer.RecordError(span, ctx.Err())
		return nil, domain.WrapOp(op, ctx.Err())
	}
}

// ListPlayers queries the online player list.
func (r *Requester) ListPlayers(ctx context.Context) (*domain.ListResponse, error) {
	raw, err := r.Request(ctx, domain.KindList, r.timeout)
	if err != nil {
		return nil, err
	}
	var resp domain.ListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewDomainError("Requester.ListPlayers", domain.ErrMalformedFrame, err.Error())
	}
	return &resp, nil
}

// TPS queries per-dimension ticks per second.
func (r *Requester) TPS(ctx context.Context) (*domain.TPSResponse, error) {
	raw, err := r.Request(ctx, domain.KindTPS, r.timeout)
	if err != nil {
		return nil, err
	}
	var resp domain.TPSResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewDomainError("Requester.TPS", domain.ErrMalformedFrame, err.Error())
	}
	return &resp, nil
}
