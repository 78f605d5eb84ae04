package domain

import "context"

// GameConn is the handle of the single active game-process connection.
// Holders treat it as borrowed for the duration of a call.
type GameConn interface {
	// ID identifies the connection for logging and request bookkeeping.
	ID() string
	// WriteFrame serializes v as JSON and writes it as one text message.
	WriteFrame(ctx context.Context, v any) error
	// Close terminates the connection.
	Close(reason string) error
}

// ConnSource exposes the currently active connection, if any.
type ConnSource interface {
	Get() (GameConn, bool)
}

// SendFrame writes v over conn. A nil conn fails with ErrUnavailable and a
// failed write with ErrSendFailure. Sends are never retried.
func SendFrame(ctx context.Context, op string, conn GameConn, v any) error {
	if conn == nil {
		return NewDomainError(op, ErrUnavailable, "")
	}
	if err := conn.WriteFrame(ctx, v); err != nil {
		return NewDomainError(op, ErrSendFailure, err.Error())
	}
	return nil
}
