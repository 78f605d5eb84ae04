package relay

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"mcbridge/internal/domain"
)

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithChatRateLimit caps forwarded chat messages to perMin per minute with
// the given burst. perMin <= 0 disables the limit.
func WithChatRateLimit(perMin, burst int) ForwarderOption {
	return func(f *Forwarder) {
		if perMin <= 0 {
			f.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perMin)/60.0, burst)
	}
}

// WithForwarderEventBus publishes forward/drop events on bus.
func WithForwarderEventBus(bus domain.EventBus) ForwarderOption {
	return func(f *Forwarder) { f.bus = bus }
}

// Forwarder relays chat-platform messages to the game process. Delivery is
// at most once: with no active connection the message is dropped.
type Forwarder struct {
	conns   domain.ConnSource
	limiter *rate.Limiter   // nil = unlimited
	bus     domain.EventBus // can be nil
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(conns domain.ConnSource, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{conns: conns, logger: logger}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ForwardChat sends {type: discord_chat, author, message} when a connection
// is active. A dropped message is not an error; a failed write is.
func (f *Forwarder) ForwardChat(ctx context.Context, author, text string) error {
	conn, ok := f.conns.Get()
	if !ok {
		f.logger.Debug("no game connection, dropping chat message", "author", author)
		publish(ctx, f.bus, domain.EventChatDropped, "", nil)
		return nil
	}
	if f.limiter != nil && !f.limiter.Allow() {
		f.logger.Warn("chat rate limit exceeded, dropping message", "author", author, "conn_id", conn.ID())
		publish(ctx, f.bus, domain.EventChatDropped, conn.ID(), nil)
		return nil
	}
	if err := domain.SendFrame(ctx, "Forwarder.ForwardChat", conn, domain.NewChatRelay(author, text)); err != nil {
		return err
	}
	publish(ctx, f.bus, domain.EventChatForwarded, conn.ID(), nil)
	return nil
}
