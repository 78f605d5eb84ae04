// Package relay implements the bridge core: the pending-request table, the
// request/response gateway, the inbound frame dispatcher and the outbound
// chat forwarder.
//
// A single game-process connection is assumed. Inbound frames of that
// connection are processed sequentially by its read loop, while requests and
// chat forwards run concurrently from chat-platform handlers.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"mcbridge/internal/domain"
)

// DefaultRequestTimeout bounds how long a command waits for its response.
const DefaultRequestTimeout = 5 * time.Second

// publish is a nil-safe bus publish.
func publish(ctx context.Context, bus domain.EventBus, t domain.EventType, connID string, payload any) {
	if bus == nil {
		return
	}
	ev := domain.NewEvent(t, connID)
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	bus.Publish(ctx, ev)
}
