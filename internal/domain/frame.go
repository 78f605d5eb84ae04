package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType is the `type` discriminator carried by every frame exchanged
// with the game process.
type FrameType string

// Inbound one-way events.
const (
	FrameChat  FrameType = "chat"
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
	FrameDeath FrameType = "death"
)

// Outbound frames.
const (
	FrameDiscordChat FrameType = "discord_chat"
)

// RequestKind names a correlated query. The game process answers a request of
// kind "get_x" with a frame of type "x_response".
type RequestKind string

const (
	KindList RequestKind = "get_list"
	KindTPS  RequestKind = "get_tps"
)

// ResponseSuffix marks a correlated response frame type.
const ResponseSuffix = "_response"

// IsResponse reports whether t names a correlated response.
func (t FrameType) IsResponse() bool {
	return strings.HasSuffix(string(t), ResponseSuffix) && len(t) > len(ResponseSuffix)
}

// ResponseType returns the frame type the game process uses to answer k.
func (k RequestKind) ResponseType() FrameType {
	return FrameType(strings.TrimPrefix(string(k), "get_") + ResponseSuffix)
}

// InboundFrame is a decoded frame received from the game process. Raw keeps
// the raw bytes so correlated responses are delivered unmodified.
type InboundFrame struct {
	Type      FrameType `json:"type"`
	Player    string    `json:"player,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DecodeFrame parses raw text into an InboundFrame. Any decode failure,
// including a missing type, wraps ErrMalformedFrame.
func DecodeFrame(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return InboundFrame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	f.Raw = append(json.RawMessage(nil), data...)
	return f, nil
}

// Request is an outbound correlated query.
type Request struct {
	Type      RequestKind `json:"type"`
	RequestID string      `json:"request_id"`
}

// ChatRelay carries a Discord message to the game process.
type ChatRelay struct {
	Type    FrameType `json:"type"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
}

// NewChatRelay builds a discord_chat frame.
func NewChatRelay(author, message string) ChatRelay {
	return ChatRelay{Type: FrameDiscordChat, Author: author, Message: message}
}

// ListResponse answers KindList.
type ListResponse struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id"`
	Count     int       `json:"count"`
	Max       int       `json:"max"`
	Players   []string  `json:"players"`
}

// TPSResponse answers KindTPS. Dimensions maps a dimension id such as
// "minecraft:overworld" to its ticks per second.
type TPSResponse struct {
	Type       FrameType          `json:"type"`
	RequestID  string             `json:"request_id"`
	Dimensions map[string]float64 `json:"dimensions"`
}
