package domain

import "context"

// Color is an RGB embed color.
type Color int

// Palette used for notifications.
const (
	ColorGreen   Color = 0x2ecc71
	ColorRed     Color = 0xe74c3c
	ColorDarkRed Color = 0x992d22
	ColorBlue    Color = 0x3498db
	ColorPurple  Color = 0x9b59b6
)

// NotificationField is a name/value pair rendered inside a notification.
type NotificationField struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a rendered event destined for the chat channel.
type Notification struct {
	Title       string
	Description string
	Color       Color
	AuthorName  string
	AuthorIcon  string
	Fields      []NotificationField
}

// Notifier posts notifications to the fixed bridge channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookMessage is a chat line mirrored through a channel webhook so that it
// appears under the player's name and avatar.
type WebhookMessage struct {
	Username  string
	AvatarURL string
	Content   string
}

// ChatMirror posts webhook-style chat messages.
type ChatMirror interface {
	// Configured reports whether a webhook target is set. When false, Mirror
	// must not be called.
	Configured() bool
	Mirror(ctx context.Context, msg WebhookMessage) error
}
