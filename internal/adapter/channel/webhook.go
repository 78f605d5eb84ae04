package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sony/gobreaker/v2"

	"mcbridge/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the webhook circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// webhookExecutor is implemented by *discordgo.Session.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WebhookMirror posts in-game chat through a channel webhook so each line
// shows the player's name and face. Calls go through a circuit breaker.
type WebhookMirror struct {
	id      string
	token   string
	exec    webhookExecutor
	breaker *gobreaker.CircuitBreaker[*discordgo.Message]
	logger  *slog.Logger
}

// ParseWebhookURL extracts the id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("parse webhook url: no /webhooks/<id>/<token> in %q", u.Path)
}

// NewWebhookMirror creates a mirror for rawURL. An empty rawURL yields an
// unconfigured mirror.
func NewWebhookMirror(rawURL string, exec webhookExecutor, cfg BreakerConfig, logger *slog.Logger) (*WebhookMirror, error) {
	m := &WebhookMirror{exec: exec, logger: logger}
	if rawURL == "" {
		return m, nil
	}
	id, token, err := ParseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	m.id, m.token = id, token

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	m.breaker = gobreaker.NewCircuitBreaker[*discordgo.Message](gobreaker.Settings{
		Name:        "webhook:" + id,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return m, nil
}

// Configured reports whether a webhook URL was supplied.
func (m *WebhookMirror) Configured() bool { return m.id != "" }

// Mirror executes the webhook with msg.
func (m *WebhookMirror) Mirror(ctx context.Context, msg domain.WebhookMessage) error {
	if !m.Configured() {
		return domain.ErrWebhookUnconfigured
	}
	params := &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
		// Game chat must not ping roles or everyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	_, err := m.breaker.Execute(func() (*discordgo.Message, error) {
		return m.exec.WebhookExecute(m.id, m.token, false, params, discordgo.WithContext(ctx))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("webhook circuit open: %w", err)
		}
		return fmt.Errorf("webhook execute: %w", err)
	}
	return nil
}

// State returns the current circuit breaker state for monitoring.
func (m *WebhookMirror) State() gobreaker.State {
	if m.breaker == nil {
		return gobreaker.StateClosed
	}
	return m.breaker.State()
}

var _ domain.ChatMirror = (*WebhookMirror)(nil)
