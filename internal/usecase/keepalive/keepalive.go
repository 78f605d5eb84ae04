// Package keepalive periodically requests the bridge's public health URL so
// that scale-to-zero hosting does not put the process to sleep.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mcbridge/internal/usecase/scheduling"
)

// DefaultInterval matches the hosting platform's idle window with margin.
const DefaultInterval = 3 * time.Minute

// Pinger requests <baseURL>/health.
type Pinger struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewPinger creates a Pinger for baseURL. client may be nil.
func NewPinger(baseURL string, client *http.Client, logger *slog.Logger) *Pinger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pinger{
		url:    strings.TrimSuffix(baseURL, "/") + "/health",
		client: client,
		logger: logger,
	}
}

// URL returns the address being pinged.
func (p *Pinger) URL() string { return p.url }

// Ping performs one request. A non-200 status is an error.
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("self-ping: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("self-ping failed", "url", p.url, "error", err)
		return fmt.Errorf("self-ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("self-ping returned unexpected status", "url", p.url, "status", resp.StatusCode)
		return fmt.Errorf("self-ping: status %d", resp.StatusCode)
	}
	p.logger.Info("pinged self to stay awake", "url", p.url)
	return nil
}

// Schedule registers the self_ping action on s, running every interval.
func (p *Pinger) Schedule(s *scheduling.Scheduler, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.RegisterAction(scheduling.ActionSelfPing, p.Ping)
	return s.AddTask(scheduling.ScheduledTask{
		Name:     "keepalive",
		Schedule: interval.String(),
		Action:   scheduling.ActionSelfPing,
		Timeout:  p.client.Timeout,
	})
}
