package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"mcbridge/internal/adapter/channel"
	"mcbridge/internal/infra/config"
	"mcbridge/internal/usecase/keepalive"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const discordGatewayURL = "https://discord.com/api/v10/gateway"

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config", Fn: checkConfig(cfgPath, cfgErr)},
		{Name: "Chat webhook", Fn: checkWebhook},
		{Name: "Gateway address", Fn: checkGatewayAddr},
		{Name: "Discord API", Fn: checkDiscordAPI(http.DefaultClient, discordGatewayURL)},
		{Name: "Keep-alive", Fn: checkKeepAlive(nil)},
	}
	_, fail := report(os.Stdout, checks, cfg)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// report runs checks against cfg, prints one line per result and returns
// the warning and failure counts.
func report(w io.Writer, checks []Check, cfg *config.Config) (warn, fail int) {
	fmt.Fprintln(w, "mcbridge doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	return warn, fail
}

func checkConfig(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		var ve *config.ValidationError
		switch {
		case errors.As(cfgErr, &ve):
			return CheckResult{
				Status:  StatusFail,
				Message: strings.Join(ve.Errors, "; "),
				Fix:     "Set DISCORD_TOKEN, SERVER_ID and CHANNEL_ID or edit " + cfgPath,
			}
		case cfgErr != nil:
			return CheckResult{Status: StatusFail, Message: cfgErr.Error()}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{Status: StatusPass, Message: "no config file, using defaults and environment"}
		}
		return CheckResult{Status: StatusPass, Message: "loaded from " + cfgPath}
	}
}

func checkWebhook(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Discord.WebhookURL == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "not configured, in-game chat will not be mirrored",
			Fix:     "Set WEBHOOK_URL to a channel webhook URL",
		}
	}
	id, _, err := channel.ParseWebhookURL(cfg.Discord.WebhookURL)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: "webhook " + id}
}

func checkGatewayAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process using the port or set INTERNAL_PORT",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: cfg.Gateway.Addr + " available"}
}

func checkDiscordAPI(client *http.Client, url string) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: err.Error()}
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("cannot reach Discord: %v", err),
				Fix:     "Check outbound network access to discord.com",
			}
		}
		resp.Body.Close()
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("reachable (latency: %dms)", time.Since(start).Milliseconds()),
		}
	}
}

func checkKeepAlive(client *http.Client) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded
		}
		if cfg.KeepAlive.URL == "" {
			return CheckResult{Status: StatusPass, Message: "disabled"}
		}
		p := keepalive.NewPinger(cfg.KeepAlive.URL, client, discardLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: err.Error(),
				Fix:     "The public URL is only reachable once the bridge is deployed; ignore this before the first deploy",
			}
		}
		return CheckResult{Status: StatusPass, Message: p.URL() + " every " + cfg.KeepAlive.Interval.String()}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
