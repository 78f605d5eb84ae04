package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDiscord(cfg, ve)
	validateGateway(cfg, ve)
	validateRelay(cfg, ve)
	validateKeepAlive(cfg, ve)
	validateAudit(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// isSnowflake reports whether s is a Discord numeric id.
func isSnowflake(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func validateDiscord(cfg *Config, ve *ValidationError) {
	d := cfg.Discord
	if d.Token == "" {
		ve.Add("discord.token is required (set via DISCORD_TOKEN)")
	}
	if !isSnowflake(d.GuildID) {
		ve.Add("discord.guild_id %q must be a numeric id (set via SERVER_ID)", d.GuildID)
	}
	if !isSnowflake(d.ChannelID) {
		ve.Add("discord.channel_id %q must be a numeric id (set via CHANNEL_ID)", d.ChannelID)
	}
	if d.WebhookURL != "" {
		u, err := url.Parse(d.WebhookURL)
		if err != nil || u.Scheme != "https" || !strings.Contains(u.Path, "/webhooks/") {
			ve.Add("discord.webhook_url is not a Discord webhook URL")
		}
	}
	if d.Breaker.MaxFailures == 0 {
		ve.Add("discord.breaker.max_failures must be > 0")
	}
	if d.Breaker.Timeout <= 0 {
		ve.Add("discord.breaker.timeout must be > 0")
	}
	if d.Breaker.Interval < 0 {
		ve.Add("discord.breaker.interval must be >= 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr == "" {
		ve.Add("gateway.addr is required")
	} else if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", g.Addr)
	}
	if g.WriteTimeout <= 0 {
		ve.Add("gateway.write_timeout must be > 0")
	}
	if g.ReadLimit <= 0 {
		ve.Add("gateway.read_limit must be > 0")
	}
	if g.RateLimit.RequestsPerMin < 0 {
		ve.Add("gateway.rate_limit.requests_per_min must be >= 0")
	}
	if g.RateLimit.RequestsPerMin > 0 && g.RateLimit.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	for i, p := range g.RateLimit.TrustedProxies {
		if net.ParseIP(p) == nil {
			ve.Add("gateway.rate_limit.trusted_proxies[%d] %q is not an IP address", i, p)
		}
	}
}

func validateRelay(cfg *Config, ve *ValidationError) {
	r := cfg.Relay
	if r.RequestTimeout <= 0 {
		ve.Add("relay.request_timeout must be > 0")
	}
	if r.ChatRatePerMin < 0 {
		ve.Add("relay.chat_rate_per_min must be >= 0")
	}
	if r.ChatRatePerMin > 0 && r.ChatBurst <= 0 {
		ve.Add("relay.chat_burst must be > 0 when chat_rate_per_min is set")
	}
	if r.AvatarBase == "" {
		ve.Add("relay.avatar_base is required")
	}
}

func validateKeepAlive(cfg *Config, ve *ValidationError) {
	k := cfg.KeepAlive
	if k.URL == "" {
		return
	}
	u, err := url.Parse(k.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("keepalive.url %q must be an absolute http(s) URL (set via KOYEB_URL)", k.URL)
	}
	if k.Interval <= 0 {
		ve.Add("keepalive.interval must be > 0")
	}
}

// validateAudit leaves max_size to the audit logger, which owns the size syntax.
func validateAudit(cfg *Config, ve *ValidationError) {
	a := cfg.Audit
	if a.Path == "" {
		return
	}
	if a.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if (a.MaxAge > 0 || a.MaxSize != "") && a.RetentionInterval <= 0 {
		ve.Add("audit.retention_interval must be > 0 when a retention limit is set")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if lvl := strings.ToLower(cfg.Logger.Level); lvl != "" && !validLogLevels[lvl] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "otlp":
		u, err := url.Parse(cfg.Tracer.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("tracer.endpoint %q must be an absolute http(s) URL for the otlp exporter", cfg.Tracer.Endpoint)
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, otlp)", cfg.Tracer.Exporter)
	}
}
