package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Relay     RelayConfig     `yaml:"relay"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Audit     AuditConfig     `yaml:"audit"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// DiscordConfig holds bot and webhook settings.
type DiscordConfig struct {
	Token      string        `yaml:"token"`
	GuildID    string        `yaml:"guild_id"`
	ChannelID  string        `yaml:"channel_id"`
	WebhookURL string        `yaml:"webhook_url,omitempty"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the chat webhook.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// GatewayConfig holds the game socket server settings.
type GatewayConfig struct {
	Addr           string          `yaml:"addr"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	ReadLimit      int64           `yaml:"read_limit"`
	OriginPatterns []string        `yaml:"origin_patterns,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits HTTP requests per client IP. RequestsPerMin 0 disables it.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// RelayConfig holds request and chat forwarding settings.
type RelayConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ChatRatePerMin int           `yaml:"chat_rate_per_min"` // 0 = unlimited
	ChatBurst      int           `yaml:"chat_burst"`
	AvatarBase     string        `yaml:"avatar_base"`
}

// KeepAliveConfig holds the self-ping settings. An empty URL disables it.
type KeepAliveConfig struct {
	URL      string        `yaml:"url,omitempty"`
	Interval time.Duration `yaml:"interval"`
}

// AuditConfig holds the connection audit trail settings. An empty Path
// disables it.
type AuditConfig struct {
	Path              string        `yaml:"path,omitempty"`
	MaxAge            time.Duration `yaml:"max_age"`
	MaxSize           string        `yaml:"max_size,omitempty"` // e.g. "50MB"
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`           // noop, stdout or otlp
	Endpoint string `yaml:"endpoint,omitempty"` // OTLP/HTTP URL, otlp only
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Discord: DiscordConfig{
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Addr:         "0.0.0.0:8080",
			WriteTimeout: 5 * time.Second,
			ReadLimit:    1 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Relay: RelayConfig{
			RequestTimeout: 5 * time.Second,
			ChatBurst:      5,
			AvatarBase:     "https://api.mineatar.io/face/",
		},
		KeepAlive: KeepAliveConfig{
			Interval: 3 * time.Minute,
		},
		Audit: AuditConfig{
			MaxAge:            30 * 24 * time.Hour,
			RetentionInterval: time.Hour,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets
// and validates the result. A missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv("MCBRIDGE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps deployment env vars onto config fields.
// DISCORD_TOKEN, SERVER_ID, CHANNEL_ID, WEBHOOK_URL, INTERNAL_PORT and
// KOYEB_URL keep the names used by existing deployments.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("SERVER_ID"); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := os.Getenv("CHANNEL_ID"); v != "" {
		cfg.Discord.ChannelID = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Discord.WebhookURL = v
	}
	if v := os.Getenv("INTERNAL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("INTERNAL_PORT: invalid port %q", v)
		}
		cfg.Gateway.Addr = "0.0.0.0:" + strconv.Itoa(port)
	}
	if v := os.Getenv("KOYEB_URL"); v != "" {
		cfg.KeepAlive.URL = v
	}

	if v := os.Getenv("MCBRIDGE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("MCBRIDGE_GATEWAY_TRUSTED_PROXIES"); v != "" {
		cfg.Gateway.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MCBRIDGE_RELAY_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCBRIDGE_RELAY_REQUEST_TIMEOUT: %w", err)
		}
		cfg.Relay.RequestTimeout = d
	}
	if v := os.Getenv("MCBRIDGE_RELAY_CHAT_RATE_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCBRIDGE_RELAY_CHAT_RATE_PER_MIN: %w", err)
		}
		cfg.Relay.ChatRatePerMin = n
	}
	if v := os.Getenv("MCBRIDGE_KEEPALIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCBRIDGE_KEEPALIVE_INTERVAL: %w", err)
		}
		cfg.KeepAlive.Interval = d
	}
	if v := os.Getenv("MCBRIDGE_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("MCBRIDGE_AUDIT_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCBRIDGE_AUDIT_MAX_AGE: %w", err)
		}
		cfg.Audit.MaxAge = d
	}
	if v := os.Getenv("MCBRIDGE_AUDIT_MAX_SIZE"); v != "" {
		cfg.Audit.MaxSize = v
	}
	if v := os.Getenv("MCBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MCBRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MCBRIDGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MCBRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MCBRIDGE_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
	return nil
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values of the bot token and webhook URL.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{"discord token", &cfg.Discord.Token},
		{"discord webhook_url", &cfg.Discord.WebhookURL},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
