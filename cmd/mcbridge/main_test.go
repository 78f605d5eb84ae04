package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mcbridge/internal/domain"
	"mcbridge/internal/usecase/eventbus"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"mcbridge"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestConfigPath(t *testing.T) {
	t.Setenv("MCBRIDGE_CONFIG", "")

	withArgs(t)
	if got := configPath(); got != "config.yaml" {
		t.Errorf("default = %q", got)
	}

	t.Setenv("MCBRIDGE_CONFIG", "/etc/mcbridge.yaml")
	if got := configPath(); got != "/etc/mcbridge.yaml" {
		t.Errorf("env = %q", got)
	}

	withArgs(t, "--config", "a.yaml")
	if got := configPath(); got != "a.yaml" {
		t.Errorf("flag = %q", got)
	}

	withArgs(t, "doctor", "--config=b.yaml")
	if got := configPath(); got != "b.yaml" {
		t.Errorf("flag= = %q", got)
	}
}

func TestDotEnvPath(t *testing.T) {
	withArgs(t)
	if got := dotEnvPath(); got != ".env" {
		t.Errorf("default = %q", got)
	}
	withArgs(t, "--env", "prod.env")
	if got := dotEnvPath(); got != "prod.env" {
		t.Errorf("flag = %q", got)
	}
}

func TestBuildApp(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(log)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	a, err := buildApp(ctx, cfg, bus, log)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if a.mirror.Configured() {
		t.Error("mirror configured without a webhook URL")
	}
	if a.scheduler != nil {
		t.Error("scheduler created without a keep-alive URL")
	}

	cfg.Discord.WebhookURL = "https://discord.com/api/webhooks/1/tok"
	cfg.KeepAlive.URL = "https://bridge.example.com"
	a, err = buildApp(ctx, cfg, bus, log)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if !a.mirror.Configured() {
		t.Error("mirror not configured")
	}
	if a.scheduler == nil {
		t.Fatal("scheduler missing")
	}
	if tasks := a.scheduler.Tasks(); len(tasks) != 1 || tasks[0] != "keepalive" {
		t.Errorf("tasks = %v", tasks)
	}
	if a.audit != nil {
		t.Error("audit enabled without a path")
	}
}

func TestBuildAppAudit(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Audit.MaxSize = "1MB"
	a, err := buildApp(ctx, cfg, bus, log)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if a.audit == nil || a.scheduler == nil {
		t.Fatal("audit or scheduler missing")
	}
	if tasks := a.scheduler.Tasks(); len(tasks) != 1 || tasks[0] != "audit-retention" {
		t.Errorf("tasks = %v", tasks)
	}

	bus.Publish(ctx, domain.NewEvent(domain.EventGameConnected, "c1"))
	bus.Close()
	if err := a.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.Audit.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"game_connect"`) {
		t.Errorf("audit log = %s", data)
	}
}

func TestBuildAppRejectsBadAuditSize(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(log)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Audit.MaxSize = "lots"
	if _, err := buildApp(ctx, cfg, bus, log); err == nil {
		t.Error("expected max_size error")
	}
}

func TestBuildAppRejectsBadWebhook(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(log)
	defer bus.Close()

	cfg := testConfig()
	cfg.Discord.WebhookURL = "https://example.com/hook"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := buildApp(ctx, cfg, bus, log); err == nil {
		t.Error("expected webhook error")
	}
}
