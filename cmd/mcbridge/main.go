package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"mcbridge/internal/adapter/channel"
	"mcbridge/internal/adapter/gateway"
	"mcbridge/internal/infra/config"
	"mcbridge/internal/infra/logger"
	"mcbridge/internal/infra/middleware"
	"mcbridge/internal/infra/tracer"
	"mcbridge/internal/security"
	"mcbridge/internal/usecase/eventbus"
	"mcbridge/internal/usecase/keepalive"
	"mcbridge/internal/usecase/relay"
	"mcbridge/internal/usecase/scheduling"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println("mcbridge", version)
			return
		}
	}

	if err := config.LoadDotEnv(dotEnvPath()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'mcbridge --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`mcbridge - Discord bridge for a Minecraft server mod

USAGE:
    mcbridge [COMMAND] [FLAGS]

COMMANDS:
    doctor      Validate configuration and check connectivity
    version     Print the version

    (no command) - Run the bridge until interrupted

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --env PATH         .env file path (default: ./.env)

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: DISCORD_TOKEN, SERVER_ID, CHANNEL_ID, WEBHOOK_URL,
                 INTERNAL_PORT, KOYEB_URL and MCBRIDGE_* override the file
    Secrets:     values prefixed "enc:" are decrypted with MCBRIDGE_CONFIG_KEY

ENDPOINTS:
    /health, /healthz   Liveness ("OK")
    /api/v1/status      Connection and counter snapshot (JSON)
    /metrics            Prometheus text format
    any other path      WebSocket endpoint for the game mod`)
}

func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}

// configPath resolves --config, then MCBRIDGE_CONFIG, then ./config.yaml.
func configPath() string {
	if p := flagValue("--config"); p != "" {
		return p
	}
	if p := os.Getenv("MCBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func dotEnvPath() string {
	if p := flagValue("--env"); p != "" {
		return p
	}
	return ".env"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Relay core and adapters
	app, err := buildApp(ctx, cfg, bus, log)
	if err != nil {
		return err
	}

	log.Info("mcbridge starting",
		"version", version,
		"addr", cfg.Gateway.Addr,
		"webhook", app.mirror.Configured(),
		"keepalive", cfg.KeepAlive.URL != "",
		"audit", cfg.Audit.Path != "",
	)
	err = app.run(ctx, log)
	// Drain audit handlers before the audit file closes.
	bus.Close()
	return errors.Join(err, app.close())
}

// app holds the wired components of one bridge process.
type app struct {
	server    *gateway.Server
	discord   *channel.DiscordChannel
	mirror    *channel.WebhookMirror
	scheduler *scheduling.Scheduler // nil when no task is scheduled
	audit     *security.FileAuditLogger
}

func (a *app) ensureScheduler(log *slog.Logger) *scheduling.Scheduler {
	if a.scheduler == nil {
		a.scheduler = scheduling.NewScheduler(log.With("component", "scheduler"))
	}
	return a.scheduler
}

// close releases resources that outlive run.
func (a *app) close() error {
	if a.audit == nil {
		return nil
	}
	return a.audit.Close()
}

// buildApp wires the relay core to its adapters. ctx bounds background
// helpers such as the rate limiter's cleanup loop.
func buildApp(ctx context.Context, cfg *config.Config, bus *eventbus.Bus, log *slog.Logger) (*app, error) {
	registry := gateway.NewRegistry()
	table := relay.NewPendingTable()

	requester := relay.NewRequester(registry, table, log.With("component", "requester"),
		relay.WithRequestTimeout(cfg.Relay.RequestTimeout),
		relay.WithRequesterEventBus(bus),
	)
	forwarder := relay.NewForwarder(registry, log.With("component", "forwarder"),
		relay.WithChatRateLimit(cfg.Relay.ChatRatePerMin, cfg.Relay.ChatBurst),
		relay.WithForwarderEventBus(bus),
	)

	discord, err := channel.NewDiscordChannel(cfg.Discord.Token, cfg.Discord.GuildID, cfg.Discord.ChannelID,
		log.With("component", "discord"),
		channel.WithDiscordQuerier(requester),
		channel.WithDiscordForwarder(forwarder),
		channel.WithDiscordConnSource(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}

	mirror, err := channel.NewWebhookMirror(cfg.Discord.WebhookURL, discord.Session(), channel.BreakerConfig{
		MaxFailures: cfg.Discord.Breaker.MaxFailures,
		Timeout:     cfg.Discord.Breaker.Timeout,
		Interval:    cfg.Discord.Breaker.Interval,
	}, log.With("component", "webhook"))
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}

	dispatcher := relay.NewDispatcher(table, discord, log.With("component", "dispatcher"),
		relay.WithChatMirror(mirror),
		relay.WithAvatarBase(cfg.Relay.AvatarBase),
		relay.WithDispatcherEventBus(bus),
	)

	server := gateway.NewServer(registry, dispatcher, cfg.Gateway.Addr, log.With("component", "gateway"),
		gateway.WithEventBus(bus),
		gateway.WithWriteTimeout(cfg.Gateway.WriteTimeout),
		gateway.WithReadLimit(cfg.Gateway.ReadLimit),
		gateway.WithOriginPatterns(cfg.Gateway.OriginPatterns),
		gateway.WithHTTPMiddleware(middleware.SecurityHeaders),
		gateway.WithHTTPMiddleware(middleware.RateLimit(ctx, cfg.Gateway.RateLimit)),
	)
	gateway.RegisterRESTHandlers(server, gateway.StatusDeps{
		Bus:      bus,
		Registry: registry,
		Pending:  table.Len,
		Version:  version,
	})

	a := &app{server: server, discord: discord, mirror: mirror}

	if cfg.KeepAlive.URL != "" {
		pinger := keepalive.NewPinger(cfg.KeepAlive.URL, nil, log.With("component", "keepalive"))
		if err := pinger.Schedule(a.ensureScheduler(log), cfg.KeepAlive.Interval); err != nil {
			return nil, fmt.Errorf("keepalive: %w", err)
		}
	}
	if cfg.Audit.Path != "" {
		if err := a.setupAudit(cfg.Audit, bus, log); err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}
	return a, nil
}

func (a *app) setupAudit(cfg config.AuditConfig, bus *eventbus.Bus, log *slog.Logger) error {
	maxSize, err := security.ParseRetentionMaxSize(cfg.MaxSize)
	if err != nil {
		return err
	}
	policy := security.RetentionPolicy{MaxAge: cfg.MaxAge, MaxSize: maxSize}
	audit, err := security.NewFileAuditLogger(cfg.Path, policy)
	if err != nil {
		return err
	}
	a.audit = audit
	auditLog := log.With("component", "audit")
	security.SubscribeAudit(bus, audit, auditLog)

	if policy.MaxAge > 0 || policy.MaxSize > 0 {
		return audit.ScheduleRetention(a.ensureScheduler(log), cfg.RetentionInterval, auditLog)
	}
	return nil
}

// run starts every component and blocks until ctx is done or the socket
// server fails, then shuts everything down.
func (a *app) run(ctx context.Context, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.server.Start(ctx); err != nil {
			serverErr <- err
			cancel()
		}
	}()

	if err := a.discord.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("discord: %w", err)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			log.Error("scheduler start failed", "error", err)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	errs = append(errs, a.server.Stop(shutdownCtx))
	errs = append(errs, a.discord.Stop(shutdownCtx))
	wg.Wait()

	select {
	case err := <-serverErr:
		errs = append(errs, err)
	default:
	}
	return errors.Join(errs...)
}
