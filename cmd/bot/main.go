package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	progressmate "github.com/set-night/progressmate"
	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/discord"
	"github.com/set-night/progressmate/internal/handler"
	"github.com/set-night/progressmate/internal/middleware"
	"github.com/set-night/progressmate/internal/repository"
	"github.com/set-night/progressmate/internal/service"
	"github.com/set-night/progressmate/internal/telegram"
)

func main() {
	registerCommands := flag.Bool("register-commands", false, "register Discord slash commands and exit")
	dryRun := flag.Bool("dry-run", false, "print the slash command payload instead of registering it")
	flag.Parse()

	if *dryRun {
		if err := printCommands(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *registerCommands {
		if err := register(ctx, cfg); err != nil {
			slog.Error("failed to register commands", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("bot stopped gracefully")
}

// printCommands needs no configuration so it can run before deployment.
func printCommands() error {
	app := os.Getenv("DISCORD_APPLICATION_ID")
	if app == "" {
		app = "(unset)"
	}
	fmt.Fprintf(os.Stderr, "dry run: %d command(s) for application %s at %s\n",
		len(discord.SlashCommands()), app, discord.CommandsPath(app, os.Getenv("DISCORD_GUILD_ID")))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(discord.SlashCommands())
}

func register(ctx context.Context, cfg *config.Config) error {
	if cfg.DiscordApplicationID == "" {
		return errors.New("DISCORD_APPLICATION_ID is required to register commands")
	}
	client := discord.NewClient(cfg.DiscordToken, cfg.DiscordAPIBase)
	n, err := client.RegisterCommands(ctx, cfg.DiscordApplicationID, cfg.DiscordGuildID, discord.SlashCommands())
	if err != nil {
		return err
	}
	slog.Info("slash commands registered",
		"count", n,
		"path", discord.CommandsPath(cfg.DiscordApplicationID, cfg.DiscordGuildID),
	)
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	migrationsFS, err := fs.Sub(progressmate.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	store, err := repository.Open(ctx, cfg, migrationsFS)
	if err != nil {
		return err
	}
	defer store.Close()

	var gen service.TextGenerator
	if cfg.OpenRouterKey != "" {
		openRouter, err := service.NewOpenRouterService(cfg.OpenRouterKey, cfg.OpenRouterBaseURL, cfg.AIModel)
		if err != nil {
			return err
		}
		gen = openRouter
	} else {
		slog.Warn("OPENROUTER_API_KEY not set, using fallback messages")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	var (
		delivery service.Delivery
		tgBot    *bot.Bot
		mention  func(string) string
	)
	switch cfg.Platform {
	case config.PlatformTelegram:
		tgBot, err = bot.New(cfg.BotToken, bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
		))
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		delivery = telegram.NewDelivery(tgBot)
	default:
		delivery = discord.NewClient(cfg.DiscordToken, cfg.DiscordAPIBase)
		mention = discord.ThreadMention
	}

	ops := opsLogger(cfg, tgBot)

	sessions := service.NewSessionService(store, delivery, gen, metrics)
	scheduler := service.NewPromptScheduler(store, delivery, gen, metrics)
	tasks := service.NewTaskRunner(config.BackgroundTaskTimeout)

	deps := handler.Deps{
		Sessions:      sessions,
		Store:         store,
		Tasks:         tasks,
		ThreadMention: mention,
	}
	if ops.Enabled() {
		deps.Reporter = ops
		scheduler.SetReporter(ops)
	}
	h := handler.New(deps)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	schedulerDone := goDone(func() { scheduler.Run(runCtx, cfg.SchedulerCron) })

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if cfg.Platform == config.PlatformDiscord {
		r.Method(http.MethodPost, "/interactions", discord.NewInteractionsHandler(cfg.DiscordPublicKey, h))
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	slog.Info("http server listening", "addr", cfg.HTTPAddr, "platform", cfg.Platform)
	serveErr := listenAndServe(srv, cancelRun)

	var runErr error
	if tgBot != nil {
		runErr = startTelegram(runCtx, cfg, tgBot, h)
	} else {
		<-runCtx.Done()
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := <-serveErr; err != nil {
		runErr = errors.Join(runErr, err)
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		slog.Warn("scheduler still running at shutdown")
	}
	if err := tasks.Wait(shutdownCtx); err != nil {
		slog.Warn("background tasks still running at shutdown", "error", err)
	}
	return runErr
}

// goDone runs fn in a goroutine; the returned channel closes when fn returns.
func goDone(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// listenAndServe starts srv and calls onFail if it stops for any reason
// other than Shutdown. The channel yields that error, then closes once
// the server has returned.
func listenAndServe(srv *http.Server, onFail func()) <-chan error {
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
			onFail()
		}
	}()
	return serveErr
}

// startTelegram registers the command handlers and long-polls until ctx is done.
func startTelegram(ctx context.Context, cfg *config.Config, b *bot.Bot, h *handler.Handler) error {
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	if cfg.BotDropPendingUpdates {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			slog.Warn("failed to drop pending updates", "error", err)
		}
	}

	telegram.NewCommands(h, me.Username).Register(b)

	slog.Info("starting bot", "username", me.Username, "id", me.ID)
	b.Start(ctx)
	return nil
}

// opsLogger reuses the platform bot when there is one, otherwise opens a
// send-only bot when an ops chat is configured.
func opsLogger(cfg *config.Config, b *bot.Bot) *telegram.OpsLogger {
	if cfg.LogTelegramChatID == 0 || cfg.LogTopicError == 0 {
		return nil
	}
	if b == nil {
		if cfg.BotToken == "" {
			slog.Warn("LOG_TELEGRAM_CHAT_ID set without BOT_TOKEN, ops logging disabled")
			return nil
		}
		var err error
		b, err = bot.New(cfg.BotToken, bot.WithSkipGetMe())
		if err != nil {
			slog.Warn("failed to create ops logging bot", "error", err)
			return nil
		}
	}
	return telegram.NewOpsLogger(b, cfg.LogTelegramChatID, cfg.LogTopicError)
}
