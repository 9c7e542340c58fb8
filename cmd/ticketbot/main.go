// Command ticketbot runs the Telegram helpdesk bot: it long-polls for
// updates, drives the ticket creation wizard, and serves the executor
// workflow buttons.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storedesk/ticketbot/core/config"
	"github.com/storedesk/ticketbot/core/database"
	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/core/telegram/sender"
	"github.com/storedesk/ticketbot/internal/dispatch"
	"github.com/storedesk/ticketbot/internal/events"
	"github.com/storedesk/ticketbot/internal/middleware"
	"github.com/storedesk/ticketbot/internal/notify"
	"github.com/storedesk/ticketbot/internal/poller"
	"github.com/storedesk/ticketbot/internal/router"
	"github.com/storedesk/ticketbot/internal/storage"
	"github.com/storedesk/ticketbot/internal/tickets"
	"github.com/storedesk/ticketbot/internal/wizard"
	"github.com/storedesk/ticketbot/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pollTimeout := time.Duration(cfg.Telegram.PollTimeoutSeconds) * time.Second
	bot, err := telegram.NewBot(cfg.Telegram.Token, pollTimeout)
	if err != nil {
		return fmt.Errorf("init bot: %w", err)
	}
	logger.L.Info("bot authorized", "username", bot.BotUsername())

	out := sender.NewDispatcher(sender.Options{
		QueueSize:      cfg.Sender.QueueSize,
		WorkersPerLane: cfg.Sender.WorkersPerLane,
	})
	defer out.Close()

	sessionTTL := time.Duration(cfg.Wizard.SessionTTLMinutes) * time.Minute
	sessions := storage.NewSessions(db, sessionTTL)
	users := storage.NewUsers(db)
	dicts := storage.NewDictionaries(db)
	ticketStore := storage.NewTickets(db)

	bus := events.NewDispatcher()
	ticketSvc := tickets.NewService(ticketStore, bot, bus, cfg.Wizard.AttachmentsDir)
	notify.New(bot, out, users, dicts, ticketStore).Register(bus)

	wiz := wizard.NewEngine(bot, sessions, users, dicts, ticketSvc, cfg.Wizard.MaxAttachments)
	wf := workflow.NewService(bot, ticketStore, users, dicts, bus)

	guard, err := middleware.NewGuard(middleware.Config{
		UserLimit:     cfg.Limits.UserPerMinute,
		UserWindow:    time.Minute,
		CommandLimit:  cfg.Limits.CommandAttempts,
		CommandWindow: time.Duration(cfg.Limits.CommandWindowSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init guard: %w", err)
	}

	r := router.New(bot.BotUsername())
	r.Use(
		middleware.BanCheck(guard),
		middleware.RateLimit(guard, bot),
		middleware.CommandLimit(guard, bot),
		middleware.AntiSpam(guard, bot),
	)
	registerCommands(r, bot, wiz)

	d := dispatch.New(bot,
		dispatch.NewCommandHandler(r, bot),
		dispatch.NewCallbackHandler(bot, wiz, wf),
		dispatch.NewMediaHandler(wiz, guard),
		dispatch.NewTextHandler(bot, wiz, guard),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := poller.New(bot, d, cfg.Telegram.PollLimit, cfg.Telegram.PollTimeoutSeconds)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("poll: %w", err)
	}
	logger.L.Info("shutdown complete")
	return nil
}

func registerCommands(r *router.Router, bot telegram.Client, wiz *wizard.Engine) {
	r.Handle("start", "создать новую заявку", func(ctx context.Context, req *router.Request) error {
		return wiz.Start(ctx, req.UserID, req.ChatID)
	})
	r.Handle("cancel", "отменить создание заявки", func(ctx context.Context, req *router.Request) error {
		return wiz.Cancel(ctx, req.UserID, req.ChatID)
	})
	r.Handle("skip", "пропустить шаг с файлами", func(ctx context.Context, req *router.Request) error {
		return wiz.Skip(ctx, req.UserID, req.ChatID)
	})
	r.Handle("help", "справка по командам", func(ctx context.Context, req *router.Request) error {
		var b strings.Builder
		b.WriteString("ℹ️ <b>Доступные команды:</b>\n\n")
		for _, c := range r.Commands() {
			fmt.Fprintf(&b, "/%s %s\n", c.Name, c.Description)
		}
		_, err := bot.SendMessage(ctx, req.ChatID, b.String(), nil)
		return err
	})
}
