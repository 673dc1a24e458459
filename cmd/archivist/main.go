package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/archivist/internal/api"
	"github.com/MikeSquared-Agency/archivist/internal/backup"
	"github.com/MikeSquared-Agency/archivist/internal/chatapi"
	"github.com/MikeSquared-Agency/archivist/internal/config"
	"github.com/MikeSquared-Agency/archivist/internal/export"
	"github.com/MikeSquared-Agency/archivist/internal/hermes"
	"github.com/MikeSquared-Agency/archivist/internal/slack"
	"github.com/MikeSquared-Agency/archivist/internal/store"
	"github.com/MikeSquared-Agency/archivist/internal/token"
)

const usage = `usage: archivist <command> [flags]

commands:
  full    back up every conversation (-start, -stop)
  single  back up one conversation (-url)
  serve   run the HTTP/NATS trigger service`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "full":
		err = runFull(ctx, cfg, os.Args[2:])
	case "single":
		err = runSingle(ctx, cfg, os.Args[2:])
	case "serve":
		err = serve(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("archivist failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runFull(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("full", flag.ExitOnError)
	start := fs.Int("start", cfg.StartOffset, "offset of the first conversation page")
	stopAt := fs.Int("stop", cfg.StopOffset, "offset to stop paging at (-1 for none)")
	_ = fs.Parse(args)

	a, err := build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runner.Full(ctx, backup.FullRequest{StartOffset: *start, StopOffset: backup.StopAt(*stopAt)})
	if err != nil {
		return err
	}
	fmt.Printf("Download complete: %d conversations -> %s\n", len(res.Records), res.Location)
	return nil
}

func runSingle(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	url := fs.String("url", "", "URL of the conversation page (falls back to the most recent)")
	_ = fs.Parse(args)

	a, err := build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runner.Single(ctx, *url)
	if err != nil {
		return err
	}
	fmt.Printf("Download complete: %q -> %s\n", res.Records[0].Title, res.Location)
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	slog.Info("archivist starting", "port", cfg.Port)

	status := api.NewStatusTracker()
	a, err := build(ctx, cfg, status)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher := api.NewDispatcher(ctx, a.runner, cfg.StartOffset, cfg.StopOffset, slog.Default())

	if a.hermes != nil {
		if err := a.hermes.Subscribe(hermes.SubjectBackupRequest, dispatcher.HandleBackupRequest); err != nil {
			return fmt.Errorf("subscribe backup requests: %w", err)
		}
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, dispatcher, status)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("archivist ready", "port", cfg.Port)
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	dispatcher.Wait()
	slog.Info("archivist stopped")
	return nil
}

type app struct {
	runner *backup.Runner
	db     *store.Store
	hermes *hermes.Client
}

func (a *app) close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func build(ctx context.Context, cfg config.Config, extra backup.Reporter) (*app, error) {
	a := &app{}
	logger := slog.Default()

	if cfg.TokenStore == "postgres" || cfg.ExportTarget == "postgres" {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for postgres storage")
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		slog.Info("database connected")
	}

	client := chatapi.NewClient(chatapi.Config{
		BaseURL:          cfg.ChatBaseURL,
		SessionURL:       cfg.ChatSessionURL,
		SessionCookie:    cfg.ChatSessionCookie,
		Timeout:          cfg.HTTPTimeout,
		MaxAttempts:      cfg.FetchMaxAttempts,
		RateLimitBackoff: cfg.RateLimitBackoff,
	}, logger)

	var kv token.KV
	switch cfg.TokenStore {
	case "postgres":
		kv = a.db.KV()
	case "memory":
		kv = token.NewMemoryKV()
	default:
		kv = token.NewFileKV(cfg.TokenFile)
	}
	tokens := token.NewStore(kv, client, logger)

	var sink export.Sink = export.NewDirSink(cfg.OutputDir)
	if cfg.ExportTarget == "postgres" {
		sink = a.db.BlobSink()
	}
	exporter := export.New(sink, logger)

	reporters := backup.Reporters{extra}
	if cfg.NatsURL != "" {
		h, err := hermes.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.hermes = h
		reporters = append(reporters, backup.NewEventPublisher(h, logger))
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		reporters = append(reporters, backup.NewNotifier(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger), logger))
		slog.Info("slack notifications enabled", "channel", cfg.SlackChannel)
	}

	a.runner = backup.NewRunner(backup.Config{
		PacingDelay: cfg.PacingDelay,
		MimeType:    export.MimeJSON,
	}, tokens, client, exporter, reporters, logger)
	return a, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
