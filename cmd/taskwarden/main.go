// Command taskwarden runs the task-assistant chat service.
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
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/taskwarden/taskwarden/internal/agent"
	"github.com/taskwarden/taskwarden/internal/api"
	"github.com/taskwarden/taskwarden/internal/audit"
	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/buildinfo"
	"github.com/taskwarden/taskwarden/internal/config"
	"github.com/taskwarden/taskwarden/internal/convstore"
	"github.com/taskwarden/taskwarden/internal/llm"
	"github.com/taskwarden/taskwarden/internal/taskstore"
	"github.com/taskwarden/taskwarden/internal/tools"
)

const usage = `taskwarden - conversational task assistant

Usage:
  taskwarden serve [-config path]   start the HTTP service
  taskwarden init [-o path]         write a starter config file
  taskwarden version                print version information
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("a command is required")
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, stderr, args[1:])
	case "init":
		return runInit(stdout, args[1:])
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runServe(ctx context.Context, stderr io.Writer, args []string) error {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			i++
			if i >= len(args) {
				return errors.New("-config requires a path")
			}
			configPath = args[i]
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}

	cfg := config.Default()
	if path, err := config.FindConfig(configPath); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	} else if configPath != "" {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	db, err := convstore.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	conversations, err := convstore.New(db)
	if err != nil {
		return err
	}
	tasks, err := taskstore.New(db)
	if err != nil {
		return err
	}
	auditLog, err := audit.New(db)
	if err != nil {
		return err
	}
	users, err := auth.New(db)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger.With("component", "tools"))
	if err := tools.RegisterTaskTools(registry, tasks); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	provider := llm.NewOpenAIClient(cfg.Provider, logger.With("component", "llm"))
	loop := agent.New(provider, registry, auditLog, cfg.Provider.Model, cfg.Agent.MaxRounds, logger.With("component", "agent"))

	server := api.NewServer(api.Options{
		Logger:        logger.With("component", "api"),
		Conversations: conversations,
		Tasks:         tasks,
		AuditLog:      auditLog,
		Users:         users,
		Loop:          loop,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		TokenTTL:      cfg.Auth.TokenTTL(),
	})

	addr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "model", cfg.Provider.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

const starterConfig = `# taskwarden configuration
listen:
  address: ""
  port: 8080

database:
  path: taskwarden.db

provider:
  base_url: https://api.openai.com
  api_key: ${OPENAI_API_KEY}
  model: gpt-4o-mini
  temperature: 0.2
  max_tokens: 1024
  timeout_sec: 60
  max_retries: 2

agent:
  max_rounds: 5
  history_limit: 50

auth:
  token_ttl_hours: 720

log_level: info
`

func runInit(stdout io.Writer, args []string) error {
	out := "taskwarden.yaml"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			i++
			if i >= len(args) {
				return errors.New("-o requires a path")
			}
			out = args[i]
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}

	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists", out)
	}
	if err := os.WriteFile(out, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", out)
	return nil
}
