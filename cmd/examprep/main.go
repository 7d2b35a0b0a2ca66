package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examprep/internal/cache"
	"github.com/pavelanni/examprep/internal/clock"
	"github.com/pavelanni/examprep/internal/grading"
	"github.com/pavelanni/examprep/internal/handler"
	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/llm"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/session"
	"github.com/pavelanni/examprep/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examprep",
		Short: "Timed practice exams generated from study resources",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examprep --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam session API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examprep.db", "SQLite database path")
	f.StringSliceP("resources", "r", nil, "Resource bundle JSON files to import on startup (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 90*time.Second, "Timeout for one exam generation call")
	f.StringP("lang", "l", "en", "Default API message language (en, ru)")
	f.StringP("difficulty", "d", string(model.DifficultyMedium), "Default exam difficulty (easy, medium, hard)")
	f.Int("duration", 30, "Default exam duration in minutes")
	f.Duration("session-ttl", 2*time.Hour, "Drop sessions in setup or results after this long without a request (0 keeps them until deleted)")
	f.String("redis-addr", "", "Redis address for the notes cache (empty disables it)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("notes-ttl", 10*time.Minute, "Notes cache TTL")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import study resources and their notes from JSON bundles",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "examprep.db", "SQLite database path")
	f.StringSliceP("resources", "r", nil, "Resource bundle JSON files (repeatable)")
	f.String("redis-addr", "", "Redis address; cached notes of imported resources are dropped")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("resources")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examprep")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examprep")
	v.AddConfigPath("/etc/examprep")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// redisFromConfig returns nil when no address is configured.
func redisFromConfig(ctx context.Context, v *viper.Viper) (*redis.Client, error) {
	addr := v.GetString("redis-addr")
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: v.GetString("redis-password"),
		DB:       v.GetInt("redis-db"),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults := model.ExamConfig{
		Difficulty:      model.Difficulty(strings.ToLower(v.GetString("difficulty"))),
		DurationMinutes: v.GetInt("duration"),
	}
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("default exam settings: %w", err)
	}

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rdb, err := redisFromConfig(ctx, v)
	if err != nil {
		return err
	}
	var resources session.ResourceStore = db
	var invalidator notesInvalidator
	if rdb != nil {
		defer rdb.Close()
		nc := cache.NewNotesCache(rdb, db, v.GetDuration("notes-ttl"))
		resources = nc
		invalidator = nc
		slog.Info("notes cache enabled", "redis_addr", v.GetString("redis-addr"))
	}

	if paths := v.GetStringSlice("resources"); len(paths) > 0 {
		if err := importFiles(ctx, db, invalidator, paths); err != nil {
			return fmt.Errorf("import resources: %w", err)
		}
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetDuration("llm-timeout"),
	)
	if err := llmClient.Ping(ctx); err != nil {
		slog.Warn("LLM endpoint unreachable, exams will be built from study notes", "url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	registry := session.NewRegistry(session.Deps{
		Generator: llmClient,
		Store:     resources,
		Grader:    grading.Local{},
		Clock:     clock.System{},
	}, defaults)
	defer registry.CloseAll()
	if ttl := v.GetDuration("session-ttl"); ttl > 0 {
		go registry.SweepEvery(ctx, time.Minute, ttl)
	}

	h := handler.New(db, registry)
	h.AddHealthCheck("sqlite", db.Ping)
	if rdb != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"difficulty", defaults.Difficulty,
		"duration_minutes", defaults.DurationMinutes,
		"session_ttl", v.GetDuration("session-ttl"),
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var invalidator notesInvalidator
	rdb, err := redisFromConfig(ctx, v)
	if err != nil {
		slog.Warn("notes cache unavailable, cached entries expire on their own", "error", err)
	} else if rdb != nil {
		defer rdb.Close()
		invalidator = cache.NewNotesCache(rdb, db, 0)
	}

	return importFiles(ctx, db, invalidator, v.GetStringSlice("resources"))
}
