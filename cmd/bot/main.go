package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/replyforge/mentionbot/internal/answer"
	"github.com/replyforge/mentionbot/internal/cache"
	"github.com/replyforge/mentionbot/internal/config"
	"github.com/replyforge/mentionbot/internal/filter"
	"github.com/replyforge/mentionbot/internal/notifications"
	"github.com/replyforge/mentionbot/internal/platform"
	"github.com/replyforge/mentionbot/internal/resolver"
	"github.com/replyforge/mentionbot/internal/scheduler"
	"github.com/replyforge/mentionbot/internal/scorer"
	"github.com/replyforge/mentionbot/internal/store"
	"github.com/replyforge/mentionbot/internal/supervisor"
)

type flags struct {
	dryRun             bool
	forceReply         bool
	earlyExit          bool
	resolveAllMentions bool
	resetAccount       bool
	maxBatchSize       int
	sinceID            string
	answerEngine       string
	debugIDs           []string
}

func main() {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "mentionbot",
		Short: "Reply bot that answers mentions of its platform account",
		Long: `mentionbot watches the mention timeline of a platform account, filters
and prioritizes new mentions, generates answers and publishes them as
replies. Progress is tracked with a durable watermark so no mention is
lost or answered twice across restarts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "generate answers but do not publish or persist")
	cmd.Flags().BoolVar(&f.forceReply, "force-reply", false, "answer mentions that already have a terminal record")
	cmd.Flags().BoolVar(&f.earlyExit, "early-exit", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&f.resolveAllMentions, "resolve-all-mentions", false, "ignore the watermark and page through the full timeline")
	cmd.Flags().BoolVar(&f.resetAccount, "reset-account", false, "clear all interaction state for the account and exit")
	cmd.Flags().IntVar(&f.maxBatchSize, "max-batch-size", 0, "override the per-cycle batch size")
	cmd.Flags().StringVar(&f.sinceID, "since-id", "", "override the watermark lower bound")
	cmd.Flags().StringVar(&f.answerEngine, "answer-engine", "", "answer engine to use (gemini or echo)")
	cmd.Flags().StringSliceVar(&f.debugIDs, "debug-ids", nil, "resolve these message ids instead of the timeline")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("Failed: %v", err)
	}
}

func run(ctx context.Context, f *flags) error {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting mention bot")

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	client := platform.NewRESTClient(platform.Options{
		BaseURL:      cfg.PlatformBaseURL,
		BearerToken:  cfg.PlatformBearerToken,
		APIPlan:      cfg.PlatformAPIPlan,
		RefreshURL:   cfg.PlatformRefreshURL,
		RefreshToken: cfg.PlatformRefreshToken,
		ClientID:     cfg.PlatformClientID,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := client.FindMyIdentity(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	logrus.Infof("Running as @%s (%s)", bot.Username, bot.ID)

	mc, err := cache.New(st, cache.Options{
		Upstream:             client,
		DisableMentionsCache: cfg.NoMentionsCache,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	if f.resetAccount {
		if err := mc.ResetAccount(ctx, bot.ID); err != nil {
			return fmt.Errorf("failed to reset account state: %w", err)
		}
		logrus.Infof("Cleared all interaction state for %s", bot.ID)
		return nil
	}

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}

	threader := answer.NewThreader(mc, bot.ID, cfg.ThreadMaxMessages)
	res := resolver.New(mc, client, threader, engine, resolver.Options{
		BotUserID:   bot.ID,
		MaxReplyLen: cfg.MaxReplyLength,
		Concurrency: cfg.ResolverConcurrency,
		DryRun:      cfg.DryRun,
	})

	sup := supervisor.New(cfg,
		mc, client,
		filter.New(cfg, mc, *bot),
		scorer.New(cfg, mc, *bot),
		res, bot.ID)

	var notifier notifications.NotificationInterface = notifications.NoopService{}
	if cfg.SMTPHost != "" && cfg.OperatorEmail != "" {
		notifier = notifications.NewService(cfg)
	}

	schedulerService := scheduler.NewService(cfg, notifier, sup.Metrics(), bot.Username)
	if err := schedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer schedulerService.Stop()

	server := newHTTPServer(cfg, sup)
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}
	}()

	loop := supervisor.NewLoop(cfg, sup, client, notifier)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logrus.Info("Shutting down")
	return nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.dryRun {
		cfg.DryRun = true
	}
	if f.forceReply {
		cfg.ForceReply = true
	}
	if f.earlyExit {
		cfg.EarlyExit = true
	}
	if f.resolveAllMentions {
		cfg.ResolveAllMentions = true
	}
	if f.maxBatchSize > 0 {
		cfg.MaxBatchSize = f.maxBatchSize
	}
	if f.sinceID != "" {
		cfg.SinceIDOverride = f.sinceID
	}
	if f.answerEngine != "" {
		cfg.AnswerEngine = f.answerEngine
	}
	if len(f.debugIDs) > 0 {
		cfg.DebugMessageIDs = f.debugIDs
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "azure":
		return store.NewAzureStore(cfg.StorageAccount, cfg.StorageContainer)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config) (answer.Engine, error) {
	switch cfg.AnswerEngine {
	case "echo":
		return answer.EchoEngine{}, nil
	default:
		engine, err := answer.NewGeminiEngine(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize answer engine: %w", err)
		}
		return engine, nil
	}
}

func newHTTPServer(cfg *config.Config, sup *supervisor.Supervisor) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(sup)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(sup)).Methods("POST")

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func metricsHandler(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := sup.Metrics().Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logrus.Errorf("Encoding metrics failed: %v", err)
		}
	}
}

func triggerHandler(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if _, err := sup.RunCycle(context.Background()); err != nil {
				logrus.Errorf("Manual cycle trigger failed: %v", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Cycle triggered"}`))
	}
}
