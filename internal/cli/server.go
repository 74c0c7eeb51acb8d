package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-tutor-service/internal/app"
	"quiz-tutor-service/internal/config"
	"quiz-tutor-service/internal/infra/memory"
	"quiz-tutor-service/internal/infra/postgres"
	rediscache "quiz-tutor-service/internal/infra/redis"
	"quiz-tutor-service/internal/provider"
	transport "quiz-tutor-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}

	content, closeContent, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeContent()

	cacheTTL := config.TTLDuration(cfg.Cache.TTL, time.Hour)
	var cached app.ContentProvider
	var store app.SessionRepository
	var redisStore *rediscache.SessionStore
	if redisClient != nil {
		cached = rediscache.NewCachingProvider(redisClient, content, cacheTTL)
		redisStore = rediscache.NewSessionStore(redisClient, sessionTTL)
		store = redisStore
	} else {
		cached = memory.NewCachingProvider(content, cacheTTL)
		store = memory.NewSessionStore()
	}

	retry := app.RetryPolicy{
		MaxRetries:      cfg.Quiz.FetchRetries,
		InitialInterval: config.TTLDuration(cfg.Quiz.RetryBackoff, 500*time.Millisecond),
		MaxInterval:     5 * time.Second,
	}
	requestTimeout := config.TTLDuration(cfg.Provider.Timeout, 30*time.Second)
	service := app.NewQuizService(store, cached, retry, app.WithRequestTimeout(requestTimeout))
	wsHandler := transport.NewWSHandler(service)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go service.RunReaper(reaperCtx, sessionTTL, reapInterval(sessionTTL))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(redisStore))
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz service on :%s (provider=%s)", finalPort, cfg.Provider.Kind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func reapInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// healthHandler reports ok, plus the cross-instance session count when Redis is configured.
func healthHandler(store *rediscache.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			w.Write([]byte("ok"))
			return
		}
		n, err := store.ActiveCount(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("redis: %v", err), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok active_sessions=%d", n)
	}
}

// buildProvider selects the content source named by provider.kind.
func buildProvider(ctx context.Context, cfg config.Config) (app.ContentProvider, func(), error) {
	switch cfg.Provider.Kind {
	case config.ProviderStatic:
		return memory.NewStaticProvider(memory.SampleBank()), func() {}, nil
	case config.ProviderLLM:
		if cfg.Provider.BaseURL == "" {
			return nil, nil, fmt.Errorf("provider.base_url is required for the llm provider")
		}
		timeout := config.TTLDuration(cfg.Provider.Timeout, 30*time.Second)
		return provider.NewLLM(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Model, timeout), func() {}, nil
	case config.ProviderBank:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewQuestionBank(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}
