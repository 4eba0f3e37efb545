package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"finsight/internal/agents"
	"finsight/internal/assistant"
	"finsight/internal/brain"
	"finsight/internal/common/config"
	"finsight/internal/common/database"
	"finsight/internal/common/logger"
	"finsight/internal/common/observability"
	"finsight/internal/guardrails"
	"finsight/internal/history"
	"finsight/internal/intent"
	"finsight/internal/llm"
	"finsight/internal/reasoning"
)

const (
	connectAttempts   = 5
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := logger.NewZapAdapter(zapLogger)

	log.Info("starting finsight", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	pg, err := connectPostgres(cfg, log)
	if err != nil {
		log.Error("could not connect to postgres", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer pg.Close()

	redisClient := connectRedis(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}
	var rdb *redis.Client
	if redisClient != nil {
		rdb = redisClient.Client
	}

	ruleStore := guardrails.NewStore(pg.DB)
	ruleCache := guardrails.NewCache(ruleStore, log)
	engine := guardrails.NewEngine(ruleCache, cfg.Guardrails.Enabled, log)

	llmClient := llm.NewClient(cfg.Generation, log)

	ruleBased := intent.NewRuleBased()
	var extractor intent.Extractor = ruleBased
	if llmClient.Enabled() {
		assisted, err := intent.NewAssisted(llmClient, ruleBased, log)
		if err != nil {
			log.Error("assisted extraction unavailable", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		extractor = assisted
		log.Info("assisted intent extraction enabled", nil)
	} else {
		log.Info("no generation credential, using rule-based extraction", nil)
	}

	registry := agents.NewRegistry(pg.DB, log)
	coordinator := brain.NewCoordinator(extractor, registry, rdb, cfg.Brain, log)
	synthesizer := reasoning.NewSynthesizer(log)
	historyStore := history.NewStore(pg.DB, rdb, log)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	service := assistant.NewService(engine, coordinator, synthesizer, llmClient, historyStore, obs, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           newRouter(service, ruleStore, ruleCache, historyStore, pg, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info("http server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func connectPostgres(cfg *config.Config, log logger.Logger) (*database.PostgresClient, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = pg.Ping(ctx)
			cancel()
			if err == nil {
				log.Info("connected to postgres", map[string]interface{}{
					"host":     cfg.Database.Postgres.Host,
					"database": cfg.Database.Postgres.Database,
				})
				return pg, nil
			}
			pg.Close()
		}
		lastErr = err
		log.Warn("postgres connection failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
	return nil, lastErr
}

// connectRedis is best effort. Without redis the dispatch cache and recent
// history list are disabled but everything else works.
func connectRedis(cfg *config.Config, log logger.Logger) *database.RedisClient {
	if cfg.Database.Redis.Address == "" {
		return nil
	}
	client, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		log.Warn("redis unavailable, continuing without cache", map[string]interface{}{"error": err.Error()})
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		log.Warn("redis unavailable, continuing without cache", map[string]interface{}{"error": err.Error()})
		client.Close()
		return nil
	}
	log.Info("connected to redis", map[string]interface{}{"address": cfg.Database.Redis.Address})
	return client
}
