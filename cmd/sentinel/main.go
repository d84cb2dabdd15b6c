package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/config"
	"github.com/arc-sentinel/sentinel/internal/features"
	"github.com/arc-sentinel/sentinel/internal/forensics"
	"github.com/arc-sentinel/sentinel/internal/httpserver"
	"github.com/arc-sentinel/sentinel/internal/hub"
	"github.com/arc-sentinel/sentinel/internal/llm"
	"github.com/arc-sentinel/sentinel/internal/materializer"
	Lm "github.com/arc-sentinel/sentinel/internal/middleware"
	"github.com/arc-sentinel/sentinel/internal/response"
	"github.com/arc-sentinel/sentinel/internal/rules"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/internal/telemetry"
	"github.com/arc-sentinel/sentinel/internal/trainer"
	"github.com/arc-sentinel/sentinel/pkg/metrics"
)

func main() {
	// ------- Logging setup -------
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// ---- Load config (with env fallbacks) ----
	cfgPath := os.Getenv("SENTINEL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	// Redis client backs the Store Gateway and the Response Executor's
	// ledgers; the auth throttle keeps its state in process.
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Store.RedisAddr,
		DB:   cfg.Store.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet")
	} else {
		log.Info().Msg("redis reachable")
	}

	gw := store.New(rdb)

	// Anomaly Model: start with an empty holder, then try to load any
	// previously trained model blob so a restart doesn't lose scoring
	// ability until the next retrain through /api/ml/train.
	holder := &anomaly.Holder{}
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer loadCancel()
	if blob, trainedAt, err := gw.LoadModelBlob(loadCtx); err == nil && len(blob) > 0 {
		if m, err := anomaly.Unmarshal(blob); err == nil {
			holder.Store(m)
			log.Info().Time("trained_at", trainedAt).Msg("loaded persisted anomaly model")
		} else {
			log.Warn().Err(err).Msg("stored model blob failed to unmarshal; starting untrained")
		}
	}

	deriver := features.New(gw)
	engine := rules.NewEngine()

	var capturer forensics.Capturer
	if cfg.DemoMode {
		capturer = forensics.NewDemoCapturer()
	} else {
		capturer = forensics.NewLiveCapturer()
	}

	var llmClient llm.Client
	if cfg.LLM.Enabled && !cfg.DemoMode {
		llmClient = llm.NewHTTPClient(llm.HTTPClientConfig{
			Endpoint: cfg.LLM.Endpoint,
			APIKey:   cfg.LLM.APIKey,
		})
	} else {
		llmClient = llm.NewFallbackClient()
	}

	responder := response.NewExecutor(rdb, gw)
	h := hub.New(cfg.CORS.Origins)

	pipeline := materializer.New(gw, h, deriver, holder, engine, capturer, responder)

	// Telemetry Generator feeds the pipeline on its own interval; the
	// HTTP simulate-attack endpoint feeds it on demand through the same
	// EventSink surface.
	interval := time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second
	generator := telemetry.NewGenerator(pipeline, interval, cfg.Telemetry.SuspiciousRate)
	genCtx, genCancel := context.WithCancel(context.Background())
	defer genCancel()
	go generator.Start(genCtx)

	trainAdapter := trainer.New(gw, holder, cfg.Anomaly.NumTrees, cfg.Anomaly.Threshold, cfg.Anomaly.MinTrainSize)

	identity := Lm.NewLocalIdentityProvider(cfg.Auth.JWTSecret, time.Hour)
	throttle := Lm.NewAuthThrottle(cfg.Auth.MaxLoginAttempts, time.Duration(cfg.Auth.LoginWindowSecs)*time.Second)

	router, cleanup := httpserver.NewRouter(httpserver.RouterDeps{
		Cfg:      cfg,
		Store:    gw,
		Hub:      h,
		Model:    holder,
		LLM:      llmClient,
		Chains:   telemetry.NewChainInjector(),
		Pipeline: pipeline,
		Trainer:  trainAdapter,
		Identity: identity,
		Throttle: throttle,
		Response: responder,
	})

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("config", cfgPath).
		Str("log_level", zerolog.GlobalLevel().String()).
		Bool("demo_mode", cfg.DemoMode).
		Msg("sentinel starting")

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	httpserver.SetDraining(true)
	genCancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown did not complete in time; forcing close")
		_ = srv.Close()
	} else {
		log.Info().Msg("http server shut down cleanly")
	}

	if cleanup != nil {
		cleanup()
	}

	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	} else {
		log.Info().Msg("redis closed")
	}

	log.Info().Msg("sentinel exited")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
