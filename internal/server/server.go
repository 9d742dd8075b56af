package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/amarchal/fundscan/config"
	"github.com/amarchal/fundscan/internal/extract"
	"github.com/amarchal/fundscan/internal/prompt"
	"github.com/amarchal/fundscan/internal/runtime"
	"github.com/amarchal/fundscan/internal/search"
	"github.com/amarchal/fundscan/internal/store"
	"github.com/amarchal/fundscan/internal/telemetry"
	"github.com/amarchal/fundscan/internal/wordpress"
)

// Run wires every dependency and serves the API until the listener
// stops.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	llmLogger := log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	client := extract.NewClient(cfg.LLM, llmLogger, metrics)

	resolver := &prompt.Resolver{Store: st, DefaultPath: cfg.Batch.PromptFile}
	if _, err := resolver.Default(); err != nil {
		return fmt.Errorf("default prompt: %w", err)
	}

	idx, err := search.New()
	if err != nil {
		return err
	}
	if n, err := idx.Rebuild(ctx, st); err != nil {
		return err
	} else if n > 0 {
		baseLogger.Printf("search index rebuilt with %d extractions", n)
	}

	pipeline := &Pipeline{
		Store:   st,
		Extract: client,
		Prompts: resolver,
		Search:  idx,
		Metrics: metrics,
		Logger:  baseLogger,
	}

	var rdb *redis.Client
	var cache wordpress.Cache
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		cache = wordpress.NewRedisCache(rdb, cfg.WordPress.CacheTTL)
	}

	wp := &WordPressHandler{Pipeline: pipeline, Config: cfg.WordPress, Cache: cache}

	api := e.Group("/api")
	(&AuthHandler{Store: st, Secret: secret}).Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		id, _ := runtime.UserID(c)
		return c.JSON(http.StatusOK, map[string]int64{"user_id": id})
	})
	(&PromptHandler{Store: st, Prompts: resolver}).Register(api.Group("/me/prompt"), secret)
	(&ExtractionsHandler{Pipeline: pipeline}).Register(api.Group("/extractions"), secret)
	wp.Register(api.Group("/wordpress"), secret)
	(&WatchesHandler{Store: st}).Register(api.Group("/watches"), secret)

	sched := &Scheduler{Store: st, WordPress: wp, Rdb: rdb, Stop: make(chan struct{})}
	sched.Start()

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
