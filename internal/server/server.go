package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/maitre-labs/raison/config"
	"github.com/maitre-labs/raison/internal/audit"
	"github.com/maitre-labs/raison/internal/events"
	"github.com/maitre-labs/raison/internal/inference/openai"
	"github.com/maitre-labs/raison/internal/reasoning"
	"github.com/maitre-labs/raison/internal/store"
	"github.com/maitre-labs/raison/internal/telemetry"
	"github.com/maitre-labs/raison/internal/watchdog"
)

// Run wires the service and serves HTTP until the process exits.
func Run(addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := appconfig.LoadConfig("", true); err != nil {
		return err
	}
	cfg := appconfig.AppConfig

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	_ = Migrate("file://migrations", dsn, "up", 0)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret := cfg.General.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}

	if cfg.Inference.APIKey == "" {
		return fmt.Errorf("inference api key not configured (inference.api_key)")
	}
	provider := openai.New(cfg.Inference.APIKey, cfg.Inference.Model, cfg.Inference.Temperature, cfg.Inference.MaxTokens, cfg.Inference.Timeout)

	var sink reasoning.Sink = reasoning.NopSink{}
	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Databases.Redis.Addr(), Password: cfg.Databases.Redis.Password, DB: cfg.Databases.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
		}
		sink = events.NewPublisher(rdb, nil)
	}

	execLogger := log.New(log.Writer(), "[EXEC] ", log.LstdFlags)
	exec := reasoning.NewExecutor(st, provider, sink, execLogger)
	if cfg.Inference.Timeout > 0 {
		exec.Timeout = cfg.Inference.Timeout
	}
	if cfg.Telemetry.Enabled {
		exec.Metrics = telemetry.New(nil)
	}

	index, err := audit.NewTraceIndex()
	if err != nil {
		return err
	}

	api := e.Group("/api")
	ah := &AuthHandler{Store: st, Secret: []byte(secret)}
	ah.Register(api.Group("/auth"))

	wh := &WorkspacesHandler{Store: st, Exec: exec, Index: index}
	wh.Register(api.Group("/workspaces"), []byte(secret))

	audh := &AuditHandler{Store: st, Index: index}
	audh.Register(api.Group("/audit"), []byte(secret))

	if cfg.Escalation.Enabled {
		wd := watchdog.New(st, sink, rdb, nil)
		wd.Bands = bandsFromConfig(cfg.Escalation)
		wd.Schedule = cfg.Escalation.ScanSchedule
		if cfg.Escalation.ScanInterval > 0 {
			wd.Interval = cfg.Escalation.ScanInterval
		}
		if cfg.Telemetry.Enabled {
			wd.Metrics = exec.Metrics
		}
		wd.Start()
	}

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10030"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// RunWatchdog runs the escalation watchdog as a standalone process, for
// deployments that keep the scan loop off the API replicas. It blocks until
// SIGINT or SIGTERM.
func RunWatchdog() error {
	if err := appconfig.LoadConfig("", true); err != nil {
		return err
	}
	cfg := appconfig.AppConfig

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var sink reasoning.Sink = reasoning.NopSink{}
	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Databases.Redis.Addr(), Password: cfg.Databases.Redis.Password, DB: cfg.Databases.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
		}
		sink = events.NewPublisher(rdb, nil)
	}

	wd := watchdog.New(st, sink, rdb, nil)
	wd.Bands = bandsFromConfig(cfg.Escalation)
	wd.Schedule = cfg.Escalation.ScanSchedule
	if cfg.Escalation.ScanInterval > 0 {
		wd.Interval = cfg.Escalation.ScanInterval
	}
	if cfg.Telemetry.Enabled {
		wd.Metrics = telemetry.New(nil)
	}
	wd.Start()
	log.Printf("watchdog scanning every %s", wd.Interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	close(wd.Stop)
	return nil
}

func bandsFromConfig(ec appconfig.EscalationConfig) watchdog.Bands {
	b := watchdog.DefaultBands()
	if ec.Elevated > 0 {
		b.Elevated = ec.Elevated
	}
	if ec.Urgent > 0 {
		b.Urgent = ec.Urgent
	}
	if ec.Critical > 0 {
		b.Critical = ec.Critical
	}
	if len(ec.PerState) > 0 {
		b.PerState = make(map[reasoning.State]time.Duration, len(ec.PerState))
		for k, v := range ec.PerState {
			b.PerState[reasoning.State(k)] = v
		}
	}
	return b
}
