package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"motionboard/internal/dashboard"
	"motionboard/internal/devices"
	"motionboard/internal/tokens"
	"motionboard/pkg/config"
	"motionboard/pkg/db"
	"motionboard/pkg/logger"
	"motionboard/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "dashboard")
	defer func() { _ = log.Sync() }()

	// The token chain cannot run without its credentials.
	if err := cfg.Credentials.Validate(); err != nil {
		log.Fatalw("invalid dashboard credentials", "err", err)
	}
	if err := cfg.Embed.Validate(); err != nil {
		log.Warnw("dashboard embed config incomplete", "err", err)
	}

	middleware.InitTracing("dashboard", log)

	pool := db.MustConnect(cfg, log)
	var reg devices.Provider
	if pool != nil {
		reg = devices.NewPostgresProvider(pool, log)
		if err := devices.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("ensure devices schema", "err", err)
		}
	} else {
		reg = devices.NewMemoryProvider(log)
	}

	api := &dashboard.Server{
		Tokens:       tokens.NewExchanger(cfg.Credentials, nil, log),
		Embed:        cfg.Embed,
		Devices:      reg,
		Log:          log,
		MountTimeout: 30 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing("dashboard", log))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	api.Routes(r)

	srv := &http.Server{Addr: cfg.DashboardAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("dashboard listening", "addr", cfg.DashboardAddr, "dashboard_id", cfg.Embed.DashboardID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	middleware.ShutdownTracing(ctx)
	if pool != nil {
		pool.Close()
	}
	fmt.Println("dashboard stopped")
}
