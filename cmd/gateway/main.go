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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"motionboard/internal/devices"
	"motionboard/internal/ingest"
	"motionboard/pkg/config"
	"motionboard/pkg/db"
	"motionboard/pkg/logger"
	"motionboard/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "gateway")
	defer func() { _ = log.Sync() }()

	middleware.InitTracing("gateway", log)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var reg devices.Provider
	if pool != nil {
		reg = devices.NewPostgresProvider(pool, log)
		if err := devices.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("ensure devices schema", "err", err)
		}
	} else {
		reg = devices.NewMemoryProvider(log)
	}

	sink, err := ingest.NewSink(context.Background(), cfg, pool, rdb, log)
	if err != nil {
		// Keep serving; ingest health reports the problem and writes fail with it.
		log.Errorw("ingest sink unavailable", "sink", cfg.IngestSink, "err", err)
		sink = ingest.Unavailable(cfg.IngestSink, err)
	}
	adm, err := ingest.LoadAdmission(context.Background(), cfg.IngestPolicyFile)
	if err != nil {
		log.Fatalw("load admission policy", "path", cfg.IngestPolicyFile, "err", err)
	}

	srvAPI := &ingest.Server{
		Devices:   reg,
		Sink:      sink,
		Admission: adm,
		Metrics:   ingest.NewMetrics(prometheus.DefaultRegisterer),
		Log:       log,
		Table:     cfg.IngestTable,
		Version:   cfg.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing("gateway", log))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.BearerAuth(cfg, log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	srvAPI.Routes(r)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("gateway listening", "addr", cfg.GatewayAddr, "sink", sink.Name(), "table", cfg.IngestTable)
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
	if rdb != nil {
		_ = rdb.Close()
	}
	fmt.Println("gateway stopped")
}
