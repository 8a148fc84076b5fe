package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"motionboard/internal/motion"
	"motionboard/internal/telemetry"
	"motionboard/pkg/config"
	"motionboard/pkg/logger"
	"motionboard/pkg/middleware"
)

type flags struct {
	configPath  string
	gatewayURL  string
	token       string
	deviceID    string
	source      string
	metricsAddr string
	env         string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "gyro-agent",
		Short:        "Sample gyroscope motion, classify it and ship it to the ingest gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.gatewayURL, "gateway", "", "ingest gateway base URL (overrides config)")
	pf.StringVar(&f.token, "token", "", "gateway bearer token (overrides config and GATEWAY_TOKEN)")
	pf.StringVar(&f.env, "env", os.Getenv("MOTIONBOARD_ENV"), "logger mode: prod or dev")
	root.Flags().StringVar(&f.deviceID, "device-id", "", "device id; registers a new device when empty")
	root.Flags().StringVar(&f.source, "source", "", "sample source: sim or stdin")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(newHealthCmd(f), newRegisterCmd(f), newClassifyCmd())
	return root
}

// loadConfig merges the YAML file with command-line overrides.
func loadConfig(f *flags) (*config.Agent, error) {
	cfg, err := config.LoadAgent(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.gatewayURL != "" {
		cfg.GatewayURL = f.gatewayURL
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.deviceID != "" {
		cfg.DeviceID = f.deviceID
	}
	if f.source != "" {
		cfg.Source = f.source
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg, cfg.Validate()
}

func newClient(cfg *config.Agent) *telemetry.Client {
	return telemetry.NewClient(cfg.GatewayURL, middleware.TracedClient(15*time.Second)).WithToken(cfg.Token)
}

func run(ctx context.Context, f *flags) error {
	log := logger.New(f.env, "gyro-agent")
	defer func() { _ = log.Sync() }()
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	middleware.InitTracing("gyro-agent", log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg)
	if cfg.DeviceID == "" {
		reg, err := client.RegisterDevice(ctx)
		if err != nil {
			return fmt.Errorf("register device: %w", err)
		}
		cfg.DeviceID = reg.DeviceID
		log.Infow("device registered", "device_id", reg.DeviceID)
	}

	reg := prometheus.NewRegistry()
	buf := telemetry.NewBuffer(cfg.DeviceID, client, telemetry.Policy{
		FlushInterval:  cfg.Buffer.FlushInterval,
		MaxRecords:     cfg.Buffer.MaxRecords,
		InitialBackoff: cfg.Buffer.InitialBackoff,
		MaxBackoff:     cfg.Buffer.MaxBackoff,
	}, telemetry.WithLogger(log), telemetry.WithMetrics(telemetry.NewMetrics(reg)))

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr, reg, buf, log)
	}

	src, err := sourceFor(cfg.Source)
	if err != nil {
		return err
	}
	buf.Start(ctx)
	log.Infow("agent running", "device_id", cfg.DeviceID, "gateway", cfg.GatewayURL, "source", cfg.Source)
	sampler := &telemetry.Sampler{Source: src, Buffer: buf, Interval: cfg.SampleInterval, Log: log}
	runErr := sampler.Run(ctx)

	// Teardown: stop the timer, then one last flush bounded by ShutdownFlush.
	buf.Stop()
	fctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownFlush)
	defer cancel()
	buf.Flush(fctx)
	if st := buf.Status(); st.Count > 0 {
		log.Warnw("records left unsent at shutdown", "count", st.Count)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(fctx)
	}
	middleware.ShutdownTracing(fctx)
	return runErr
}

func sourceFor(name string) (telemetry.Source, error) {
	switch name {
	case "sim":
		return &telemetry.SimulatedSource{}, nil
	case "stdin":
		return telemetry.NewLineSource(os.Stdin), nil
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, buf *telemetry.Buffer, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(buf.Status())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infow("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server", "err", err)
		}
	}()
	return srv
}

func newHealthCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the gateway's ingest readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			h, err := newClient(cfg).Health(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if h["status"] != "healthy" {
				return fmt.Errorf("gateway ingest not ready: %v", h["message"])
			}
			return nil
		},
	}
}

func newRegisterCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a new device and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			reg, err := newClient(cfg).RegisterDevice(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reg.DeviceID)
			return err
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify X Y Z",
		Short: "Classify one angular-velocity sample (rad/s)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v [3]float64
			for i, a := range args {
				f, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("axis %d: %w", i, err)
				}
				v[i] = f
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n",
				motion.Classify(v[0], v[1], v[2]),
				motion.Intensity(v[0], v[1], v[2]),
				motion.Describe(v[0], v[1], v[2]))
			return err
		},
	}
}
