// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	GatewayAddr   string // gateway
	DashboardAddr string // dashboard
	Version       string

	AllowedOrigins []string

	// Bearer auth on the gateway (optional; dev passes through without a header)
	Issuer        string
	Audience      string
	JWKSURL       string
	AuthClockSkew time.Duration

	// Ingest
	IngestSink       string // postgres | redis | log
	IngestTable      string
	IngestPolicyFile string
	IngestStreamMax  int64

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	Credentials Credentials
	Embed       DashboardEmbed
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:              env("MOTIONBOARD_ENV", "dev"),
		GatewayAddr:      env("GATEWAY_ADDR", ":8099"),
		DashboardAddr:    env("DASHBOARD_ADDR", ":3000"),
		Version:          env("MOTIONBOARD_VERSION", "1.0.0"),
		AllowedOrigins:   envList("CORS_ORIGINS"),
		Issuer:           env("OIDC_ISSUER", ""),
		Audience:         env("OIDC_AUDIENCE", "motionboard-gateway"),
		JWKSURL:          env("JWKS_URL", ""),
		AuthClockSkew:    envDur("AUTH_CLOCK_SKEW_SEC", 60) * time.Second,
		IngestSink:       env("INGEST_SINK", ""),
		IngestTable:      env("INGEST_TABLE", "app.device_data"),
		IngestPolicyFile: env("INGEST_POLICY_FILE", ""),
		IngestStreamMax:  int64(envInt("INGEST_STREAM_MAXLEN", 100000)),
		RedisURL:         env("REDIS_URL", ""),
		DatabaseURL:      env("DATABASE_URL", ""),
		Credentials:      CredentialsFromEnv(),
		Embed:            DashboardEmbedFromEnv(),
	}
	if cfg.IngestSink == "" {
		cfg.IngestSink = defaultSink(cfg)
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory device registry for dev")
	}
	return cfg
}

func defaultSink(cfg Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return "postgres"
	case cfg.RedisURL != "":
		return "redis"
	default:
		return "log"
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
