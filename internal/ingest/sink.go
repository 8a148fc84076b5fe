// Package ingest implements the gateway's device and telemetry API.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"motionboard/internal/telemetry"
	"motionboard/pkg/config"
)

// Sink stores accepted telemetry batches.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, records []telemetry.Record) error
	// Ready reports whether the sink can currently accept writes.
	Ready(ctx context.Context) error
}

// NewSink picks the sink named by cfg.IngestSink. A sink whose backing store
// is not configured yields a *config.ConfigurationError; callers may wrap it
// with Unavailable so health checks can report it.
func NewSink(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, log *zap.SugaredLogger) (Sink, error) {
	switch cfg.IngestSink {
	case "postgres":
		if pool == nil {
			return nil, &config.ConfigurationError{Missing: []string{"DATABASE_URL"}}
		}
		s, err := NewPostgresSink(pool, cfg.IngestTable)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure ingest table: %w", err)
		}
		return s, nil
	case "redis":
		if rdb == nil {
			return nil, &config.ConfigurationError{Missing: []string{"REDIS_URL"}}
		}
		return NewRedisStreamSink(rdb, cfg.IngestTable, cfg.IngestStreamMax), nil
	case "log":
		return NewLogSink(log), nil
	default:
		return nil, fmt.Errorf("unknown INGEST_SINK %q", cfg.IngestSink)
	}
}

// splitTable turns "schema.table" into an identifier; a bare name uses public.
func splitTable(name string) (pgx.Identifier, error) {
	schema, table, ok := strings.Cut(name, ".")
	if !ok {
		schema, table = "public", name
	}
	if schema == "" || table == "" || strings.Contains(table, ".") {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	return pgx.Identifier{schema, table}, nil
}

var recordColumns = []string{"device_id", "x_axis", "y_axis", "z_axis", "movement", "timestamp"}

// PostgresSink copies batches into a table with COPY.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table pgx.Identifier
}

func NewPostgresSink(pool *pgxpool.Pool, table string) (*PostgresSink, error) {
	id, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool, table: id}, nil
}

func (p *PostgresSink) Name() string { return "postgres" }

// EnsureTable creates the telemetry table if it does not exist (idempotent).
func (p *PostgresSink) EnsureTable(ctx context.Context) error {
	schema := pgx.Identifier{p.table[0]}.Sanitize()
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
  device_id text NOT NULL,
  x_axis double precision NOT NULL,
  y_axis double precision NOT NULL,
  z_axis double precision NOT NULL,
  movement text NOT NULL,
  timestamp bigint NOT NULL,
  ingested_at timestamptz NOT NULL DEFAULT NOW()
);`, schema, p.table.Sanitize()))
	return err
}

func (p *PostgresSink) WriteBatch(ctx context.Context, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	n, err := p.pool.CopyFrom(ctx, p.table, recordColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{r.DeviceID, r.X, r.Y, r.Z, r.Movement, r.Timestamp}, nil
	}))
	if err != nil {
		return err
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d records", n, len(records))
	}
	return nil
}

func (p *PostgresSink) Ready(ctx context.Context) error { return p.pool.Ping(ctx) }

// RedisStreamSink appends each record to a capped Redis stream.
type RedisStreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb *redis.Client, table string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: "ingest:" + table, maxLen: maxLen}
}

func (r *RedisStreamSink) Name() string { return "redis" }

func (r *RedisStreamSink) WriteBatch(ctx context.Context, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, rec := range records {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]any{
				"device_id": rec.DeviceID,
				"x_axis":    rec.X,
				"y_axis":    rec.Y,
				"z_axis":    rec.Z,
				"movement":  rec.Movement,
				"timestamp": rec.Timestamp,
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStreamSink) Ready(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

// LogSink only logs batches; the dev default when no store is configured.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink { return &LogSink{log: log} }

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) WriteBatch(_ context.Context, records []telemetry.Record) error {
	devices := map[string]struct{}{}
	for _, r := range records {
		devices[r.DeviceID] = struct{}{}
	}
	l.log.Infow("ingested batch", "records", len(records), "devices", len(devices))
	return nil
}

func (l *LogSink) Ready(context.Context) error { return nil }

// unavailableSink stands in for a sink that could not be built.
type unavailableSink struct {
	name string
	err  error
}

// Unavailable returns a sink that rejects every write with err.
func Unavailable(name string, err error) Sink { return &unavailableSink{name: name, err: err} }

func (u *unavailableSink) Name() string { return u.name }
func (u *unavailableSink) WriteBatch(context.Context, []telemetry.Record) error {
	return u.err
}
func (u *unavailableSink) Ready(context.Context) error { return u.err }
