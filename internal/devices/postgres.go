package devices

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"motionboard/pkg/db"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed device registry.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the devices table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE SCHEMA IF NOT EXISTS app;
CREATE TABLE IF NOT EXISTS app.devices (
  device_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  timestamp timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS devices_timestamp_idx ON app.devices(timestamp DESC);
`)
	return err
}

const insertDevice = `INSERT INTO app.devices(device_id) VALUES ($1) RETURNING device_id::text, timestamp`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insert(ctx context.Context, q querier) (Device, error) {
	var d Device
	err := q.QueryRow(ctx, insertDevice, uuid.NewString()).Scan(&d.DeviceID, &d.Timestamp)
	return d, err
}

func (p *pgProvider) Register(ctx context.Context) (Device, error) {
	d, err := insert(ctx, p.dbPool)
	if err != nil {
		return Device{}, err
	}
	p.log.Infow("device registered", "device_id", d.DeviceID)
	return d, nil
}

func (p *pgProvider) List(ctx context.Context) ([]Device, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT device_id::text, timestamp FROM app.devices ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *pgProvider) Get(ctx context.Context, id string) (Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Device{}, ErrNotFound
	}
	var d Device
	err := p.dbPool.QueryRow(ctx, `SELECT device_id::text, timestamp FROM app.devices WHERE device_id=$1::uuid`, id).Scan(&d.DeviceID, &d.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	return d, err
}

func (p *pgProvider) Seed(ctx context.Context, n int) ([]Device, error) {
	out := make([]Device, 0, n)
	err := db.WithTx(ctx, p.dbPool, func(tx pgx.Tx) error {
		for i := 0; i < n; i++ {
			d, err := insert(ctx, tx)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Infow("seeded devices", "count", n)
	return out, nil
}
