// Package devices is the registry of phones known to the gateway.
package devices

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("device not found")

// Device is a registered device id and its registration time.
type Device struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Provider interface {
	// Register creates a device with a fresh id.
	Register(ctx context.Context) (Device, error)
	// List returns every device, newest first.
	List(ctx context.Context) ([]Device, error)
	// Get returns one device or ErrNotFound.
	Get(ctx context.Context, id string) (Device, error)
	// Seed registers n devices atomically.
	Seed(ctx context.Context, n int) ([]Device, error)
}
