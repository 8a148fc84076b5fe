// pkg/logger/logger.go
package logger

import (
	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

// New returns a sugared logger tagged with the service name. env "prod"
// selects the JSON production encoder.
func New(env, service string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar().With("service", service)
}

// Nop discards everything; used by tests and library defaults.
func Nop() Sugared { return zap.NewNop().Sugar() }
