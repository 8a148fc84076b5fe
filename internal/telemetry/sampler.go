package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"motionboard/internal/motion"
)

// Sample is one angular-velocity reading in rad/s.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Source yields the latest sensor reading. io.EOF ends a run.
type Source interface {
	Read(ctx context.Context) (Sample, error)
}

// SimulatedSource produces smooth periodic motion so the pipeline can run
// without hardware.
type SimulatedSource struct {
	Now   func() time.Time
	start time.Time
}

func (s *SimulatedSource) Read(context.Context) (Sample, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	if s.start.IsZero() {
		s.start = t
	}
	sec := t.Sub(s.start).Seconds()
	return Sample{
		X: 0.9 * math.Sin(sec/3),
		Y: 0.7 * math.Sin(sec/5+1),
		Z: 1.2 * math.Sin(sec/7+2),
	}, nil
}

// LineSource reads JSON samples, one object per line.
type LineSource struct {
	sc *bufio.Scanner
}

func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{sc: bufio.NewScanner(r)}
}

func (s *LineSource) Read(context.Context) (Sample, error) {
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var smp Sample
		if err := json.Unmarshal(line, &smp); err != nil {
			return Sample{}, fmt.Errorf("parse sample %q: %w", line, err)
		}
		return smp, nil
	}
	if err := s.sc.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{}, io.EOF
}

// Recorder is the part of Buffer the sampler needs.
type Recorder interface {
	AddRecord(x, y, z float64, movement string)
}

// Sampler classifies one sample per interval and hands it to the buffer.
type Sampler struct {
	Source   Source
	Buffer   Recorder
	Interval time.Duration
	Log      *zap.SugaredLogger
}

// Run samples until ctx is cancelled or the source is exhausted. A malformed
// sample is logged and skipped.
func (s *Sampler) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		smp, err := s.Source.Read(ctx)
		if errors.Is(err, io.EOF) {
			log.Infow("sample source exhausted")
			return nil
		}
		if err != nil {
			log.Warnw("sample read failed", "err", err)
			continue
		}
		label := motion.Classify(smp.X, smp.Y, smp.Z)
		s.Buffer.AddRecord(smp.X, smp.Y, smp.Z, label)
		log.Debugw("sample", "x", smp.X, "y", smp.Y, "z", smp.Z, "movement", label, "intensity", motion.Intensity(smp.X, smp.Y, smp.Z))
	}
}
