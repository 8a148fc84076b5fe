package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ingester delivers one batch of records to the gateway.
type Ingester interface {
	Ingest(ctx context.Context, records []Record) (IngestResponse, error)
}

// Policy bounds the buffer. Zero fields take DefaultPolicy values.
type Policy struct {
	FlushInterval  time.Duration
	MaxRecords     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FlushInterval:  5 * time.Second,
		MaxRecords:     10_000,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.FlushInterval <= 0 {
		p.FlushInterval = d.FlushInterval
	}
	if p.MaxRecords <= 0 {
		p.MaxRecords = d.MaxRecords
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = p.FlushInterval
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Status is a read-only snapshot of the buffer.
type Status struct {
	Count      int    `json:"count"`
	Submitting bool   `json:"isSubmitting"`
	Dropped    uint64 `json:"dropped"`
	Failures   int    `json:"consecutiveFailures"`
	Generation uint64 `json:"generation"`
}

var errSubmitAborted = errors.New("submission aborted")

// Buffer accumulates records and ships them in batches.
//
// A submission takes ownership of everything buffered so far and starts a
// new generation; records added while it is in flight belong to the next
// generation. A failed generation is put back ahead of the newer records so
// order is preserved. At most one submission is in flight at a time.
//
// The buffer holds at most Policy.MaxRecords; beyond that the oldest records
// are evicted and counted in Status.Dropped. After a failure the periodic
// flush backs off exponentially; Flush ignores the backoff.
type Buffer struct {
	deviceID string
	ingester Ingester
	policy   Policy
	log      *zap.SugaredLogger
	metrics  *Metrics
	now      func() time.Time

	mu         sync.Mutex
	records    []Record
	submitting bool
	dropped    uint64
	failures   int
	retryAt    time.Time
	generation uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Buffer)

func WithLogger(log *zap.SugaredLogger) Option { return func(b *Buffer) { b.log = log } }
func WithMetrics(m *Metrics) Option { return func(b *Buffer) { b.metrics = m } }
func WithClock(now func() time.Time) Option { return func(b *Buffer) { b.now = now } }

func NewBuffer(deviceID string, ing Ingester, p Policy, opts ...Option) *Buffer {
	b := &Buffer{
		deviceID: deviceID,
		ingester: ing,
		policy:   p.withDefaults(),
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AddRecord appends a record stamped with the current Unix time.
func (b *Buffer) AddRecord(x, y, z float64, movement string) {
	rec := Record{DeviceID: b.deviceID, X: x, Y: y, Z: z, Movement: movement, Timestamp: b.now().Unix()}
	b.mu.Lock()
	b.records = append(b.records, rec)
	dropped := b.trimLocked()
	n := len(b.records)
	b.mu.Unlock()

	if dropped > 0 {
		b.log.Warnw("buffer full, dropped oldest records", "dropped", dropped, "max_records", b.policy.MaxRecords)
	}
	b.metrics.addDropped(dropped)
	b.metrics.setBuffered(n)
}

// trimLocked evicts the oldest records beyond MaxRecords.
func (b *Buffer) trimLocked() int {
	over := len(b.records) - b.policy.MaxRecords
	if over <= 0 {
		return 0
	}
	b.records = b.records[over:]
	b.dropped += uint64(over)
	return over
}

// Start begins periodic submission. Calling it again while running is a no-op.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go b.loop(ctx, done)
	b.log.Infow("buffer started", "flush_interval", b.policy.FlushInterval, "max_records", b.policy.MaxRecords)
}

func (b *Buffer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(b.policy.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.tick(ctx)
		}
	}
}

// tick submits unless a backoff window from an earlier failure is open.
func (b *Buffer) tick(ctx context.Context) {
	b.mu.Lock()
	wait := !b.retryAt.IsZero() && b.now().Before(b.retryAt)
	b.mu.Unlock()
	if wait {
		return
	}
	b.Submit(ctx)
}

// Stop halts periodic submission and waits for the loop to exit. It does not
// drain the buffer; call Flush for that. Safe to call when not running.
func (b *Buffer) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.log.Infow("buffer stopped")
}

// Submit ships the current generation. It is a no-op when the buffer is
// empty or a submission is already in flight. Failures are logged and the
// records requeued; they are never returned to the caller.
func (b *Buffer) Submit(ctx context.Context) {
	batch, gen, ok := b.take()
	if !ok {
		return
	}
	start := b.now()
	var (
		resp      IngestResponse
		err       error
		completed bool
	)
	defer func() {
		if !completed {
			err = errSubmitAborted
		}
		b.settle(batch, gen, resp, err, b.now().Sub(start))
	}()
	resp, err = b.ingester.Ingest(ctx, batch)
	completed = true
}

// Flush submits whatever is buffered, regardless of backoff. Used at teardown.
func (b *Buffer) Flush(ctx context.Context) {
	b.Submit(ctx)
}

func (b *Buffer) take() ([]Record, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 || b.submitting {
		return nil, 0, false
	}
	batch := b.records
	b.records = nil
	b.submitting = true
	b.generation++
	return batch, b.generation, true
}

func (b *Buffer) settle(batch []Record, gen uint64, resp IngestResponse, err error, elapsed time.Duration) {
	b.mu.Lock()
	b.submitting = false
	var (
		dropped int
		backoff time.Duration
	)
	if err != nil {
		b.records = append(batch, b.records...)
		dropped = b.trimLocked()
		b.failures++
		backoff = b.backoffLocked()
		b.retryAt = b.now().Add(backoff)
	} else {
		b.failures = 0
		b.retryAt = time.Time{}
	}
	n, failures := len(b.records), b.failures
	b.mu.Unlock()

	b.metrics.observeSubmit(len(batch), elapsed.Seconds(), err)
	b.metrics.addDropped(dropped)
	b.metrics.setBuffered(n)

	if err != nil {
		b.log.Warnw("submission failed, records requeued",
			"err", err,
			"generation", gen,
			"records", len(batch),
			"buffered", n,
			"failures", failures,
			"retry_in", backoff,
		)
		return
	}
	b.log.Infow("submitted records",
		"generation", gen,
		"records", len(batch),
		"processed", resp.RecordsProcessed,
		"table", resp.TableName,
	)
}

func (b *Buffer) backoffLocked() time.Duration {
	d := b.policy.InitialBackoff
	for i := 1; i < b.failures; i++ {
		d *= 2
		if d >= b.policy.MaxBackoff {
			return b.policy.MaxBackoff
		}
	}
	if d > b.policy.MaxBackoff {
		d = b.policy.MaxBackoff
	}
	return d
}

// Status reports the current buffer state.
func (b *Buffer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Count:      len(b.records),
		Submitting: b.submitting,
		Dropped:    b.dropped,
		Failures:   b.failures,
		Generation: b.generation,
	}
}

// DeviceID is the id stamped on every record.
func (b *Buffer) DeviceID() string { return b.deviceID }
