package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memProvider struct {
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.RWMutex
	byID    map[string]Device
	ordered []string
}

// NewMemoryProvider keeps devices in process memory (dev and tests).
func NewMemoryProvider(log *zap.SugaredLogger) Provider {
	return &memProvider{log: log, now: time.Now, byID: map[string]Device{}}
}

func (m *memProvider) Register(ctx context.Context) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(), nil
}

func (m *memProvider) addLocked() Device {
	d := Device{DeviceID: uuid.NewString(), Timestamp: m.now().UTC()}
	m.byID[d.DeviceID] = d
	m.ordered = append(m.ordered, d.DeviceID)
	return d
}

func (m *memProvider) List(ctx context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.ordered))
	for i := len(m.ordered) - 1; i >= 0; i-- {
		out = append(out, m.byID[m.ordered[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memProvider) Get(ctx context.Context, id string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.byID[id]; ok {
		return d, nil
	}
	return Device{}, ErrNotFound
}

func (m *memProvider) Seed(ctx context.Context, n int) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.addLocked())
	}
	m.log.Infow("seeded devices", "count", n)
	return out, nil
}
