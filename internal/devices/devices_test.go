package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestProfileForIsDeterministic(t *testing.T) {
	// seed = 'a' + 'b' + 2 = 197; p = (197*9301+49297) % 233280 = 15354
	got := ProfileFor("ab")
	want := Profile{Name: "Phone O10", Type: "iPhone 14", Location: "Production Floor - Line 2", Status: "online"}
	if got != want {
		t.Fatalf("ProfileFor(ab) = %+v, want %+v", got, want)
	}
	id := "3f2b8c1e-0000-4000-8000-000000000000"
	if ProfileFor(id) != ProfileFor(id) {
		t.Fatal("profile not stable")
	}
}

func TestProfileForShortIDs(t *testing.T) {
	for _, id := range []string{"", "a"} {
		p := ProfileFor(id)
		if p.Type == "" || p.Location == "" || p.Status != "online" {
			t.Fatalf("incomplete profile for %q: %+v", id, p)
		}
	}
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	p := NewMemoryProvider(zap.NewNop().Sugar()).(*memProvider)
	p.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	first, err := p.Register(ctx)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	seeded, err := p.Seed(ctx, 25)
	if err != nil || len(seeded) != 25 {
		t.Fatalf("seed: %d %v", len(seeded), err)
	}

	all, err := p.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 26 {
		t.Fatalf("expected 26 devices, got %d", len(all))
	}
	if all[0].DeviceID != seeded[24].DeviceID || all[25].DeviceID != first.DeviceID {
		t.Fatal("list is not newest first")
	}

	got, err := p.Get(ctx, first.DeviceID)
	if err != nil || got != first {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
