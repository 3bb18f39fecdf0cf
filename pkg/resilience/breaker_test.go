package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ruslano69/skdb/pkg/config"
)

var errConnect = errors.New("connection refused")

func fail(context.Context) error    { return errConnect }
func succeed(context.Context) error { return nil }

// clock - управляемое время для переходов Open -> Half-Open
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, maxFailures uint32) (*Breaker, *clock) {
	t.Helper()

	cfg := DefaultConfig("test")
	cfg.MaxFailures = maxFailures
	cfg.Timeout = time.Minute
	cfg.OnStateChange = func(string, State, State) {}

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create breaker: %v", err)
	}

	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b.stateManager.now = c.Now
	return b, c
}

func TestBreaker_Success(t *testing.T) {
	b, _ := newTestBreaker(t, 3)

	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected StateClosed, got %v", b.State())
	}
	if b.Counts().TotalSuccesses != 1 {
		t.Errorf("Expected 1 success, got %d", b.Counts().TotalSuccesses)
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errConnect) {
			t.Fatalf("Attempt %d: expected connect error, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Function must not run while the breaker is open")
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 2)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)

	if b.State() != StateClosed {
		t.Errorf("Expected StateClosed after interleaved success, got %v", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, c := newTestBreaker(t, 1)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", b.State())
	}
	if d := b.Stats().TimeUntilHalfOpen; d != time.Minute {
		t.Errorf("Expected 1m until half-open, got %v", d)
	}

	c.Advance(time.Minute + time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("Expected StateHalfOpen, got %v", b.State())
	}

	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected StateClosed after successful probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(t, 1)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.Advance(2 * time.Minute)

	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Errorf("Expected StateOpen after failed probe, got %v", b.State())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b, _ := newTestBreaker(t, 1)

	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Cancellation must not open the breaker, got %v", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(t, 1)

	_ = b.Execute(context.Background(), fail)
	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("Expected StateClosed after Reset, got %v", b.State())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	changes := make(chan [2]State, 1)

	cfg := DefaultConfig("cb")
	cfg.MaxFailures = 1
	cfg.OnStateChange = func(_ string, from, to State) { changes <- [2]State{from, to} }

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = b.Execute(context.Background(), fail)

	select {
	case c := <-changes:
		if c[0] != StateClosed || c[1] != StateOpen {
			t.Errorf("Unexpected transition %v -> %v", c[0], c[1])
		}
	case <-time.After(time.Second):
		t.Fatal("OnStateChange was not called")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig("x"), false},
		{"zero failures", Config{Timeout: time.Second}, true},
		{"zero timeout", Config{MaxFailures: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := Config{MaxFailures: 1, Timeout: time.Second}
	_ = cfg.Validate()
	if cfg.SuccessThreshold != 1 || cfg.Name == "" {
		t.Errorf("Expected defaults filled, got %+v", cfg)
	}
}

func TestFromProvider(t *testing.T) {
	p := config.MustFromMap(map[string]any{
		"sk.db.breaker.failures": 3,
		"sk.db.breaker.timeout":  "15s",
	})

	cfg, ok := FromProvider(p, "sk.db")
	if !ok {
		t.Fatal("Expected breaker enabled")
	}
	if cfg.MaxFailures != 3 || cfg.Timeout != 15*time.Second {
		t.Errorf("Unexpected config: %+v", cfg)
	}

	if _, ok := FromProvider(config.New(), "sk.db"); ok {
		t.Error("Expected breaker disabled without sk.db.breaker.failures")
	}
}

func TestGroup_GetOrCreate(t *testing.T) {
	g := NewGroup()

	a, err := g.GetOrCreate("sqlite:/tmp/a.db", DefaultConfig(""))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	again, _ := g.GetOrCreate("sqlite:/tmp/a.db", Config{MaxFailures: 99, Timeout: time.Hour})
	if a != again {
		t.Error("Expected the same breaker for the same data source")
	}
	if a.Name() != "sqlite:/tmp/a.db" {
		t.Errorf("Unexpected name: %s", a.Name())
	}

	if _, err := g.GetOrCreate("bad", Config{}); err == nil {
		t.Error("Expected error for invalid config")
	}

	_, _ = g.GetOrCreate("sqlite:/tmp/b.db", DefaultConfig(""))
	if names := g.Names(); len(names) != 2 {
		t.Errorf("Expected 2 breakers, got %v", names)
	}

	if _, ok := g.Get("missing"); ok {
		t.Error("Get of unknown name should report false")
	}
}
