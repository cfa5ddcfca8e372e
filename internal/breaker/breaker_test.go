package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream unavailable")

func failing(ctx context.Context) error { return errDownstream }

func succeeding(ctx context.Context) error { return nil }

// testClock lets tests advance time manually.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *testClock) {
	clk := newTestClock()
	b := New("test-service", cfg)
	b.now = clk.now
	return b, clk
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", b.State())
	}
	if !b.IsAvailable() {
		t.Error("expected a fresh breaker to be available")
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, RollingWindow: 60 * time.Second}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	// 4 failures: still closed.
	for i := 0; i < 4; i++ {
		if err := b.Execute(ctx, failing, nil); !errors.Is(err, errDownstream) {
			t.Fatalf("failure %d: expected downstream error, got %v", i, err)
		}
		clk.advance(time.Second)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after 4 failures, got %v", b.State())
	}

	// 5th failure within the window opens the circuit.
	b.Execute(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after 5 failures, got %v", b.State())
	}

	// 6th call is short-circuited: fn must not run.
	called := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not be invoked while the circuit is open")
	}

	c := b.GetCounters()
	if c.Rejected != 1 {
		t.Errorf("expected 1 rejected call, got %d", c.Rejected)
	}
}

func TestBreaker_RollingWindowPrunesOldFailures(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 10 * time.Second, RollingWindow: 60 * time.Second}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	b.Execute(ctx, failing, nil)
	b.Execute(ctx, failing, nil)

	// Old failures age out of the window.
	clk.advance(2 * time.Minute)
	b.Execute(ctx, failing, nil)

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed: only 1 failure inside the window, got %v", b.State())
	}
}

func TestBreaker_FallbackOnOpen(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 30 * time.Second, RollingWindow: 60 * time.Second}
	b, _ := newTestBreaker(cfg)
	ctx := context.Background()

	b.Execute(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	fallbackRan := false
	err := b.Execute(ctx, failing, func(ctx context.Context) error {
		fallbackRan = true
		return nil
	})
	if err != nil {
		t.Errorf("expected fallback to absorb rejection, got %v", err)
	}
	if !fallbackRan {
		t.Error("expected fallback to run while open")
	}
}

func TestBreaker_FallbackOnFailure(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	fallbackRan := false
	err := b.Execute(context.Background(), failing, func(ctx context.Context) error {
		fallbackRan = true
		return nil
	})
	if err != nil {
		t.Errorf("expected fallback to absorb the failure, got %v", err)
	}
	if !fallbackRan {
		t.Error("expected fallback to run on failure")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second, RollingWindow: 60 * time.Second}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	b.Execute(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	// Before the timeout: still rejecting.
	clk.advance(10 * time.Second)
	if err := b.Execute(ctx, succeeding, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen before timeout, got %v", err)
	}

	// After the timeout: trial call moves to HALF_OPEN.
	clk.advance(25 * time.Second)
	if err := b.Execute(ctx, succeeding, nil); err != nil {
		t.Fatalf("trial call: unexpected error: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after one success, got %v", b.State())
	}

	// Second consecutive success closes and clears failure history.
	if err := b.Execute(ctx, succeeding, nil); err != nil {
		t.Fatalf("second trial: unexpected error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after successThreshold successes, got %v", b.State())
	}
	if len(b.failures) != 0 {
		t.Errorf("expected failure history cleared on close, got %d entries", len(b.failures))
	}
}

func TestBreaker_SingleHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second, RollingWindow: 60 * time.Second}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	b.Execute(ctx, failing, nil)
	clk.advance(31 * time.Second)

	// Trial fails: immediately back to OPEN with a fresh retry deadline.
	b.Execute(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State())
	}

	// Rejected again until the new deadline passes.
	clk.advance(10 * time.Second)
	if err := b.Execute(ctx, succeeding, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenCounterResetsPerEpisode(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second, RollingWindow: 60 * time.Second}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	// Episode 1: one success then a failure.
	b.Execute(ctx, failing, nil)
	clk.advance(11 * time.Second)
	b.Execute(ctx, succeeding, nil)
	b.Execute(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	// Episode 2: the counter starts over, one success is not enough.
	clk.advance(11 * time.Second)
	b.Execute(ctx, succeeding, nil)
	if b.State() != StateHalfOpen {
		t.Errorf("expected StateHalfOpen: half-open counter must reset per episode, got %v", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, RollingWindow: time.Hour}
	b, _ := newTestBreaker(cfg)

	b.Execute(context.Background(), failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %v", b.State())
	}
	if !b.IsAvailable() {
		t.Error("expected breaker available after reset")
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Second, RollingWindow: time.Minute}
	b, clk := newTestBreaker(cfg)

	var transitions []string
	b.SetStateChangeHook(func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	ctx := context.Background()
	b.Execute(ctx, failing, nil)
	clk.advance(11 * time.Second)
	b.Execute(ctx, succeeding, nil)

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreaker_RejectHookFiresOnShortCircuit(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 30 * time.Second, RollingWindow: 60 * time.Second}
	b, _ := newTestBreaker(cfg)
	ctx := context.Background()

	var rejected []string
	b.SetRejectHook(func(name string) { rejected = append(rejected, name) })

	// Failures open the circuit without firing the hook.
	b.Execute(ctx, failing, nil)
	b.Execute(ctx, failing, nil)
	if len(rejected) != 0 {
		t.Fatalf("failures must not count as rejections, got %v", rejected)
	}

	// Short-circuited calls fire it, with or without a fallback.
	b.Execute(ctx, succeeding, nil)
	b.Execute(ctx, succeeding, func(ctx context.Context) error { return nil })
	if len(rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %v", rejected)
	}
	if rejected[0] != "test-service" {
		t.Errorf("expected hook to receive the service name, got %q", rejected[0])
	}
	if got := b.GetCounters().Rejected; got != 2 {
		t.Errorf("expected rejected counter 2, got %d", got)
	}
}

func TestManager_RejectHookAppliesToExistingAndFuture(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, RollingWindow: time.Minute}
	m := NewManager(cfg)
	ctx := context.Background()

	existing := m.GetBreaker("svc-a")

	counts := make(map[string]int)
	m.SetRejectHook(func(name string) { counts[name]++ })
	future := m.GetBreaker("svc-b")

	for _, b := range []*Breaker{existing, future} {
		b.Execute(ctx, failing, nil)
		b.Execute(ctx, succeeding, nil)
	}

	if counts["svc-a"] != 1 || counts["svc-b"] != 1 {
		t.Errorf("expected one rejection per service, got %v", counts)
	}
}

func TestManager_MemoizesPerName(t *testing.T) {
	m := NewManager(DefaultConfig())

	a := m.GetBreaker("llm-router")
	b := m.GetBreaker("llm-router")
	c := m.GetBreaker("tts-service")

	if a != b {
		t.Error("expected the same breaker instance per service name")
	}
	if a == c {
		t.Error("expected distinct breakers for distinct services")
	}
}

func TestManager_HealthStatus(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, RollingWindow: time.Hour}
	m := NewManager(cfg)
	ctx := context.Background()

	m.GetBreaker("llm-router").Execute(ctx, succeeding, nil)
	m.GetBreaker("tts-service").Execute(ctx, failing, nil)

	hs := m.GetHealthStatus()
	if hs["llm-router"].State != "CLOSED" {
		t.Errorf("expected llm-router CLOSED, got %s", hs["llm-router"].State)
	}
	if hs["tts-service"].State != "OPEN" {
		t.Errorf("expected tts-service OPEN, got %s", hs["tts-service"].State)
	}
	if hs["tts-service"].IsAvailable {
		t.Error("expected tts-service unavailable while open")
	}
	if hs["llm-router"].Counters.Success != 1 {
		t.Errorf("expected 1 success, got %d", hs["llm-router"].Counters.Success)
	}
}
