package breaker

import (
	"testing"
	"time"

	"github.com/toolmesh/toolmesh-go/pkg/config"
	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

func testConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// fakeClock lets tests advance time manually.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New("svc", testConfig(), nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		if !b.CanExecute() {
			t.Fatalf("expected CanExecute true after %d failures", i)
		}
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %v", b.State())
	}

	b.RecordFailure() // third failure reaches the threshold
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}
	if b.CanExecute() {
		t.Error("expected CanExecute false while open")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := testConfig()
	b := New("svc", cfg, nil, WithClock(clock.Now))

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	if b.CanExecute() {
		t.Fatal("expected open breaker to reject")
	}

	clock.Advance(cfg.Cooldown)
	if !b.CanExecute() {
		t.Fatal("expected a probe slot after cooldown")
	}
	// The single probe slot is taken; a concurrent caller must be rejected.
	if b.CanExecute() {
		t.Error("expected second caller rejected while probe in flight")
	}
}

func TestBreakerProbeOutcomeDecidesState(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := testConfig()

	t.Run("probe success closes", func(t *testing.T) {
		b := New("svc", cfg, nil, WithClock(clock.Now))
		for i := 0; i < cfg.FailureThreshold; i++ {
			b.RecordFailure()
		}
		clock.Advance(cfg.Cooldown)
		if !b.CanExecute() {
			t.Fatal("expected probe slot")
		}
		b.RecordSuccess()
		if b.State() != StateClosed {
			t.Fatalf("expected closed after probe success, got %v", b.State())
		}
		if !b.CanExecute() {
			t.Error("expected calls allowed after close")
		}
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		b := New("svc", cfg, nil, WithClock(clock.Now))
		for i := 0; i < cfg.FailureThreshold; i++ {
			b.RecordFailure()
		}
		clock.Advance(cfg.Cooldown)
		if !b.CanExecute() {
			t.Fatal("expected probe slot")
		}
		b.RecordFailure()
		if b.State() != StateOpen {
			t.Fatalf("expected reopened after probe failure, got %v", b.State())
		}
	})
}

func TestBreakerReArmsAbandonedHalfOpenSlot(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := testConfig()
	b := New("svc", cfg, nil, WithClock(clock.Now))

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(cfg.Cooldown)
	if !b.CanExecute() {
		t.Fatal("expected probe slot after cooldown")
	}

	// The slot holder records no outcome (e.g. its context ended before the
	// call). Within the cool-down the slot stays held.
	if b.CanExecute() {
		t.Error("expected slot held within the cooldown")
	}

	clock.Advance(cfg.Cooldown)
	if !b.CanExecute() {
		t.Fatal("expected abandoned slot re-armed after another cooldown")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %v", b.State())
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New("svc", testConfig(), nil)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, consecutive counter should have reset; got %v", b.State())
	}
}

func TestBreakerReportsTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	collector := metrics.NewCollector()
	cfg := testConfig()
	b := New("svc", cfg, collector, WithClock(clock.Now))

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}

	opened := collector.CounterValue("circuit_breaker_transitions_total",
		metrics.Labels{"server": "svc", "state": "open"})
	if opened != 1 {
		t.Errorf("expected 1 open transition recorded, got %v", opened)
	}
	state := collector.GaugeValue("circuit_breaker_state", metrics.Labels{"server": "svc"})
	if state != 1 {
		t.Errorf("expected state gauge 1 (open), got %v", state)
	}

	clock.Advance(cfg.Cooldown)
	b.CanExecute()
	b.RecordSuccess()

	closed := collector.CounterValue("circuit_breaker_transitions_total",
		metrics.Labels{"server": "svc", "state": "closed"})
	if closed != 1 {
		t.Errorf("expected 1 closed transition recorded, got %v", closed)
	}
}

func TestBreakersAreIndependent(t *testing.T) {
	cfg := testConfig()
	a := New("a", cfg, nil)
	b := New("b", cfg, nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		a.RecordFailure()
	}

	if a.CanExecute() {
		t.Error("expected a's breaker open")
	}
	if !b.CanExecute() {
		t.Error("expected b's breaker unaffected")
	}
}
