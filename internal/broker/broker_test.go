package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/db"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/worker"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	b, err := New(Opts{DB: gdb, ApprovalTTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

// --- New ---

func TestNew_NilDB(t *testing.T) {
	_, err := New(Opts{})
	if err == nil || err.Error() != "broker: db is required" {
		t.Fatalf("err = %v", err)
	}
}

// --- Request / Pending ---

func TestRequest_Validation(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Request(context.Background(), "", "run", "search"); err == nil {
		t.Error("expected error for missing session id")
	}
	if _, err := b.Request(context.Background(), "s1", "run", ""); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestRequest_SupersedesPrevious(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	first, err := b.Request(ctx, "s1", "run-1", "search A")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	second, err := b.Request(ctx, "s1", "run-2", "search B")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	p, err := b.Pending(ctx, "s1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p.ID != second.ID {
		t.Errorf("pending = %d, want %d", p.ID, second.ID)
	}

	hist, err := b.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d", len(hist))
	}
	if hist[0].ID != first.ID || hist[0].Status != models.InterruptSuperseded {
		t.Errorf("first = %+v, want superseded", hist[0])
	}
}

func TestRequest_TruncatesLongAction(t *testing.T) {
	b := newTestBroker(t)
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	in, err := b.Request(context.Background(), "s1", "r", string(long))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(in.Action) != 512 {
		t.Errorf("action len = %d, want 512", len(in.Action))
	}
}

func TestPending_None(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Pending(context.Background(), "nope"); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("err = %v, want ErrNoPendingApproval", err)
	}
}

func TestPending_Expired(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	start := time.Now()
	b.now = func() time.Time { return start }
	if _, err := b.Request(ctx, "s1", "r", "search"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	b.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := b.Pending(ctx, "s1"); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("err = %v, want ErrNoPendingApproval", err)
	}
	hist, _ := b.History(ctx, "s1")
	if hist[0].Status != models.InterruptExpired {
		t.Errorf("status = %q, want expired", hist[0].Status)
	}
}

// --- Resolve ---

func TestResolve_ApproveAndReject(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	b.Request(ctx, "s1", "r1", "search")
	in, err := b.Resolve(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if in.Status != models.InterruptApproved || in.ResolvedAt == nil {
		t.Errorf("resolved = %+v", in)
	}
	if _, err := b.Resolve(ctx, "s1", true); !errors.Is(err, ErrNoPendingApproval) {
		t.Errorf("second resolve err = %v", err)
	}

	b.Request(ctx, "s2", "r2", "fetch")
	in, err = b.Resolve(ctx, "s2", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if in.Status != models.InterruptRejected {
		t.Errorf("status = %q, want rejected", in.Status)
	}
}

func TestResolve_ConcurrentSingleWinner(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		if _, err := b.Request(ctx, "race", "run", "search"); err != nil {
			t.Fatalf("Request: %v", err)
		}
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, misses := 0, 0
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Resolve(ctx, "race", true)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrNoPendingApproval):
					misses++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 || misses != 1 {
			t.Fatalf("round %d: wins=%d misses=%d, want 1/1", round, wins, misses)
		}
	}
}

// --- Supersede / ExpireStale ---

func TestSupersede(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	had, err := b.Supersede(ctx, "s1")
	if err != nil || had {
		t.Fatalf("Supersede on empty = %v, %v", had, err)
	}
	b.Request(ctx, "s1", "r", "search")
	had, err = b.Supersede(ctx, "s1")
	if err != nil || !had {
		t.Fatalf("Supersede = %v, %v", had, err)
	}
	if _, err := b.Pending(ctx, "s1"); !errors.Is(err, ErrNoPendingApproval) {
		t.Errorf("pending after supersede: %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	start := time.Now()
	b.now = func() time.Time { return start }
	b.Request(ctx, "old", "r", "search")

	b.now = func() time.Time { return start.Add(90 * time.Minute) }
	b.Request(ctx, "new", "r", "search")

	n, err := b.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	if _, err := b.Pending(ctx, "new"); err != nil {
		t.Errorf("fresh request should still be pending: %v", err)
	}
}

func TestReopen(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if _, err := b.Request(ctx, "s1", "r", "search"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	in, err := b.Resolve(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ok, err := b.Reopen(ctx, in.ID)
	if err != nil || !ok {
		t.Fatalf("Reopen = %v, %v; want true", ok, err)
	}
	p, err := b.Pending(ctx, "s1")
	if err != nil {
		t.Fatalf("Pending after reopen: %v", err)
	}
	if p.ResolvedAt != nil {
		t.Errorf("ResolvedAt = %v, want nil", p.ResolvedAt)
	}

	// A superseded request stays closed.
	if _, err := b.Supersede(ctx, "s1"); err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	ok, err = b.Reopen(ctx, in.ID)
	if err != nil || ok {
		t.Fatalf("Reopen superseded = %v, %v; want false", ok, err)
	}
}

// --- Gate ---

func TestGate_InterruptsUnlessGranted(t *testing.T) {
	g := NewGate(false)
	a := worker.Action{Kind: "search", Provider: "tavily", Target: "go", Label: "Searching with Tavily..."}

	sig, ok := worker.AsInterrupt(g.Approve(context.Background(), a))
	if !ok || sig.Action != a {
		t.Fatalf("expected interrupt for %v", a)
	}

	var autos []worker.Action
	g = NewGate(true)
	g.OnAuto = func(a worker.Action) { autos = append(autos, a) }
	for i := 0; i < 3; i++ {
		if err := g.Approve(context.Background(), a); err != nil {
			t.Fatalf("Approve after grant: %v", err)
		}
	}
	if len(autos) != 3 || g.AutoApproved() != 3 {
		t.Errorf("auto approvals = %d/%d, want 3", len(autos), g.AutoApproved())
	}
}

func TestGate_PreApproved(t *testing.T) {
	g := NewGate(true)
	if err := g.Approve(context.Background(), worker.Action{}); err != nil {
		t.Fatalf("pre-approved gate interrupted: %v", err)
	}
}
