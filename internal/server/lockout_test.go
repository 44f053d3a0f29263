package server

import (
	"context"
	"testing"
	"time"
)

func newTestGuard(t *testing.T) (*adminGuard, *time.Time) {
	t.Helper()
	now := time.Now()
	g := newAdminGuard(newMemoryStateStore(), 3, time.Minute)
	g.now = func() time.Time { return now }
	return g, &now
}

func failTimes(t *testing.T, g *adminGuard, key string, n int) (bool, time.Duration) {
	t.Helper()
	var locked bool
	var rem time.Duration
	for i := 0; i < n; i++ {
		var err error
		locked, rem, err = g.RecordFailure(context.Background(), key)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	return locked, rem
}

func TestAdminGuard_LocksOnThirdFailure(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if locked, _ := failTimes(t, g, "1.2.3.4", 1); locked {
		t.Error("first failure must not lock")
	}
	if locked, _ := failTimes(t, g, "1.2.3.4", 1); locked {
		t.Error("second failure must not lock")
	}
	locked, rem := failTimes(t, g, "1.2.3.4", 1)
	if !locked {
		t.Fatal("third failure must lock")
	}
	if rem != time.Minute {
		t.Errorf("first lockout = %v, want 1m", rem)
	}

	if isLocked, _, _ := g.Locked(ctx, "1.2.3.4"); !isLocked {
		t.Error("Locked should report true during the lockout")
	}
	if isLocked, _, _ := g.Locked(ctx, "5.6.7.8"); isLocked {
		t.Error("other clients must be unaffected")
	}
}

func TestAdminGuard_PenaltyEscalates(t *testing.T) {
	g, now := newTestGuard(t)

	// First lockout: 1 x step.
	_, rem := failTimes(t, g, "c", 3)
	if rem != time.Minute {
		t.Fatalf("first lockout = %v, want 1m", rem)
	}

	// Wait out the lock, fail three more times.
	*now = now.Add(2 * time.Minute)
	locked, rem := failTimes(t, g, "c", 3)
	if !locked {
		t.Fatal("second cycle should lock")
	}
	if rem != 2*time.Minute {
		t.Errorf("second lockout = %v, want 2m", rem)
	}

	*now = now.Add(3 * time.Minute)
	_, rem = failTimes(t, g, "c", 3)
	if rem != 3*time.Minute {
		t.Errorf("third lockout = %v, want 3m", rem)
	}
}

func TestAdminGuard_SuccessKeepsPenalty(t *testing.T) {
	g, now := newTestGuard(t)
	ctx := context.Background()

	failTimes(t, g, "c", 3)
	*now = now.Add(2 * time.Minute)

	// Two failures, then a success: failure count resets.
	failTimes(t, g, "c", 2)
	if err := g.RecordSuccess(ctx, "c"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if locked, _ := failTimes(t, g, "c", 2); locked {
		t.Error("two failures after success must not lock")
	}

	// The third failure locks, and the penalty from the first cycle held.
	locked, rem := failTimes(t, g, "c", 1)
	if !locked {
		t.Fatal("third failure should lock")
	}
	if rem != 2*time.Minute {
		t.Errorf("lockout after success = %v, want 2m (penalty retained)", rem)
	}
}

func TestAdminGuard_SuccessWithCleanSlateDropsEntry(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	failTimes(t, g, "c", 1)
	if err := g.RecordSuccess(ctx, "c"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if _, ok, _ := g.store.Get(ctx, "c"); ok {
		t.Error("entry with zero penalty should be dropped")
	}
}

func TestAdminGuard_FailureDuringLockKeepsLock(t *testing.T) {
	g, now := newTestGuard(t)

	failTimes(t, g, "c", 3)
	*now = now.Add(30 * time.Second)

	locked, rem := failTimes(t, g, "c", 1)
	if !locked {
		t.Fatal("attempt during lockout should stay locked")
	}
	if rem != 30*time.Second {
		t.Errorf("remaining = %v, want 30s", rem)
	}

	// The racing failure must not have extended or escalated the lock.
	*now = now.Add(31 * time.Second)
	if isLocked, _, _ := g.Locked(context.Background(), "c"); isLocked {
		t.Error("lock should have expired at its original deadline")
	}
}
