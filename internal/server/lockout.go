// lockout.go - Brute-force lockout guarding the admin surface.
//
// Per client: three wrong credentials lock the client out for
// penalty×step, where penalty grows by one with every lockout cycle and
// is never reset. While locked, attempts are rejected without touching
// the credential at all.
package server

import (
	"context"
	"encoding/json"
	"time"
)

// lockState is the persisted per-client guard state.
type lockState struct {
	Failures  int       `json:"failures"`
	Penalty   int       `json:"penalty"`
	LockUntil time.Time `json:"lock_until"`
}

type adminGuard struct {
	store     stateStore
	threshold int           // failures that trigger a lockout
	step      time.Duration // base lock unit, scaled by penalty
	now       func() time.Time
}

func newAdminGuard(store stateStore, threshold int, step time.Duration) *adminGuard {
	if threshold < 1 {
		threshold = 3
	}
	if step <= 0 {
		step = time.Minute
	}
	return &adminGuard{store: store, threshold: threshold, step: step, now: time.Now}
}

func decodeLockState(b []byte) lockState {
	var st lockState
	if len(b) > 0 {
		_ = json.Unmarshal(b, &st)
	}
	return st
}

// Locked reports whether the client is currently locked out, and for
// how much longer.
func (g *adminGuard) Locked(ctx context.Context, key string) (bool, time.Duration, error) {
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, nil
	}
	st := decodeLockState(raw)
	now := g.now()
	if st.LockUntil.After(now) {
		return true, st.LockUntil.Sub(now), nil
	}
	return false, 0, nil
}

// RecordFailure counts one wrong credential. Reaching the threshold
// locks the client and escalates the penalty. The whole transition runs
// inside one store update so concurrent bad guesses cannot under-count.
func (g *adminGuard) RecordFailure(ctx context.Context, key string) (locked bool, remaining time.Duration, err error) {
	err = g.store.Update(ctx, key, func(cur []byte) ([]byte, error) {
		st := decodeLockState(cur)
		now := g.now()

		if st.LockUntil.After(now) {
			// Lost a race with a lockout from a parallel attempt; keep it.
			locked = true
			remaining = st.LockUntil.Sub(now)
			return cur, nil
		}
		if !st.LockUntil.IsZero() {
			// Lock expired: a fresh failure window starts, the penalty stays.
			st.Failures = 0
			st.LockUntil = time.Time{}
		}

		st.Failures++
		if st.Failures >= g.threshold {
			st.Penalty++
			st.Failures = 0
			st.LockUntil = now.Add(time.Duration(st.Penalty) * g.step)
			locked = true
			remaining = st.LockUntil.Sub(now)
		}
		return json.Marshal(st)
	})
	return locked, remaining, err
}

// RecordSuccess clears the failure count. The penalty survives so a
// repeat offender's next lockout is still longer.
func (g *adminGuard) RecordSuccess(ctx context.Context, key string) error {
	return g.store.Update(ctx, key, func(cur []byte) ([]byte, error) {
		st := decodeLockState(cur)
		if st.Penalty == 0 {
			// Nothing worth keeping; drop the entry.
			return nil, nil
		}
		st.Failures = 0
		st.LockUntil = time.Time{}
		return json.Marshal(st)
	})
}
