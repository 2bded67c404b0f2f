package health

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// record holds one provider's history. Stale entries are never removed
// individually; the whole slice is rebuilt by filtering on every purge.
type record struct {
	failures   []time.Time
	successes  []time.Time
	adjustment int
}

// MemoryTracker keeps per-provider health state in process memory. A single
// mutex guards the whole map; provider counts are small, so contention is
// not a concern. All operations are synchronous and bounded by the number
// of events inside the failure window.
type MemoryTracker struct {
	config  Config
	records map[string]*record
	mutex   sync.Mutex

	// Clock interface for time-related operations. Must use this to avoid
	// flakiness in tests.
	clock clock.Clock
}

func NewMemoryTracker(config Config) *MemoryTracker {
	return newMemoryTrackerWithClock(config, clock.New())
}

func newMemoryTrackerWithClock(config Config, clk clock.Clock) *MemoryTracker {
	return &MemoryTracker{
		config:  config,
		records: make(map[string]*record),
		clock:   clk,
	}
}

func (t *MemoryTracker) RecordSuccess(ctx context.Context, provider string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	rec := t.record(provider)
	now := t.clock.Now()
	rec.successes = append(rec.successes, now)
	t.purge(rec, now)

	if len(rec.successes) >= recoverySuccessCount && rec.adjustment < 0 {
		rec.adjustment++
	}
	return nil
}

func (t *MemoryTracker) RecordFailure(ctx context.Context, provider string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	rec := t.record(provider)
	now := t.clock.Now()
	rec.failures = append(rec.failures, now)
	t.purge(rec, now)

	if len(rec.failures) >= t.config.FailureThreshold {
		rec.adjustment--
	}
	return nil
}

func (t *MemoryTracker) PriorityAdjustment(ctx context.Context, provider string) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	rec, exists := t.records[provider]
	if !exists {
		return 0, nil
	}
	return rec.adjustment, nil
}

func (t *MemoryTracker) Status(ctx context.Context, provider string) (Status, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	rec := t.record(provider)
	t.purge(rec, t.clock.Now())

	failures := len(rec.failures)
	successes := len(rec.successes)
	rate := failureRate(failures, successes)

	return Status{
		Provider:           provider,
		RecentFailures:     failures,
		RecentSuccesses:    successes,
		FailureRate:        rate,
		PriorityAdjustment: rec.adjustment,
		Status:             classify(rate, failures, t.config.FailureThreshold),
	}, nil
}

func (t *MemoryTracker) ShouldUse(ctx context.Context, provider string) (bool, error) {
	adjustment, err := t.PriorityAdjustment(ctx, provider)
	if err != nil {
		return false, err
	}
	return adjustment > minUsableAdjustment, nil
}

func (t *MemoryTracker) Reset(ctx context.Context, provider string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.records, provider)
	return nil
}

// record returns the provider's history, inserting an empty one on first
// reference. Callers must hold the mutex.
func (t *MemoryTracker) record(provider string) *record {
	rec, exists := t.records[provider]
	if !exists {
		rec = &record{}
		t.records[provider] = rec
	}
	return rec
}

// purge rebuilds both lists keeping only entries inside the failure window.
// When no recent failures remain and the adjustment is negative, it also
// resets the adjustment to zero if every remaining success is older than
// the recovery time. An empty success list passes that check vacuously, so
// a penalized provider with no recent traffic recovers on the next purge.
func (t *MemoryTracker) purge(rec *record, now time.Time) {
	windowCutoff := now.Add(-t.config.FailureWindow)
	rec.failures = keepAfter(rec.failures, windowCutoff)
	rec.successes = keepAfter(rec.successes, windowCutoff)

	if len(rec.failures) > 0 || rec.adjustment >= 0 {
		return
	}
	recoveryCutoff := now.Add(-t.config.RecoveryTime)
	for _, timestamp := range rec.successes {
		if !timestamp.Before(recoveryCutoff) {
			return
		}
	}
	rec.adjustment = 0
}

func keepAfter(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, timestamp := range timestamps {
		if timestamp.After(cutoff) {
			kept = append(kept, timestamp)
		}
	}
	return kept
}
