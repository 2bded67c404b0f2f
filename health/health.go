// Package health tracks recent success and failure history per upstream
// provider and derives a bounded priority adjustment used by selection.
package health

import (
	"context"
	"time"
)

// Provider status labels derived from recent history.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusUnstable = "unstable"
	StatusDegraded = "degraded"
)

// Providers whose adjustment has sunk to this value or below are skipped
// during selection until they recover.
const minUsableAdjustment = -3

// Number of recent successes required before a negative adjustment moves
// one step back toward zero.
const recoverySuccessCount = 5

// Config holds the tracker parameters. Fixed at construction.
type Config struct {
	// Window within which failures and successes count as recent.
	FailureWindow time.Duration

	// Number of recent failures that triggers a priority penalty.
	FailureThreshold int

	// A negative adjustment resets to zero once a provider has had no
	// recent failures and no successes newer than this for the whole
	// duration.
	RecoveryTime time.Duration
}

// DefaultConfig returns the tracker parameters used in production.
func DefaultConfig() Config {
	return Config{
		FailureWindow:    5 * time.Minute,
		FailureThreshold: 3,
		RecoveryTime:     10 * time.Minute,
	}
}

// Status is a snapshot of one provider's recent health.
type Status struct {
	Provider           string  `json:"provider"`
	RecentFailures     int     `json:"recent_failures"`
	RecentSuccesses    int     `json:"recent_successes"`
	FailureRate        float64 `json:"failure_rate"`
	PriorityAdjustment int     `json:"priority_adjustment"`
	Status             string  `json:"status"`
}

// Tracker records request outcomes per provider and answers health queries.
// Implementations never fail on unseen provider names; those behave as if
// they had an empty history.
type Tracker interface {
	// RecordSuccess appends a success at the current time and, after
	// purging stale entries, moves a negative adjustment one step toward
	// zero when enough recent successes have accumulated.
	RecordSuccess(ctx context.Context, provider string) error

	// RecordFailure appends a failure at the current time and, after
	// purging stale entries, lowers the adjustment by one when the recent
	// failure count reaches the threshold. There is no floor; repeated
	// failures compound the penalty.
	RecordFailure(ctx context.Context, provider string) error

	// PriorityAdjustment returns the stored adjustment without touching
	// the history. Unseen providers report zero.
	PriorityAdjustment(ctx context.Context, provider string) (int, error)

	// Status purges stale entries and returns a health snapshot.
	Status(ctx context.Context, provider string) (Status, error)

	// ShouldUse reports whether the provider is above the hard cutoff.
	ShouldUse(ctx context.Context, provider string) (bool, error)

	// Reset clears the provider's history and adjustment. Idempotent.
	Reset(ctx context.Context, provider string) error
}

// classify maps purged counts to a status label. The degraded check runs
// first and uses the already-purged failure count, so a provider at the
// threshold is degraded regardless of its failure rate.
func classify(failureRate float64, recentFailures int, failureThreshold int) string {
	switch {
	case recentFailures >= failureThreshold:
		return StatusDegraded
	case failureRate > 0.5:
		return StatusUnstable
	case failureRate > 0.1:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// failureRate returns failures/(failures+successes), zero when there has
// been no traffic at all.
func failureRate(failures int, successes int) float64 {
	total := failures + successes
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}
