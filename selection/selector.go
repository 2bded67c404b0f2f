// Package selection picks which upstream provider should serve the next
// request, honoring health-derived priority adjustments and explicit
// caller overrides.
package selection

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/health"
	"github.com/llmrelay/llmrelay/monitoring"
)

// Selector ranks caller-supplied provider candidates by their effective
// priority (base priority plus the tracker's adjustment) and returns the
// best usable one. It never fails outright: tracker read errors are logged
// and the affected provider is treated as having an empty history.
type Selector struct {
	tracker health.Tracker
	metrics *monitoring.Metrics
	logger  *zap.SugaredLogger
}

func NewSelector(tracker health.Tracker, metrics *monitoring.Metrics, logger *zap.SugaredLogger) *Selector {
	return &Selector{
		tracker: tracker,
		metrics: metrics,
		logger:  logger,
	}
}

// Ranking describes one provider's standing for diagnostics. Produced by
// Rank, never consulted for serving decisions.
type Ranking struct {
	Name              string  `json:"name"`
	BasePriority      int     `json:"base_priority"`
	Adjustment        int     `json:"adjustment"`
	EffectivePriority int     `json:"effective_priority"`
	Status            string  `json:"status"`
	FailureRate       float64 `json:"failure_rate"`
}

// Select returns the provider that should serve the next request, or nil
// when providers is empty or the override names a provider that is not in
// the list. A non-empty override wins unconditionally; health is not
// consulted on that path.
func (s *Selector) Select(ctx context.Context, providers []llmrelay.ProviderRef, override string) *llmrelay.ProviderRef {
	if override != "" {
		chosen := llmrelay.FindProvider(providers, override)
		if chosen == nil {
			s.logger.Warnw("Override provider not found", "override", override)
			return nil
		}
		s.metrics.RecordSelection(chosen.Name, monitoring.ReasonOverride)
		return chosen
	}

	if len(providers) == 0 {
		return nil
	}

	type candidate struct {
		provider  *llmrelay.ProviderRef
		effective int
	}

	candidates := make([]candidate, 0, len(providers))
	for i := range providers {
		candidates = append(candidates, candidate{
			provider:  &providers[i],
			effective: providers[i].Priority + s.adjustment(ctx, providers[i].Name),
		})
	}

	// Single composite descending sort: higher effective priority first,
	// higher id breaking ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].effective != candidates[j].effective {
			return candidates[i].effective > candidates[j].effective
		}
		return candidates[i].provider.Id > candidates[j].provider.Id
	})

	for _, c := range candidates {
		if s.usable(ctx, c.provider.Name) {
			s.metrics.RecordSelection(c.provider.Name, monitoring.ReasonRanked)
			return c.provider
		}
	}

	// Every candidate is below the health cutoff. Serving the best of a bad
	// bunch beats refusing to serve.
	best := candidates[0].provider
	s.logger.Warnw("All providers below health cutoff, using best-ranked anyway", "provider", best.Name)
	s.metrics.RecordSelection(best.Name, monitoring.ReasonFallback)
	return best
}

// Rank reports every candidate's health standing, sorted descending by
// effective priority alone. Unlike Select, ids do not break ties here.
func (s *Selector) Rank(ctx context.Context, providers []llmrelay.ProviderRef) []Ranking {
	rankings := make([]Ranking, 0, len(providers))
	for _, provider := range providers {
		status, err := s.tracker.Status(ctx, provider.Name)
		if err != nil {
			s.logger.Warnw("Failed to read provider health", "provider", provider.Name, "error", err)
			status = health.Status{Provider: provider.Name, Status: health.StatusHealthy}
		}
		rankings = append(rankings, Ranking{
			Name:              provider.Name,
			BasePriority:      provider.Priority,
			Adjustment:        status.PriorityAdjustment,
			EffectivePriority: provider.Priority + status.PriorityAdjustment,
			Status:            status.Status,
			FailureRate:       status.FailureRate,
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].EffectivePriority > rankings[j].EffectivePriority
	})
	return rankings
}

func (s *Selector) adjustment(ctx context.Context, provider string) int {
	adjustment, err := s.tracker.PriorityAdjustment(ctx, provider)
	if err != nil {
		s.logger.Warnw("Failed to read priority adjustment", "provider", provider, "error", err)
		return 0
	}
	return adjustment
}

func (s *Selector) usable(ctx context.Context, provider string) bool {
	usable, err := s.tracker.ShouldUse(ctx, provider)
	if err != nil {
		s.logger.Warnw("Failed to check provider usability", "provider", provider, "error", err)
		return true
	}
	return usable
}
