package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/health"
)

func newTestSelector(t *testing.T) (*Selector, health.Tracker) {
	t.Helper()
	tracker := health.NewMemoryTracker(health.DefaultConfig())
	return NewSelector(tracker, nil, zap.NewNop().Sugar()), tracker
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	providers := []llmrelay.ProviderRef{
		{Id: 1, Name: "a", Priority: 10},
		{Id: 2, Name: "b", Priority: 10},
	}

	t.Run("Empty candidate list", func(t *testing.T) {
		selector, _ := newTestSelector(t)
		assert.Nil(t, selector.Select(ctx, nil, ""))
	})

	t.Run("Tie broken by higher id", func(t *testing.T) {
		selector, _ := newTestSelector(t)

		chosen := selector.Select(ctx, providers, "")
		assert.NotNil(t, chosen)
		assert.Equal(t, int64(2), chosen.Id)
	})

	t.Run("Failures lower a provider's standing", func(t *testing.T) {
		selector, tracker := newTestSelector(t)

		// Three failures within the window cost "b" one priority point, so
		// "a" at effective 10 now beats "b" at effective 9.
		for i := 0; i < 3; i++ {
			assert.NoError(t, tracker.RecordFailure(ctx, "b"))
		}

		chosen := selector.Select(ctx, providers, "")
		assert.NotNil(t, chosen)
		assert.Equal(t, "a", chosen.Name)
	})

	t.Run("Unusable providers are skipped", func(t *testing.T) {
		selector, tracker := newTestSelector(t)

		// Five failures drive "b" to -3, below the usability cutoff. Its
		// effective priority of 17 still ranks first, so skipping it is
		// purely the cutoff's doing.
		dominant := []llmrelay.ProviderRef{
			{Id: 1, Name: "a", Priority: 10},
			{Id: 2, Name: "b", Priority: 20},
		}
		for i := 0; i < 5; i++ {
			assert.NoError(t, tracker.RecordFailure(ctx, "b"))
		}

		// "b" still ranks first at effective 17 but is below the cutoff.
		chosen := selector.Select(ctx, dominant, "")
		assert.NotNil(t, chosen)
		assert.Equal(t, "a", chosen.Name)
	})

	t.Run("All providers below the cutoff degrades gracefully", func(t *testing.T) {
		selector, tracker := newTestSelector(t)

		unequal := []llmrelay.ProviderRef{
			{Id: 1, Name: "a", Priority: 10},
			{Id: 2, Name: "b", Priority: 5},
		}
		for i := 0; i < 5; i++ {
			assert.NoError(t, tracker.RecordFailure(ctx, "a"))
			assert.NoError(t, tracker.RecordFailure(ctx, "b"))
		}

		// Both are unusable; the best-ranked one is returned anyway.
		chosen := selector.Select(ctx, unequal, "")
		assert.NotNil(t, chosen)
		assert.Equal(t, "a", chosen.Name)
	})

	t.Run("Override bypasses health entirely", func(t *testing.T) {
		selector, tracker := newTestSelector(t)

		for i := 0; i < 5; i++ {
			assert.NoError(t, tracker.RecordFailure(ctx, "a"))
		}

		usable, err := tracker.ShouldUse(ctx, "a")
		assert.NoError(t, err)
		assert.False(t, usable)

		chosen := selector.Select(ctx, providers, "a")
		assert.NotNil(t, chosen)
		assert.Equal(t, "a", chosen.Name)
	})

	t.Run("Unknown override returns nothing", func(t *testing.T) {
		selector, _ := newTestSelector(t)
		assert.Nil(t, selector.Select(ctx, providers, "zzz"))
	})
}

func TestRank(t *testing.T) {
	ctx := context.Background()

	t.Run("No history reports healthy baselines", func(t *testing.T) {
		selector, _ := newTestSelector(t)

		rankings := selector.Rank(ctx, []llmrelay.ProviderRef{
			{Id: 1, Name: "a", Priority: 10},
		})
		assert.Len(t, rankings, 1)
		assert.Equal(t, Ranking{
			Name:              "a",
			BasePriority:      10,
			Adjustment:        0,
			EffectivePriority: 10,
			Status:            health.StatusHealthy,
			FailureRate:       0,
		}, rankings[0])
	})

	t.Run("Sorted by effective priority only", func(t *testing.T) {
		selector, tracker := newTestSelector(t)

		for i := 0; i < 3; i++ {
			assert.NoError(t, tracker.RecordFailure(ctx, "top"))
		}

		rankings := selector.Rank(ctx, []llmrelay.ProviderRef{
			{Id: 1, Name: "top", Priority: 12},
			{Id: 2, Name: "mid", Priority: 10},
		})
		assert.Len(t, rankings, 2)

		// "top" drops from 12 to 11 but still leads.
		assert.Equal(t, "top", rankings[0].Name)
		assert.Equal(t, 11, rankings[0].EffectivePriority)
		assert.Equal(t, health.StatusDegraded, rankings[0].Status)
		assert.Equal(t, "mid", rankings[1].Name)
	})

	t.Run("Ids do not break ties", func(t *testing.T) {
		selector, _ := newTestSelector(t)

		// Equal effective priorities keep their input order; Select would
		// have put id 2 first.
		rankings := selector.Rank(ctx, []llmrelay.ProviderRef{
			{Id: 1, Name: "a", Priority: 10},
			{Id: 2, Name: "b", Priority: 10},
		})
		assert.Equal(t, "a", rankings[0].Name)
		assert.Equal(t, "b", rankings[1].Name)
	})
}
