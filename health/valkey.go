package health

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

// ValkeyTracker keeps health state in Valkey (open-source version of Redis)
// so that multiple proxy replicas share one view of provider health. The
// observable semantics match MemoryTracker: sorted sets hold the timestamp
// history, Lua scripts make each append-purge-adjust step atomic, and the
// Valkey server clock supplies timestamps so all replicas agree on "now".
type ValkeyTracker struct {
	client valkey.Client
	config Config
}

func NewValkeyTracker(client valkey.Client, config Config) *ValkeyTracker {
	return &ValkeyTracker{client: client, config: config}
}

// KEYS[1] failures zset, KEYS[2] successes zset, KEYS[3] adjustment.
// ARGV[1] unique member, ARGV[2] window ms, ARGV[3] recovery ms,
// ARGV[4] failure threshold. Scores are server microseconds.
const recordSuccessScript = `
	local time = redis.call('TIME')
	local now = time[1] * 1000000 + time[2]
	local window = tonumber(ARGV[2]) * 1000
	local recovery = tonumber(ARGV[3]) * 1000

	redis.call('ZADD', KEYS[2], now, ARGV[1])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - window)

	local adjustment = tonumber(redis.call('GET', KEYS[3]) or '0')
	if redis.call('ZCARD', KEYS[1]) == 0 and adjustment < 0 then
		if redis.call('ZCOUNT', KEYS[2], now - recovery, '+inf') == 0 then
			adjustment = 0
			redis.call('SET', KEYS[3], adjustment)
		end
	end

	if redis.call('ZCARD', KEYS[2]) >= 5 and adjustment < 0 then
		adjustment = adjustment + 1
		redis.call('SET', KEYS[3], adjustment)
	end

	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return {adjustment}
`

const recordFailureScript = `
	local time = redis.call('TIME')
	local now = time[1] * 1000000 + time[2]
	local window = tonumber(ARGV[2]) * 1000

	redis.call('ZADD', KEYS[1], now, ARGV[1])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - window)

	local adjustment = tonumber(redis.call('GET', KEYS[3]) or '0')
	if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[4]) then
		adjustment = adjustment - 1
		redis.call('SET', KEYS[3], adjustment)
	end

	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return {adjustment}
`

const statusScript = `
	local time = redis.call('TIME')
	local now = time[1] * 1000000 + time[2]
	local window = tonumber(ARGV[1]) * 1000
	local recovery = tonumber(ARGV[2]) * 1000

	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - window)

	local adjustment = tonumber(redis.call('GET', KEYS[3]) or '0')
	if redis.call('ZCARD', KEYS[1]) == 0 and adjustment < 0 then
		if redis.call('ZCOUNT', KEYS[2], now - recovery, '+inf') == 0 then
			adjustment = 0
			redis.call('SET', KEYS[3], adjustment)
		end
	end

	return {redis.call('ZCARD', KEYS[1]), redis.call('ZCARD', KEYS[2]), adjustment}
`

func (t *ValkeyTracker) RecordSuccess(ctx context.Context, provider string) error {
	resp := t.client.Do(ctx, t.client.B().Eval().
		Script(recordSuccessScript).
		Numkeys(3).
		Key(failuresKey(provider), successesKey(provider), adjustmentKey(provider)).
		Arg(
			uuid.NewString(),
			fmt.Sprintf("%d", t.config.FailureWindow.Milliseconds()),
			fmt.Sprintf("%d", t.config.RecoveryTime.Milliseconds()),
		).Build())
	return resp.Error()
}

func (t *ValkeyTracker) RecordFailure(ctx context.Context, provider string) error {
	resp := t.client.Do(ctx, t.client.B().Eval().
		Script(recordFailureScript).
		Numkeys(3).
		Key(failuresKey(provider), successesKey(provider), adjustmentKey(provider)).
		Arg(
			uuid.NewString(),
			fmt.Sprintf("%d", t.config.FailureWindow.Milliseconds()),
			fmt.Sprintf("%d", t.config.RecoveryTime.Milliseconds()),
			fmt.Sprintf("%d", t.config.FailureThreshold),
		).Build())
	return resp.Error()
}

func (t *ValkeyTracker) PriorityAdjustment(ctx context.Context, provider string) (int, error) {
	resp := t.client.Do(ctx, t.client.B().Get().Key(adjustmentKey(provider)).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	adjustment, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse priority adjustment: %v", err)
	}
	return int(adjustment), nil
}

func (t *ValkeyTracker) Status(ctx context.Context, provider string) (Status, error) {
	resp := t.client.Do(ctx, t.client.B().Eval().
		Script(statusScript).
		Numkeys(3).
		Key(failuresKey(provider), successesKey(provider), adjustmentKey(provider)).
		Arg(
			fmt.Sprintf("%d", t.config.FailureWindow.Milliseconds()),
			fmt.Sprintf("%d", t.config.RecoveryTime.Milliseconds()),
		).Build())

	result, err := resp.AsIntSlice()
	if err != nil {
		return Status{}, err
	}
	if len(result) != 3 {
		return Status{}, fmt.Errorf("unexpected status reply of length %d", len(result))
	}

	failures := int(result[0])
	successes := int(result[1])
	rate := failureRate(failures, successes)

	return Status{
		Provider:           provider,
		RecentFailures:     failures,
		RecentSuccesses:    successes,
		FailureRate:        rate,
		PriorityAdjustment: int(result[2]),
		Status:             classify(rate, failures, t.config.FailureThreshold),
	}, nil
}

func (t *ValkeyTracker) ShouldUse(ctx context.Context, provider string) (bool, error) {
	adjustment, err := t.PriorityAdjustment(ctx, provider)
	if err != nil {
		return false, err
	}
	return adjustment > minUsableAdjustment, nil
}

func (t *ValkeyTracker) Reset(ctx context.Context, provider string) error {
	return t.client.Do(ctx, t.client.B().Del().Key(
		failuresKey(provider), successesKey(provider), adjustmentKey(provider),
	).Build()).Error()
}

func failuresKey(provider string) string {
	return fmt.Sprintf("llmrelay:health:%s:failures", provider)
}

func successesKey(provider string) string {
	return fmt.Sprintf("llmrelay:health:%s:successes", provider)
}

func adjustmentKey(provider string) string {
	return fmt.Sprintf("llmrelay:health:%s:adjustment", provider)
}
