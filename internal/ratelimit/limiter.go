package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hoa-portal/internal/observability"
)

// Result reports the counter state after a check. On rejection Count and
// ResetTime describe the window that is still active.
type Result struct {
	Admitted  bool
	Count     int
	ResetTime time.Time
}

// Store keeps one counter per key. Hit must perform the whole
// check-and-increment atomically:
//   - absent or expired (reset <= now): count=1, reset=now+window, admit
//   - active and count >= max: reject, no mutation
//   - active: count+1, admit
type Store interface {
	Hit(ctx context.Context, key string, rule Rule, now time.Time) (Result, error)
	// PurgeExpired deletes records whose reset time is before the cutoff and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

var ErrUnknownAction = errors.New("unknown rate limit action")

type Limiter struct {
	store  Store
	rules  Rules
	logger *observability.Logger
	now    func() time.Time
}

func NewLimiter(store Store, rules Rules, logger *observability.Logger) *Limiter {
	return &Limiter{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Limiter) Rules() Rules {
	return l.rules
}

// Check counts one attempt against key. Purging stale records is best effort
// and never changes the decision.
func (l *Limiter) Check(ctx context.Context, key string, rule Rule) (Result, error) {
	if err := rule.validate(); err != nil {
		return Result{}, fmt.Errorf("check rate limit %s: %w", key, err)
	}

	now := l.now()

	if _, err := l.store.PurgeExpired(ctx, now.Add(-rule.Window)); err != nil && l.logger != nil {
		l.logger.Warn("rate_limit_purge_failed", map[string]any{"key": key, "error": err.Error()})
	}

	result, err := l.store.Hit(ctx, key, rule, now)
	if err != nil {
		return Result{}, fmt.Errorf("check rate limit %s: %w", key, err)
	}

	return result, nil
}

// PurgeStale removes records whose window ended more than the longest
// configured window ago. Check already purges per rule; this is the
// scheduled sweep for keys that stopped being hit.
func (l *Limiter) PurgeStale(ctx context.Context) (int64, error) {
	deleted, err := l.store.PurgeExpired(ctx, l.now().Add(-l.rules.LongestWindow()))
	if err != nil {
		return 0, fmt.Errorf("purge stale rate limits: %w", err)
	}
	return deleted, nil
}

// Enforce checks the configured rule for action and returns *ExceededError
// when the budget is spent.
func (l *Limiter) Enforce(ctx context.Context, action Action, identifier string, discriminator ...string) error {
	rule, ok := l.rules.Lookup(action)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	result, err := l.Check(ctx, Key(action, identifier, discriminator...), rule)
	if err != nil {
		return err
	}
	if !result.Admitted {
		return &ExceededError{
			Action:    action,
			ResetTime: result.ResetTime,
			Count:     result.Count,
			Limit:     rule.MaxRequests,
		}
	}

	return nil
}

type ExceededError struct {
	Action    Action
	ResetTime time.Time
	Count     int
	Limit     int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded. Try again after %s", e.ResetTime.UTC().Format(time.RFC3339))
}

// RetryAfter is the whole number of seconds until the window resets, at least 1.
func (e *ExceededError) RetryAfter(now time.Time) int {
	seconds := int(e.ResetTime.Sub(now).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
