// Package ratelimit decides whether work may proceed.
//
// Two kinds of limiter live here:
//
// UserLimiter:
//   - Per-user admission for download requests
//   - Daily quota that starts over after a full day without activity
//   - Minimum interval between admitted requests
//   - State kept in a quota.Store, one lock per user
//
// Process-wide limiters (Limiter interface):
//   - TokenBucket throttles calls to Instagram
//   - SlidingWindow throttles messages sent to Telegram
//
// Usage:
//
//	limiter := ratelimit.NewUserLimiter[int64](quota.NewMemoryStore[int64](), ratelimit.Limits{
//	    MaxPerDay:   10,
//	    MinInterval: 30 * time.Second,
//	}, log)
//
//	decision := limiter.Evaluate(userID, time.Now())
//	if !decision.Admitted {
//	    // decision.Reason explains why
//	}
//
//	outbound := ratelimit.NewPerMinute(60)
//	if err := outbound.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
