package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"igrelay/pkg/logger"
	"igrelay/pkg/quota"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func newTestLimiter(limits Limits) (*UserLimiter[int64], *quota.MemoryStore[int64]) {
	store := quota.NewMemoryStore[int64]()
	return NewUserLimiter[int64](store, limits, logger.NewNopLogger()), store
}

var defaultLimits = Limits{MaxPerDay: 10, MinInterval: 30 * time.Second}

func TestEvaluateFirstRequestAdmitted(t *testing.T) {
	limiter, store := newTestLimiter(defaultLimits)

	decision := limiter.Evaluate(1, at(0))

	assert.True(t, decision.Admitted)
	assert.Empty(t, decision.Reason)
	assert.Equal(t, OutcomeAdmitted, decision.Outcome)
	assert.Equal(t, 1, decision.DailyCount)

	record, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, 1, record.DailyCount)
	assert.Equal(t, at(0), record.LastRequest)
	assert.Equal(t, at(0), record.LastSeen)
}

func TestEvaluateIntervalRejection(t *testing.T) {
	limiter, store := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	decision := limiter.Evaluate(1, at(10))

	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeInterval, decision.Outcome)
	assert.Equal(t, 20*time.Second, decision.RetryAfter)
	assert.Equal(t, 20, decision.RetryAfterSeconds())
	assert.Equal(t, "rate limited, retry after 20 seconds", decision.Reason)

	record, _ := store.Get(1)
	assert.Equal(t, 1, record.DailyCount, "rejections must not count")
	assert.Equal(t, at(0), record.LastRequest)
	assert.Equal(t, at(10), record.LastSeen, "rejections still move last seen")
}

func TestEvaluateIntervalBoundary(t *testing.T) {
	limiter, _ := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	assert.False(t, limiter.Evaluate(1, at(29)).Admitted)
	assert.True(t, limiter.Evaluate(1, at(30)).Admitted, "elapsed == interval is admitted")
}

func TestEvaluateNeverReportsZeroSeconds(t *testing.T) {
	limiter, _ := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, t0).Admitted)
	decision := limiter.Evaluate(1, t0.Add(29*time.Second+600*time.Millisecond))

	require.False(t, decision.Admitted)
	assert.Equal(t, 400*time.Millisecond, decision.RetryAfter)
	assert.Equal(t, 1, decision.RetryAfterSeconds())
	assert.Equal(t, "rate limited, retry after 1 seconds", decision.Reason)
}

func TestEvaluateRoundsRemainderDown(t *testing.T) {
	limiter, _ := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, t0).Admitted)
	decision := limiter.Evaluate(1, t0.Add(10*time.Second+500*time.Millisecond))

	assert.Equal(t, 19, decision.RetryAfterSeconds())
}

func TestEvaluateDailyLimit(t *testing.T) {
	limiter, store := newTestLimiter(defaultLimits)

	for i := 0; i < 10; i++ {
		decision := limiter.Evaluate(1, at(i*30))
		require.True(t, decision.Admitted, "request %d should be admitted", i+1)
		assert.Equal(t, i+1, decision.DailyCount)
	}

	decision := limiter.Evaluate(1, at(300))
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeDailyLimit, decision.Outcome)
	assert.Equal(t, ReasonDailyLimit, decision.Reason)
	assert.Equal(t, 10, decision.DailyCount)

	record, _ := store.Get(1)
	assert.Equal(t, 10, record.DailyCount)
	assert.Equal(t, at(270), record.LastRequest)
	assert.Equal(t, at(300), record.LastSeen)
}

func TestEvaluateDailyLimitCheckedBeforeInterval(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 1, MinInterval: time.Minute})

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	decision := limiter.Evaluate(1, at(5))

	assert.Equal(t, OutcomeDailyLimit, decision.Outcome)
}

func TestEvaluateRollover(t *testing.T) {
	limiter, _ := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	decision := limiter.Evaluate(1, at(90000))

	assert.True(t, decision.Admitted)
	assert.Equal(t, 1, decision.DailyCount)
}

func TestEvaluateRolloverRequiresMoreThanADay(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 1, MinInterval: 0})

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	assert.False(t, limiter.Evaluate(1, at(0).Add(DayWindow)).Admitted, "exactly 24h is not a rollover")
}

func TestEvaluateRolloverResetsEvenWhenRejected(t *testing.T) {
	limiter, store := newTestLimiter(Limits{MaxPerDay: 2, MinInterval: 48 * time.Hour})

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)

	// More than a day later the count resets but the interval still rejects
	decision := limiter.Evaluate(1, at(90000))
	assert.Equal(t, OutcomeInterval, decision.Outcome)
	assert.Equal(t, 0, decision.DailyCount)

	record, _ := store.Get(1)
	assert.Equal(t, 0, record.DailyCount)
	assert.Equal(t, at(90000), record.LastSeen)
}

func TestEvaluateRejectionsKeepLastSeenAnchorFresh(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 1, MinInterval: 0})

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	// Rejected every 12 hours: the window never closes
	for hours := 12; hours <= 72; hours += 12 {
		decision := limiter.Evaluate(1, at(hours*3600))
		assert.Equal(t, OutcomeDailyLimit, decision.Outcome, "at %dh", hours)
	}
}

func TestEvaluateLastAdmittedAnchor(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 1, MinInterval: 0, Rollover: AnchorLastAdmitted})

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	assert.False(t, limiter.Evaluate(1, at(12*3600)).Admitted)
	assert.True(t, limiter.Evaluate(1, at(25*3600)).Admitted, "a day after the last admission resets")
}

func TestEvaluateIndependentUsers(t *testing.T) {
	limiter, store := newTestLimiter(defaultLimits)

	d1 := limiter.Evaluate(1, at(0))
	d2 := limiter.Evaluate(2, at(0))

	assert.True(t, d1.Admitted)
	assert.True(t, d2.Admitted)

	r1, _ := store.Get(1)
	r2, _ := store.Get(2)
	assert.Equal(t, 1, r1.DailyCount)
	assert.Equal(t, 1, r2.DailyCount)

	// Hammering user 1 does not touch user 2
	for i := 1; i < 20; i++ {
		limiter.Evaluate(1, at(i))
	}
	r2, _ = store.Get(2)
	assert.Equal(t, 1, r2.DailyCount)
	assert.Equal(t, at(0), r2.LastSeen)
}

func TestEvaluateHammeringDoesNotCount(t *testing.T) {
	limiter, store := newTestLimiter(defaultLimits)

	require.True(t, limiter.Evaluate(1, at(0)).Admitted)
	for i := 1; i < 30; i++ {
		assert.False(t, limiter.Evaluate(1, at(i)).Admitted)
	}

	record, _ := store.Get(1)
	assert.Equal(t, 1, record.DailyCount)
}

func TestEvaluateNonPositiveMaxRejectsEverything(t *testing.T) {
	for _, maxPerDay := range []int{0, -3} {
		limiter, _ := newTestLimiter(Limits{MaxPerDay: maxPerDay, MinInterval: 0})

		decision := limiter.Evaluate(1, at(0))
		assert.False(t, decision.Admitted)
		assert.Equal(t, OutcomeDailyLimit, decision.Outcome)
		assert.Equal(t, 0, decision.DailyCount)
	}
}

func TestEvaluateZeroIntervalDisablesCheck(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 3, MinInterval: 0})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Evaluate(1, at(0)).Admitted)
	}
	assert.Equal(t, OutcomeDailyLimit, limiter.Evaluate(1, at(0)).Outcome)
}

func TestEvaluateClockBehindLastRequest(t *testing.T) {
	t.Run("zero interval admits", func(t *testing.T) {
		limiter, _ := newTestLimiter(Limits{MaxPerDay: 3})

		require.True(t, limiter.Evaluate(1, at(10)).Admitted)
		decision := limiter.Evaluate(1, at(5))
		assert.True(t, decision.Admitted)
		assert.Equal(t, OutcomeAdmitted, decision.Outcome)
	})

	t.Run("wait capped at interval", func(t *testing.T) {
		limiter, _ := newTestLimiter(Limits{MaxPerDay: 3, MinInterval: 30 * time.Second})

		require.True(t, limiter.Evaluate(1, at(10)).Admitted)
		decision := limiter.Evaluate(1, at(5))
		assert.False(t, decision.Admitted)
		assert.Equal(t, OutcomeInterval, decision.Outcome)
		assert.Equal(t, 30*time.Second, decision.RetryAfter)
		assert.Equal(t, 30, decision.RetryAfterSeconds())
		assert.Contains(t, decision.Reason, "retry after 30 seconds")
	})
}

func TestEvaluateConcurrentSameUser(t *testing.T) {
	limiter, store := newTestLimiter(Limits{MaxPerDay: 5, MinInterval: time.Hour})

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Evaluate(7, at(0)).Admitted {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted, "only one request may pass the interval check")
	record, _ := store.Get(7)
	assert.Equal(t, 1, record.DailyCount)
}

func TestEvaluateConcurrentDailyLimit(t *testing.T) {
	limiter, store := newTestLimiter(Limits{MaxPerDay: 5, MinInterval: 0})

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Evaluate(7, at(0)).Admitted {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted)
	record, _ := store.Get(7)
	assert.Equal(t, 5, record.DailyCount)
}

func TestRemaining(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 3, MinInterval: 0})

	assert.Equal(t, 3, limiter.Remaining(1, at(0)))
	limiter.Evaluate(1, at(0))
	limiter.Evaluate(1, at(1))
	assert.Equal(t, 1, limiter.Remaining(1, at(2)))
	assert.Equal(t, 3, limiter.Remaining(1, at(1).Add(DayWindow+time.Second)))
	assert.Equal(t, 1, limiter.TrackedUsers())
}

func TestNewUserLimiterDefaults(t *testing.T) {
	limiter, _ := newTestLimiter(Limits{MaxPerDay: 1})
	assert.Equal(t, AnchorLastSeen, limiter.Limits().Rollover)
}
