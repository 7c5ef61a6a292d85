package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"igrelay/pkg/logger"
	"igrelay/pkg/quota"
)

// DayWindow is the idle period after which a user's daily count starts over
const DayWindow = 24 * time.Hour

// ReasonDailyLimit is the rejection reason once the daily quota is used up
const ReasonDailyLimit = "daily limit exceeded"

// Outcome classifies an admission decision
type Outcome string

const (
	OutcomeAdmitted   Outcome = "admitted"
	OutcomeDailyLimit Outcome = "daily_limit"
	OutcomeInterval   Outcome = "interval"
)

// RolloverAnchor selects which timestamp the day window is measured from
type RolloverAnchor string

const (
	// AnchorLastSeen measures from the previous evaluation, admitted or not
	AnchorLastSeen RolloverAnchor = "last_seen"
	// AnchorLastAdmitted measures from the previous admitted request
	AnchorLastAdmitted RolloverAnchor = "last_admitted"
)

// Limits configures a UserLimiter
type Limits struct {
	// MaxPerDay is the number of admitted requests allowed per day window.
	// Values <= 0 reject every request.
	MaxPerDay int
	// MinInterval is the minimum spacing between admitted requests.
	// Zero disables the check.
	MinInterval time.Duration
	// Rollover selects the day window anchor; empty means AnchorLastSeen
	Rollover RolloverAnchor
}

// Decision is the result of evaluating one request
type Decision struct {
	Admitted bool
	// Reason is empty when admitted
	Reason  string
	Outcome Outcome
	// RetryAfter is set for interval rejections
	RetryAfter time.Duration
	// DailyCount is the user's count after the evaluation
	DailyCount int
}

// RetryAfterSeconds returns the wait reported to the user, never less than 1
// for an interval rejection
func (d Decision) RetryAfterSeconds() int {
	if d.Outcome != OutcomeInterval {
		return 0
	}
	seconds := int(d.RetryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// UserLimiter admits or rejects requests per user, applying a daily quota and
// a minimum interval between admitted requests
type UserLimiter[K comparable] struct {
	store  quota.Store[K]
	limits Limits
	locks  *keyedMutex[K]
	logger logger.Logger
}

// NewUserLimiter creates a limiter over store. Per-user locking lives in the
// limiter, so a store must back only one limiter.
func NewUserLimiter[K comparable](store quota.Store[K], limits Limits, log logger.Logger) *UserLimiter[K] {
	if log == nil {
		log = logger.GetLogger()
	}
	if limits.Rollover == "" {
		limits.Rollover = AnchorLastSeen
	}

	return &UserLimiter[K]{
		store:  store,
		limits: limits,
		locks:  newKeyedMutex[K](),
		logger: log,
	}
}

// Limits returns the configured limits
func (l *UserLimiter[K]) Limits() Limits {
	return l.limits
}

// Evaluate decides whether userID may make a request at now and records the
// evaluation. It never fails.
func (l *UserLimiter[K]) Evaluate(userID K, now time.Time) Decision {
	unlock := l.locks.Lock(userID)
	defer unlock()

	record, exists := l.store.Get(userID)
	if !exists {
		record = quota.UsageRecord{LastSeen: now}
	}

	if exists && now.Sub(l.anchor(record)) > DayWindow {
		record.DailyCount = 0
	}

	var decision Decision
	switch {
	case record.DailyCount >= l.limits.MaxPerDay:
		decision = Decision{
			Reason:  ReasonDailyLimit,
			Outcome: OutcomeDailyLimit,
		}

	case l.limits.MinInterval > 0 && record.HasRequest() && sinceLastRequest(record, now) < l.limits.MinInterval:
		remaining := l.limits.MinInterval - sinceLastRequest(record, now)
		decision = Decision{
			Outcome:    OutcomeInterval,
			RetryAfter: remaining,
		}
		decision.Reason = fmt.Sprintf("rate limited, retry after %d seconds", decision.RetryAfterSeconds())

	default:
		record.LastRequest = now
		record.DailyCount++
		decision = Decision{
			Admitted: true,
			Outcome:  OutcomeAdmitted,
		}
	}

	record.LastSeen = now
	decision.DailyCount = record.DailyCount

	if err := l.store.Upsert(userID, record); err != nil {
		l.logger.ErrorWithFields("failed to store usage record", map[string]interface{}{
			"user_id": fmt.Sprint(userID),
			"error":   err.Error(),
		})
	}

	l.logger.DebugWithFields("evaluated request", map[string]interface{}{
		"user_id":     fmt.Sprint(userID),
		"outcome":     string(decision.Outcome),
		"daily_count": decision.DailyCount,
	})

	return decision
}

// Usage returns the stored record for userID without evaluating anything
func (l *UserLimiter[K]) Usage(userID K) (quota.UsageRecord, bool) {
	return l.store.Get(userID)
}

// Remaining returns how many requests userID could still make today at now,
// taking a pending rollover into account
func (l *UserLimiter[K]) Remaining(userID K, now time.Time) int {
	record, exists := l.store.Get(userID)
	count := record.DailyCount
	if exists && now.Sub(l.anchor(record)) > DayWindow {
		count = 0
	}

	remaining := l.limits.MaxPerDay - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TrackedUsers returns the number of users with a usage record
func (l *UserLimiter[K]) TrackedUsers() int {
	return l.store.Len()
}

// sinceLastRequest is the time elapsed since the last admitted request. A now
// earlier than that request counts as no time elapsed.
func sinceLastRequest(record quota.UsageRecord, now time.Time) time.Duration {
	elapsed := now.Sub(record.LastRequest)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (l *UserLimiter[K]) anchor(record quota.UsageRecord) time.Time {
	if l.limits.Rollover == AnchorLastAdmitted && record.HasRequest() {
		return record.LastRequest
	}
	return record.LastSeen
}

// keyedMutex hands out one mutex per key. Entries are never removed, matching
// the lifetime of usage records.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func newKeyedMutex[K comparable]() *keyedMutex[K] {
	return &keyedMutex[K]{locks: make(map[K]*sync.Mutex)}
}

// Lock locks the mutex for key and returns its unlock function
func (k *keyedMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
