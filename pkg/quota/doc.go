// Package quota holds per-user usage records for the download quota.
//
// The store is a plain state container: it does not decide anything. Policy
// lives in the ratelimit package, which reads and writes records only through
// Get and Upsert.
//
// Usage:
//
//	store := quota.NewMemoryStore[int64]()
//	limiter := ratelimit.NewUserLimiter[int64](store, limits, log)
package quota
