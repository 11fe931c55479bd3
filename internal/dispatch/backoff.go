package dispatch

import "time"

// Fixed retry schedule, indexed by attempt number (1-based, clamped).
// Attempt 1 fails -> retry in 1 minute, attempt 2 -> 5 minutes,
// attempt 3 -> 15 minutes, attempt 4 and beyond -> 1 hour.
// No jitter: simultaneous failures across many webhooks will retry in
// lockstep. Known limitation.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
}

// NextDelay returns the wait before the retry that follows a failed attempt.
func NextDelay(attemptNumber int) time.Duration {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

// ShouldRetry reports whether another attempt is allowed after attemptNumber
// attempts have been made.
func ShouldRetry(attemptNumber, maxAttempts int) bool {
	return attemptNumber < maxAttempts
}

// NextRetryAt combines ShouldRetry and NextDelay: a non-nil timestamp when
// the delivery should be retried, nil when it is exhausted.
func NextRetryAt(now time.Time, attemptNumber, maxAttempts int) *time.Time {
	if !ShouldRetry(attemptNumber, maxAttempts) {
		return nil
	}
	t := now.Add(NextDelay(attemptNumber))
	return &t
}
