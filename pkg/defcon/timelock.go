package defcon

import (
	"fmt"
	"time"
)

// DefaultTimelock is the mandatory delay between requesting and finalizing
// deactivation.
const DefaultTimelock = 7 * 24 * time.Hour

// Timelock is pure time arithmetic over a fixed duration. Callers pass the
// same "now" they use for the surrounding state checks.
type Timelock struct {
	Duration time.Duration
}

// Expiry is the first instant at which the lock started at ref is open.
func (t Timelock) Expiry(ref time.Time) time.Time {
	return ref.Add(t.Duration)
}

// Expired reports now >= ref + Duration.
func (t Timelock) Expired(ref, now time.Time) bool {
	return !now.Before(t.Expiry(ref))
}

// Remaining is the time left until expiry, never negative.
func (t Timelock) Remaining(ref, now time.Time) time.Duration {
	left := t.Expiry(ref).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed is the time since ref, never negative.
func (t Timelock) Elapsed(ref, now time.Time) time.Duration {
	d := now.Sub(ref)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders a countdown as "6d 23h 59m", truncating seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
