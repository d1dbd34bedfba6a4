// Package tsclock implements the monotonic-timestamp arithmetic used
// throughout thermocore to schedule and detect deadlines without ever
// calling the wall clock. It is a direct translation of the timespec
// helpers in libfreeabode/util.h: a single "unset" sentinel value, add,
// subtract, compare, and the timeout-to-milliseconds conversion that
// feeds every event loop's poll/select call.
package tsclock

import "time"

// Time is a monotonic instant. The zero value is Unset, matching the
// original's TIMESPEC_INIT_CLEAR sentinel (tv_sec = -1): a component
// reading Unset knows no deadline is currently scheduled.
type Time struct {
	set bool
	v   time.Time
}

// Unset is the zero Time: no deadline armed.
var Unset Time

// Now returns the current monotonic instant.
func Now() Time {
	return Time{set: true, v: time.Now()}
}

// IsSet reports whether t holds a real instant.
func (t Time) IsSet() bool {
	return t.set
}

// Clear resets t to Unset.
func (t *Time) Clear() {
	*t = Unset
}

// Add returns t advanced by d. Adding to an unset Time is a programming
// error in the original and remains one here; callers must not call Add
// on Unset.
func (t Time) Add(d time.Duration) Time {
	return Time{set: true, v: t.v.Add(d)}
}

// Sub returns the duration elapsed from t to u (u - t).
func (u Time) Sub(t Time) time.Duration {
	return u.v.Sub(t.v)
}

// Cmp returns -1, 0 or 1 as t is before, equal to, or after u. An unset
// operand compares as infinitely far in the future, matching
// timespec_cmp's treatment of tv_sec == -1 as "not yet".
func (t Time) Cmp(u Time) int {
	if !t.set && !u.set {
		return 0
	}
	if !t.set {
		return 1
	}
	if !u.set {
		return -1
	}
	if t.v.Before(u.v) {
		return -1
	}
	if t.v.After(u.v) {
		return 1
	}
	return 0
}

// Min returns the earlier of t and u, ignoring whichever operand is
// Unset (an unset deadline never constrains the minimum), matching
// timespec_min.
func Min(t, u Time) Time {
	if !t.set {
		return u
	}
	if !u.set {
		return t
	}
	if t.v.Before(u.v) {
		return t
	}
	return u
}

// Passed reports whether deadline has occurred at or before now. If it
// has not yet passed, timeout is reduced to the remaining time until
// deadline when that is shorter — this lets a caller walk a list of candidate
// deadlines and end up with the nearest one, exactly as
// timespec_passed does in the original poll-loop construction.
func Passed(deadline, now Time, timeout *time.Duration) bool {
	if !deadline.set {
		return false
	}
	if now.Cmp(deadline) >= 0 {
		return true
	}
	remaining := deadline.Sub(now)
	if remaining < *timeout {
		*timeout = remaining
	}
	return false
}

// ToTimeout converts an optional deadline into a duration suitable for
// time.NewTimer, or -1 if deadline is Unset — the Go analogue of
// timespec_to_timeout_ms, which a poll()-based loop used directly as its
// timeout argument.
func ToTimeout(now, deadline Time) time.Duration {
	if !deadline.set {
		return -1
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
