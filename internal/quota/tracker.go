// Package quota implements the monthly token budget.
package quota

import (
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Tracker applies the monthly reset policy and the ceiling check.
// It holds no state of its own; callers own the QuotaState.
type Tracker struct {
	clock Clock
	loc   *time.Location
}

// NewTracker creates a tracker. Months are compared in loc (UTC when nil).
func NewTracker(clock Clock, loc *time.Location) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{clock: clock, loc: loc}
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.clock.Now()
}

// NeedsReset reports whether the counter is due for its monthly reset at now.
func (t *Tracker) NeedsReset(state domain.QuotaState, now time.Time) bool {
	if state.LastReset == nil {
		return true
	}
	last := state.LastReset.In(t.loc)
	cur := now.In(t.loc)
	return last.Year() != cur.Year() || last.Month() != cur.Month()
}

// CheckAndMaybeReset applies any due reset and then reports whether a send
// is allowed. The reset is applied even when the send is rejected.
func (t *Tracker) CheckAndMaybeReset(state domain.QuotaState, ceiling int64) (allowed bool, next domain.QuotaState, reset bool) {
	now := t.clock.Now()
	next = state
	if t.NeedsReset(state, now) {
		next = domain.QuotaState{MonthlyTokens: 0, LastReset: &now}
		reset = true
	}
	return next.MonthlyTokens < ceiling, next, reset
}

// RecordConsumption adds tokens to the counter. The result may exceed the
// ceiling; the ceiling only gates the next send.
func (t *Tracker) RecordConsumption(state domain.QuotaState, tokens int64) domain.QuotaState {
	if tokens < 0 {
		tokens = 0
	}
	state.MonthlyTokens += tokens
	return state
}

// Reset zeroes the counter and stamps the reset time.
func (t *Tracker) Reset() domain.QuotaState {
	now := t.clock.Now()
	return domain.QuotaState{MonthlyTokens: 0, LastReset: &now}
}

// Remaining returns ceiling minus the counter. It may be zero or negative.
func Remaining(state domain.QuotaState, ceiling int64) int64 {
	return ceiling - state.MonthlyTokens
}
