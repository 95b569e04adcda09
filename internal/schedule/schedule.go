// Package schedule computes due-times for Cron and Interval manifests and
// offers a best-effort translation from an interval into an equivalent
// cron expression for display purposes.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// standardParser accepts the 5-field POSIX cron format (no seconds field),
// matching the CronExpression column's documented grammar.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Kind discriminates the schedule DSL a Scheduler.ScheduleAsync caller
// chooses between: a cron expression, a fixed interval, or neither (an
// on-demand manifest fired only by TriggerAsync).
type Kind int

const (
	KindNone Kind = iota
	KindCron
	KindInterval
)

// Schedule is the small DSL ScheduleAsync accepts in place of requiring
// callers to populate Manifest's CronExpression/IntervalSeconds fields
// directly.
type Schedule struct {
	Kind     Kind
	CronExpr string
	Interval time.Duration
}

// Cron builds a cron-kind Schedule.
func Cron(expr string) Schedule {
	return Schedule{Kind: KindCron, CronExpr: expr}
}

// Interval builds an interval-kind Schedule.
func Interval(d time.Duration) Schedule {
	return Schedule{Kind: KindInterval, Interval: d}
}

// ParseCron validates a cron expression, returning a descriptive error if
// it cannot be parsed. Manifest upsert calls this before persisting.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := standardParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextCronFire returns the next time expr fires strictly after `after`.
func NextCronFire(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// DueCron reports whether a cron-scheduled manifest is due to fire, given
// the last time it was scheduled (zero value if never scheduled) and the
// current time.
func DueCron(expr string, lastScheduled time.Time, now time.Time) (bool, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	if lastScheduled.IsZero() {
		// Never scheduled: due only if a fire time falls within the
		// second before now.
		return !sched.Next(now.Add(-1 * time.Second)).After(now), nil
	}
	return !sched.Next(lastScheduled).After(now), nil
}

// DueInterval reports whether an interval-scheduled manifest is due, given
// the last time it was scheduled and the current time. A manifest that has
// never been scheduled is always due immediately.
func DueInterval(interval time.Duration, lastScheduled time.Time, now time.Time) bool {
	if lastScheduled.IsZero() {
		return true
	}
	return now.Sub(lastScheduled) >= interval
}

// divisors lists the minute-of-hour divisors ToCron snaps an interval to
// when approximating it as "run every N minutes" via a step expression.
var divisors = []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30}

// nearestDivisor returns the divisor in divisors closest to minutes,
// preferring the smaller one on a tie.
func nearestDivisor(minutes int) int {
	best, bestDist := divisors[0], -1
	for _, d := range divisors {
		dist := d - minutes
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best
}

// ToCron approximates an interval duration as a 5-field cron expression,
// for display in operator tooling that only understands cron syntax (e.g.
// a dashboard listing "next N fires"). The approximation rounds to the
// nearest minute divisor of 60 for sub-hour intervals, to an hour step for
// sub-day intervals, and to a daily run at midnight for anything coarser;
// it is never used to drive actual dispatch, which always reads the
// Interval field directly via DueInterval.
func ToCron(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("schedule: interval must be positive, got %s", interval)
	}

	switch {
	case interval < time.Hour:
		minutes := int(interval / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		step := nearestDivisor(minutes)
		return fmt.Sprintf("*/%d * * * *", step), nil

	case interval < 24*time.Hour:
		hours := int(interval / time.Hour)
		if hours < 1 {
			hours = 1
		}
		if hours > 23 {
			hours = 23
		}
		return fmt.Sprintf("0 */%d * * *", hours), nil

	default:
		days := int(interval / (24 * time.Hour))
		if days <= 1 {
			return "0 0 * * *", nil
		}
		if days > 28 {
			days = 28
		}
		return fmt.Sprintf("0 0 */%d * *", days), nil
	}
}
