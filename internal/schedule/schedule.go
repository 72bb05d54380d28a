// Package schedule evaluates blocking windows against the wall clock.
// Evaluation uses the host's local time zone on purpose: a user's work hours
// are local hours.
package schedule

import (
	"time"

	"blockandfocus/internal/config"
)

// IsActiveAt reports whether the schedule is enabled and now falls inside at
// least one rule. A disabled schedule is handled by the caller's decision
// logic, not here.
func IsActiveAt(now time.Time, sched config.ScheduleConfig) bool {
	_, ok := ActiveRuleAt(now, sched)
	return ok
}

// ActiveRuleAt returns the name of the first rule covering now. Rules are
// checked in policy order.
func ActiveRuleAt(now time.Time, sched config.ScheduleConfig) (string, bool) {
	if !sched.Enabled {
		return "", false
	}
	day := now.Weekday()
	minute := now.Hour()*60 + now.Minute()
	for _, rule := range sched.Rules {
		if ruleActiveAt(rule, day, minute) {
			return rule.Name, true
		}
	}
	return "", false
}

// ruleActiveAt checks a single rule. The interval is [start, end); rules are
// validated to never straddle midnight.
func ruleActiveAt(rule config.ScheduleRule, day time.Weekday, minute int) bool {
	matched := false
	for _, d := range rule.Days {
		if wd, ok := config.ParseWeekday(d); ok && wd == day {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	start, err := config.ParseClock(rule.StartTime)
	if err != nil {
		return false
	}
	end, err := config.ParseClock(rule.EndTime)
	if err != nil {
		return false
	}
	return minute >= start && minute < end
}
