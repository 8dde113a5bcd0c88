package billing

import (
	"fmt"
	"time"
)

// CycleType represents the billing cadence of a subscription plan.
type CycleType string

const (
	CycleWeekly    CycleType = "weekly"
	CycleMonthly   CycleType = "monthly"
	CycleQuarterly CycleType = "quarterly"
	CycleYearly    CycleType = "yearly"
)

// Valid reports whether the cycle type is a supported cadence.
func (c CycleType) Valid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	}
	return false
}

// Months returns the cadence length in months. Weekly cycles return 0.
func (c CycleType) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	}
	return 0
}

// ParseCycleType converts a raw string into a CycleType.
func ParseCycleType(s string) (CycleType, error) {
	c := CycleType(s)
	if !c.Valid() {
		return "", &ConfigurationError{Field: "cycle_type", Detail: fmt.Sprintf("unrecognized cycle type %q", s)}
	}
	return c, nil
}

// NextBillingDate computes the calendar date of the cycleIndex-th billing
// cycle for a subscription anchored at anchor. Cycle 0 falls on the anchor
// date itself. Every cycle is derived from the original anchor's month and
// day, never from a previously computed date, so a clamped result such as
// Jan 31 -> Feb 28 does not shift later cycles off their anchor day.
func NextBillingDate(anchor time.Time, cycleType CycleType, cycleIndex int) (time.Time, error) {
	if cycleIndex < 0 {
		return time.Time{}, &ConfigurationError{Field: "cycle_index", Detail: fmt.Sprintf("cycle index must be non-negative, got %d", cycleIndex)}
	}
	anchor = DateOnly(anchor)
	switch cycleType {
	case CycleWeekly:
		return anchor.AddDate(0, 0, 7*cycleIndex), nil
	case CycleMonthly, CycleQuarterly:
		return addMonthsClamped(anchor, cycleType.Months()*cycleIndex), nil
	case CycleYearly:
		year := anchor.Year() + cycleIndex
		day := clampDay(anchor.Day(), year, anchor.Month())
		return time.Date(year, anchor.Month(), day, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, &ConfigurationError{Field: "cycle_type", Detail: fmt.Sprintf("unrecognized cycle type %q", cycleType)}
	}
}

// addMonthsClamped advances anchor by the given number of months, clamping
// the day of month to the target month's length. time.AddDate is unsuitable
// here because it normalizes overflow (Jan 31 plus one month yields Mar 3).
func addMonthsClamped(anchor time.Time, months int) time.Time {
	ordinal := anchor.Year()*12 + int(anchor.Month()) - 1 + months
	year := ordinal / 12
	month := time.Month(ordinal%12 + 1)
	day := clampDay(anchor.Day(), year, month)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// clampDay returns day bounded by the number of days in the given month.
func clampDay(day, year int, month time.Month) int {
	if last := daysInMonth(year, month); day > last {
		return last
	}
	return day
}

// daysInMonth returns the number of days in the given month. Day zero of the
// following month normalizes to the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOnly truncates a timestamp to a UTC calendar date at midnight. All
// billing math operates on dates produced by this function.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two timestamps fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}
