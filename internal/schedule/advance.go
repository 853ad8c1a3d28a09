// Package schedule advances recurring-agreement run dates across irregular
// month lengths and leap years.
package schedule

import (
	"errors"
	"strings"
	"time"
)

// Frequency is the cadence of a recurring agreement.
type Frequency string

const (
	Weekly    Frequency = "WEEKLY"
	Biweekly  Frequency = "BIWEEKLY"
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Yearly    Frequency = "YEARLY"
)

var ErrInvalidFrequency = errors.New("invalid_frequency")

// ParseFrequency validates a raw frequency string at the input boundary.
func ParseFrequency(raw string) (Frequency, error) {
	switch Frequency(strings.ToUpper(strings.TrimSpace(raw))) {
	case Weekly:
		return Weekly, nil
	case Biweekly:
		return Biweekly, nil
	case Monthly:
		return Monthly, nil
	case Quarterly:
		return Quarterly, nil
	case Yearly:
		return Yearly, nil
	default:
		return "", ErrInvalidFrequency
	}
}

// NextRunDate computes the run date following current. Month and year steps
// preserve the day-of-month where the target month has it and clamp to the
// target month's last day otherwise (Jan 31 + monthly -> Feb 28/29,
// Feb 29 + yearly -> Feb 28).
func NextRunDate(current time.Time, frequency Frequency) (time.Time, error) {
	switch frequency {
	case Weekly:
		return current.AddDate(0, 0, 7), nil
	case Biweekly:
		return current.AddDate(0, 0, 14), nil
	case Monthly:
		return addMonthsClamped(current, 1), nil
	case Quarterly:
		return addMonthsClamped(current, 3), nil
	case Yearly:
		return addMonthsClamped(current, 12), nil
	default:
		return time.Time{}, ErrInvalidFrequency
	}
}

// addMonthsClamped steps whole calendar months without the day-spill
// behavior of time.AddDate (which turns Jan 31 + 1 month into Mar 3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetFirst := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := lastDayOfMonth(targetFirst.Year(), targetFirst.Month())
	if day > last {
		day = last
	}
	hour, minute, sec := t.Clock()
	return time.Date(targetFirst.Year(), targetFirst.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
