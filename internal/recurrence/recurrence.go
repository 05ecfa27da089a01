// Package recurrence translates between the human-facing recurrence
// description ({type, time, days}) and the five-field cron string that is
// persisted and armed.
//
// Canonical mapping:
//
//	daily    m h * * *
//	weekly   m h * * 1
//	monthly  m h 1 * *
//	custom   m h * * d1,d2,...
//
// Day-of-week values use Monday=0 .. Sunday=6.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"postbot/internal/errors"
)

type Type string

const (
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	Custom  Type = "custom"
)

// Known reports whether t is one of the four supported patterns.
func (t Type) Known() bool {
	switch t {
	case Daily, Weekly, Monthly, Custom:
		return true
	}
	return false
}

// Recurrence is the structured form shown to end users.
type Recurrence struct {
	Type Type     `json:"type"`
	Time string   `json:"time"`
	Days []string `json:"days,omitempty"`
}

// Default is returned by Decode for anything it cannot interpret.
var Default = Recurrence{Type: Daily, Time: "12:00"}

var (
	ErrMalformedTime = errors.Malformed(errors.New("malformed time"))
	ErrMalformedDays = errors.Malformed(errors.New("malformed days"))
)

var reHHMM = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// ParseTime parses a strict two-digit "HH:MM" time of day.
func ParseTime(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, errors.WithHint(errors.Wrapf(ErrMalformedTime, "%q", s), "expected HH:MM, e.g. 08:30")
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, errors.WithHint(errors.Wrapf(ErrMalformedTime, "%q out of range", s), "hour 00-23, minute 00-59")
	}
	return hour, minute, nil
}

// Encode returns the cron string for r.
//
// An unrecognized type falls back to the daily pattern; callers that care can
// check r.Type.Known() beforehand.
func Encode(r Recurrence) (string, error) {
	hour, minute, err := ParseTime(r.Time)
	if err != nil {
		return "", err
	}
	switch r.Type {
	case Weekly:
		return fmt.Sprintf("%d %d * * 1", minute, hour), nil
	case Monthly:
		return fmt.Sprintf("%d %d 1 * *", minute, hour), nil
	case Custom:
		if err := validateDays(r.Days); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(r.Days, ",")), nil
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}
}

func validateDays(days []string) error {
	if len(days) == 0 {
		return errors.WithHint(errors.Wrap(ErrMalformedDays, "custom recurrence needs at least one day"), "days are 0 (Monday) .. 6 (Sunday)")
	}
	for _, d := range days {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 || n > 6 || strconv.Itoa(n) != d {
			return errors.WithHint(errors.Wrapf(ErrMalformedDays, "invalid day %q", d), "days are 0 (Monday) .. 6 (Sunday)")
		}
	}
	return nil
}

// Decode interprets a cron string. It never fails: anything it cannot parse
// yields Default, so corrupted persisted data never crashes a listing.
func Decode(expr string) Recurrence {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return Default
	}
	minute, err := strconv.Atoi(f[0])
	if err != nil || minute < 0 || minute > 59 {
		return Default
	}
	hour, err := strconv.Atoi(f[1])
	if err != nil || hour < 0 || hour > 23 {
		return Default
	}
	at := fmt.Sprintf("%02d:%02d", hour, minute)
	dom, month, dow := f[2], f[3], f[4]

	switch {
	case dom == "*" && month == "*" && dow == "*":
		return Recurrence{Type: Daily, Time: at}
	case dom == "*" && month == "*" && dow == "1":
		return Recurrence{Type: Weekly, Time: at}
	case dom == "1" && month == "*" && dow == "*":
		return Recurrence{Type: Monthly, Time: at}
	case dow != "*":
		return Recurrence{Type: Custom, Time: at, Days: strings.Split(dow, ",")}
	}
	return Recurrence{Type: Daily, Time: at}
}
