package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/errors"
)

// ErrBadSchedule reports a cron string outside the five-field "*"-or-list form.
var ErrBadSchedule = errors.Mark(errors.New("invalid cron schedule"), errors.ErrMalformedInput)

// ToCronSpec converts a stored schedule (day-of-week Monday=0..Sunday=6) into
// the robfig/cron form (Sunday=0). Every field must be "*" or a comma list of
// integers; ranges are checked by the cron parser afterwards.
func ToCronSpec(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", errors.Wrapf(ErrBadSchedule, "%q: want 5 fields, got %d", expr, len(fields))
	}
	for i, f := range fields {
		if f == "*" {
			continue
		}
		vals := strings.Split(f, ",")
		for j, v := range vals {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return "", errors.Wrapf(ErrBadSchedule, "%q: field %d value %q", expr, i+1, v)
			}
			if i == 4 {
				if n > 6 {
					return "", errors.Wrapf(ErrBadSchedule, "%q: day-of-week %d out of range 0..6", expr, n)
				}
				vals[j] = strconv.Itoa((n + 1) % 7)
			}
		}
		fields[i] = strings.Join(vals, ",")
	}
	return strings.Join(fields, " "), nil
}

// NextRuns lists up to n fire times of a stored schedule after from, in loc.
func NextRuns(expr string, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	spec, err := ToCronSpec(expr)
	if err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Wrapf(ErrBadSchedule, "parse %q: %v", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, max(n, 0))
	t := from.In(loc)
	for range n {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
