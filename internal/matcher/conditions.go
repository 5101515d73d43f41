package matcher

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"seo-rules-engine/internal/rules"
)

func matchConditions(c *rules.Conditions, q url.Values, now time.Time) (bool, error) {
	for _, qc := range c.QueryParams {
		ok, err := matchQuery(qc, q)
		if err != nil || !ok {
			return false, err
		}
	}
	if c.TimeRange != nil {
		ok, err := inTimeRange(*c.TimeRange, now)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(c.DaysOfWeek) > 0 {
		ok, err := onDay(c.DaysOfWeek, now.Weekday())
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchQuery(c rules.QueryCondition, q url.Values) (bool, error) {
	vals, present := q[c.Name]
	v := ""
	if len(vals) > 0 {
		v = vals[0]
	}
	switch c.Operator {
	case rules.QueryExists:
		return present, nil
	case rules.QueryNotExists:
		return !present, nil
	case rules.QueryEquals, "":
		return present && v == c.Value, nil
	case rules.QueryContains:
		return present && strings.Contains(v, c.Value), nil
	case rules.QueryRegex:
		re, err := regexCache.get(c.Value)
		if err != nil {
			return false, fmt.Errorf("query condition %s: %w", c.Name, err)
		}
		return present && re.MatchString(v), nil
	default:
		return false, fmt.Errorf("unknown query operator %q", c.Operator)
	}
}

func inTimeRange(tr rules.TimeRange, now time.Time) (bool, error) {
	start, err := clockMinutes(tr.Start)
	if err != nil {
		return false, err
	}
	end, err := clockMinutes(tr.End)
	if err != nil {
		return false, err
	}
	m := now.Hour()*60 + now.Minute()
	if start <= end {
		return m >= start && m <= end, nil
	}
	return m >= start || m <= end, nil
}

func clockMinutes(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("time range %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func onDay(days []string, today time.Weekday) (bool, error) {
	for _, d := range days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return false, fmt.Errorf("unknown day of week %q", d)
		}
		if wd == today {
			return true, nil
		}
	}
	return false, nil
}
