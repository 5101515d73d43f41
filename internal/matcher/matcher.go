package matcher

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/rules"
)

// Context is the request side of a match.
type Context struct {
	URL      string
	Language string
	Device   rules.Device
	Now      time.Time
	Query    url.Values // parsed from URL when nil
}

// Matches reports whether rule applies to c. It never panics; any failure
// while evaluating one rule counts as a non-match for that rule only.
func Matches(rule *rules.Rule, c Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("rule_id", rule.ID).Interface("panic", r).Msg("rule evaluation panicked")
			ok = false
		}
	}()
	ok, err := evaluate(rule, c)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.ID).Msg("rule evaluation failed")
		return false
	}
	return ok
}

func evaluate(rule *rules.Rule, c Context) (bool, error) {
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	live, err := IsLive(rule, c.Now)
	if err != nil || !live {
		return false, err
	}
	t := rule.Targeting
	ok, err := MatchURL(t.MatchType, t.URLPattern, c.URL)
	if err != nil || !ok {
		return false, err
	}
	if !matchLanguage(t.Languages, c.Language) || !matchDevice(t.Devices, c.Device) {
		return false, nil
	}
	if t.Conditions == nil {
		return true, nil
	}
	if c.Query == nil {
		c.Query = queryOf(c.URL)
	}
	loc := time.UTC
	if rule.Schedule != nil && rule.Schedule.Timezone != "" {
		if loc, err = time.LoadLocation(rule.Schedule.Timezone); err != nil {
			return false, fmt.Errorf("schedule timezone: %w", err)
		}
	} else if c.Now.Location() != nil {
		loc = c.Now.Location()
	}
	return matchConditions(t.Conditions, c.Query, c.Now.In(loc))
}

// IsLive reports status=active with an open (or absent) schedule window.
func IsLive(rule *rules.Rule, now time.Time) (bool, error) {
	if rule.Status != rules.StatusActive {
		return false, nil
	}
	s := rule.Schedule
	if s == nil || !s.Enabled {
		return true, nil
	}
	loc := time.UTC
	if s.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return false, fmt.Errorf("schedule timezone: %w", err)
		}
	}
	if s.StartDate != "" {
		start, _, err := parseDate(s.StartDate, loc)
		if err != nil {
			return false, fmt.Errorf("schedule start: %w", err)
		}
		if now.Before(start) {
			return false, nil
		}
	}
	if s.EndDate != "" {
		end, dateOnly, err := parseDate(s.EndDate, loc)
		if err != nil {
			return false, fmt.Errorf("schedule end: %w", err)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		if now.After(end) {
			return false, nil
		}
	}
	return true, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseDate(v string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, false, nil
		}
	}
	t, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unrecognized date %q", v)
	}
	return t, true, nil
}

// NormalizePath strips query and fragment and reduces absolute URLs to their
// path. A "://" only starts a scheme when no "/" comes before it, so paths
// that embed a URL are kept whole.
func NormalizePath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "://"); i >= 0 && strings.IndexByte(raw, '/') == i+1 {
		rest := raw[i+3:]
		j := strings.IndexByte(rest, '/')
		if j < 0 {
			return "/"
		}
		return rest[j:]
	}
	return raw
}

// MatchURL compares the normalized path of rawURL against pattern. For the
// contains, starts_with and ends_with types a literal "*" in the pattern is
// dropped rather than expanded as a glob.
func MatchURL(mt rules.MatchType, pattern, rawURL string) (bool, error) {
	path := NormalizePath(rawURL)
	switch mt {
	case rules.MatchAll:
		return true, nil
	case rules.MatchExact:
		return path == pattern, nil
	case rules.MatchContains:
		return strings.Contains(path, stripWildcards(pattern)), nil
	case rules.MatchStartsWith:
		return strings.HasPrefix(path, stripWildcards(pattern)), nil
	case rules.MatchEndsWith:
		return strings.HasSuffix(path, stripWildcards(pattern)), nil
	case rules.MatchRegex:
		re, err := regexCache.get(pattern)
		if err != nil {
			return false, fmt.Errorf("url pattern: %w", err)
		}
		return re.MatchString(path), nil
	default:
		return false, fmt.Errorf("unknown match type %q", mt)
	}
}

func stripWildcards(p string) string { return strings.ReplaceAll(p, "*", "") }

func matchLanguage(langs []string, lang string) bool {
	if len(langs) == 0 {
		return true
	}
	if lang == "" {
		return false
	}
	primary, _, _ := strings.Cut(lang, "-")
	for _, l := range langs {
		if strings.EqualFold(l, lang) || strings.EqualFold(l, primary) {
			return true
		}
	}
	return false
}

func matchDevice(devices []rules.Device, d rules.Device) bool {
	if len(devices) == 0 {
		return true
	}
	for _, v := range devices {
		if strings.EqualFold(string(v), string(d)) {
			return true
		}
	}
	return false
}

func queryOf(raw string) url.Values {
	i := strings.IndexByte(raw, '?')
	if i < 0 {
		return url.Values{}
	}
	q := raw[i+1:]
	if j := strings.IndexByte(q, '#'); j >= 0 {
		q = q[:j]
	}
	v, err := url.ParseQuery(q)
	if err != nil {
		return url.Values{}
	}
	return v
}
