package rules

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidRule = errors.New("invalid rule")

// Validate checks the fields the engine relies on. It is run on write paths
// only; the matcher tolerates whatever the store hands it.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	switch r.Status {
	case StatusDraft, StatusActive, StatusInactive, StatusTesting:
	default:
		return fmt.Errorf("%w: rule %s: unknown status %q", ErrInvalidRule, r.ID, r.Status)
	}
	if r.Priority < 0 || r.Priority > 100 {
		return fmt.Errorf("%w: rule %s: priority %d outside 0-100", ErrInvalidRule, r.ID, r.Priority)
	}
	switch r.Targeting.MatchType {
	case MatchExact, MatchContains, MatchStartsWith, MatchEndsWith, MatchAll:
	case MatchRegex:
		if _, err := regexp.Compile(r.Targeting.URLPattern); err != nil {
			return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
		}
	default:
		return fmt.Errorf("%w: rule %s: unknown match type %q", ErrInvalidRule, r.ID, r.Targeting.MatchType)
	}
	for _, d := range r.Targeting.Devices {
		switch d {
		case DeviceDesktop, DeviceMobile, DeviceTablet:
		default:
			return fmt.Errorf("%w: rule %s: unknown device %q", ErrInvalidRule, r.ID, d)
		}
	}
	if r.ABTesting != nil {
		seen := map[string]bool{}
		for _, v := range r.ABTesting.Variants {
			if v.Name == "" {
				return fmt.Errorf("%w: rule %s: unnamed variant", ErrInvalidRule, r.ID)
			}
			if seen[v.Name] {
				return fmt.Errorf("%w: rule %s: duplicate variant %q", ErrInvalidRule, r.ID, v.Name)
			}
			if v.Percentage < 0 {
				return fmt.Errorf("%w: rule %s: negative percentage for %q", ErrInvalidRule, r.ID, v.Name)
			}
			seen[v.Name] = true
		}
	}
	return nil
}
