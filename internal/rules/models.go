package rules

import (
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
)

type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchEndsWith   MatchType = "ends_with"
	MatchRegex      MatchType = "regex"
	MatchAll        MatchType = "all"
)

type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
)

// Rule is the unit of configuration. SiteID and OrganizationID scope every
// store read and write.
type Rule struct {
	ID             string        `json:"id" yaml:"id"`
	SiteID         string        `json:"siteId,omitempty" yaml:"-"`
	OrganizationID string        `json:"organizationId,omitempty" yaml:"-"`
	Name           string        `json:"name" yaml:"name"`
	Description    string        `json:"description,omitempty" yaml:"description,omitempty"`
	Targeting      Targeting     `json:"targeting" yaml:"targeting"`
	Modifications  Modifications `json:"modifications" yaml:"modifications"`
	Status         Status        `json:"status" yaml:"status"`
	Priority       int           `json:"priority" yaml:"priority"`
	ABTesting      *ABTesting    `json:"abTesting,omitempty" yaml:"abTesting,omitempty"`
	Schedule       *Schedule     `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Stats          Stats         `json:"stats" yaml:"-"`
	CreatedAt      time.Time     `json:"createdAt" yaml:"createdAt,omitempty"`
}

type Targeting struct {
	MatchType  MatchType   `json:"matchType" yaml:"matchType"`
	URLPattern string      `json:"urlPattern" yaml:"urlPattern"`
	Languages  []string    `json:"languages,omitempty" yaml:"languages,omitempty"`
	Devices    []Device    `json:"devices,omitempty" yaml:"devices,omitempty"`
	Conditions *Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Conditions are extra predicates AND-combined with the URL match.
type Conditions struct {
	QueryParams []QueryCondition `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
	TimeRange   *TimeRange       `json:"timeRange,omitempty" yaml:"timeRange,omitempty"`
	DaysOfWeek  []string         `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty"`
}

type QueryOperator string

const (
	QueryEquals    QueryOperator = "equals"
	QueryContains  QueryOperator = "contains"
	QueryExists    QueryOperator = "exists"
	QueryNotExists QueryOperator = "not_exists"
	QueryRegex     QueryOperator = "regex"
)

type QueryCondition struct {
	Name     string        `json:"name" yaml:"name"`
	Operator QueryOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    string        `json:"value,omitempty" yaml:"value,omitempty"`
}

// TimeRange is a wall-clock window in "HH:MM". Start after End wraps midnight.
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Schedule dates are RFC 3339 or naive dates/datetimes read in Timezone.
type Schedule struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	StartDate string `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Timezone  string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

type ABTesting struct {
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	Variants []Variant `json:"variants" yaml:"variants"`
}

type Variant struct {
	Name          string        `json:"name" yaml:"name"`
	Percentage    float64       `json:"percentage" yaml:"percentage"`
	Modifications Modifications `json:"modifications" yaml:"modifications"`
}

type Stats struct {
	Impressions int64      `json:"impressions"`
	LastApplied *time.Time `json:"lastApplied,omitempty"`
	SuccessRate float64    `json:"successRate"`
}

// Selection is a matched rule with its variant already resolved.
type Selection struct {
	Rule          *Rule
	Modifications Modifications
	Variant       string
}

// AppliedRule is the per page view record of one processed rule.
type AppliedRule struct {
	RuleID       string  `json:"ruleId"`
	Variant      *string `json:"variantName"`
	AppliedKinds []Kind  `json:"appliedTagKinds"`
	FailedKinds  []Kind  `json:"failedTagKinds,omitempty"`
	ElapsedMs    float64 `json:"elapsedMs"`
}

// Succeeded reports whether every touched kind mutated without error.
func (a AppliedRule) Succeeded() bool { return len(a.FailedKinds) == 0 }

// VariantName returns the resolved variant or "" for the base rule.
func (a AppliedRule) VariantName() string {
	if a.Variant == nil {
		return ""
	}
	return *a.Variant
}

// SiteInfo is the public part of a site sent along with its rules.
type SiteInfo struct {
	Key   string `json:"key"`
	Brand string `json:"brand,omitempty"`
}

// Batch is the Rule Store read result for one page.
type Batch struct {
	Site  SiteInfo `json:"site"`
	Rules []Rule   `json:"rules"`
}
