package storage

import (
	"context"
	"errors"
	"time"

	"seo-rules-engine/internal/rules"
)

var ErrNotFound = errors.New("not found")

// Site is a tenant-owned property rules are attached to. Key is the public
// identifier agents send.
type Site struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organizationId" yaml:"organizationId"`
	Key            string `json:"key" yaml:"key"`
	Brand          string `json:"brand" yaml:"brand"`
}

// SiteRules is one site with its active rules in creation order.
type SiteRules struct {
	Site  Site
	Rules []rules.Rule
}

// Impression is one performance sample for a rule.
type Impression struct {
	RuleID     string
	URL        string
	Variant    string
	LoadTimeMs float64
	Success    bool
}

// Store is the Rule Store. Every read and write is scoped by site and
// organization.
type Store interface {
	LoadActiveRules(ctx context.Context) ([]SiteRules, error)
	RecordImpression(ctx context.Context, siteKey string, imp Impression) error
	UpsertSite(ctx context.Context, site Site) (Site, error)
	UpsertRules(ctx context.Context, site Site, rs []rules.Rule) error
	Rules(ctx context.Context, siteKey string) ([]rules.Rule, error)
	Migrate(ctx context.Context) error
	Close()
}

const queryTimeout = 5 * time.Second

func successRate(impressions, successes int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(successes) / float64(impressions)
}

// createdAt spreads a batch over distinct timestamps so creation order
// survives the round trip.
func createdAt(base time.Time, i int) time.Time {
	return base.Add(time.Duration(i) * time.Microsecond)
}
