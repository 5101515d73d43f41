package selector

import (
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/rules"
)

// Source returns the rules stored for a site. It never fails: any transport
// or decode problem is reported as an empty batch.
type Source interface {
	FetchActiveRules(ctx context.Context, siteKey string, c matcher.Context) rules.Batch
}

// VariantResolver picks the modification set of a rule for one session.
type VariantResolver interface {
	Resolve(rule *rules.Rule, sessionID string) (rules.Modifications, string)
}

// Result is the ordered selection for one page view.
type Result struct {
	Site       rules.SiteInfo
	Selections []rules.Selection
}

type Selector struct {
	src      Source
	resolver VariantResolver
}

func New(src Source, resolver VariantResolver) *Selector {
	return &Selector{src: src, resolver: resolver}
}

// Select fetches, filters and resolves the rules for one page view and orders
// them by priority, highest first. Rules of equal priority keep fetch order.
func (s *Selector) Select(ctx context.Context, siteKey string, c matcher.Context, sessionID string) Result {
	batch := s.src.FetchActiveRules(ctx, siteKey, c)
	res := Result{Site: batch.Site}
	for i := range batch.Rules {
		r := &batch.Rules[i]
		if !matcher.Matches(r, c) {
			continue
		}
		mods, name := s.resolver.Resolve(r, sessionID)
		res.Selections = append(res.Selections, rules.Selection{Rule: r, Modifications: mods, Variant: name})
	}
	SortByPriority(res.Selections)
	log.Debug().Str("site", siteKey).Int("fetched", len(batch.Rules)).Int("selected", len(res.Selections)).Msg("rules selected")
	return res
}

// SortByPriority is a stable descending sort on rule priority.
func SortByPriority(sel []rules.Selection) {
	slices.SortStableFunc(sel, func(a, b rules.Selection) int {
		return cmp.Compare(b.Rule.Priority, a.Rule.Priority)
	})
}
