package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/observability"
	"seo-rules-engine/internal/rules"
)

// Page is what mutators know about the page view besides the document.
type Page struct {
	URL  string
	Site rules.SiteInfo
	Now  time.Time
}

type mutator func(p *Pipeline, sel *rules.Selection) error

// mutators runs in this order within every rule. Later entries may read
// what earlier ones wrote (an Open Graph template sees the new title).
var mutators = []struct {
	kind  rules.Kind
	apply mutator
}{
	{rules.KindTitle, mutateTitle},
	{rules.KindMetaDescription, mutateMetaDescription},
	{rules.KindMetaKeywords, mutateMetaKeywords},
	{rules.KindH1, mutateH1},
	{rules.KindHeadings, mutateHeadings},
	{rules.KindOpenGraph, mutateOpenGraph},
	{rules.KindTwitterCard, mutateTwitterCard},
	{rules.KindCanonical, mutateCanonical},
	{rules.KindRobots, mutateRobots},
	{rules.KindHreflang, mutateHreflang},
	{rules.KindStructuredData, mutateStructuredData},
	{rules.KindContentInjection, mutateContentInjection},
	{rules.KindImageAlt, mutateImageAlt},
	{rules.KindInternalLinks, mutateInternalLinks},
}

// Pipeline applies selected rules to one document. It is not safe for
// concurrent use; one page view owns one Pipeline.
type Pipeline struct {
	doc  *Document
	page Page
	snap *Snapshot
	// owner maps a scalar kind to the rule that overwrote it first.
	owner map[rules.Kind]string
}

func New(doc *Document, page Page) *Pipeline {
	if page.Now.IsZero() {
		page.Now = time.Now()
	}
	return &Pipeline{doc: doc, page: page, snap: NewSnapshot(), owner: map[rules.Kind]string{}}
}

func (p *Pipeline) Snapshot() *Snapshot { return p.snap }

func (p *Pipeline) Document() *Document { return p.doc }

// Apply runs every selection in the given order and returns one record per
// selection. A failing mutator is logged and recorded, never propagated.
func (p *Pipeline) Apply(selections []rules.Selection) []rules.AppliedRule {
	start := time.Now()
	defer func() { observability.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	out := make([]rules.AppliedRule, 0, len(selections))
	for i := range selections {
		out = append(out, p.applyRule(&selections[i]))
	}
	return out
}

func (p *Pipeline) applyRule(sel *rules.Selection) rules.AppliedRule {
	start := time.Now()
	rec := rules.AppliedRule{RuleID: sel.Rule.ID, AppliedKinds: []rules.Kind{}}
	if sel.Variant != "" {
		v := sel.Variant
		rec.Variant = &v
	}
	for _, m := range mutators {
		if !sel.Modifications.Enabled(m.kind) {
			continue
		}
		overwrite := overwrites(&sel.Modifications, m.kind)
		if owner, ok := p.owner[m.kind]; ok && overwrite && owner != sel.Rule.ID {
			log.Debug().Str("rule_id", sel.Rule.ID).Str("kind", string(m.kind)).Str("owner", owner).Msg("kind already set by higher priority rule")
			observability.MutationsTotal.WithLabelValues(string(m.kind), "shadowed").Inc()
			continue
		}
		if err := p.run(m.apply, sel); err != nil {
			log.Warn().Err(err).Str("rule_id", sel.Rule.ID).Str("kind", string(m.kind)).Msg("mutation failed")
			observability.MutationsTotal.WithLabelValues(string(m.kind), "error").Inc()
			rec.FailedKinds = append(rec.FailedKinds, m.kind)
			continue
		}
		observability.MutationsTotal.WithLabelValues(string(m.kind), "ok").Inc()
		if overwrite {
			if _, ok := p.owner[m.kind]; !ok {
				p.owner[m.kind] = sel.Rule.ID
			}
		}
		rec.AppliedKinds = append(rec.AppliedKinds, m.kind)
	}
	rec.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000
	return rec
}

// overwrites reports whether the action configured for a scalar kind replaces
// the whole value. Such a write by a higher priority rule is final for the
// page view; relative actions (prepend, append, add, remove) still chain.
func overwrites(m *rules.Modifications, kind rules.Kind) bool {
	var a rules.Action
	switch kind {
	case rules.KindTitle:
		a = m.Title.Action
	case rules.KindMetaDescription:
		a = m.MetaDescription.Action
	case rules.KindMetaKeywords:
		a = m.MetaKeywords.Action
	case rules.KindH1:
		a = m.H1.Action
		if a == rules.ActionInjectIfMissing {
			return false
		}
	case rules.KindCanonical, rules.KindRobots:
		return true
	default:
		return false
	}
	switch a {
	case rules.ActionPrepend, rules.ActionAppend, rules.ActionAdd, rules.ActionRemove:
		return false
	}
	return true
}

func (p *Pipeline) run(fn mutator, sel *rules.Selection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutator panic: %v", r)
		}
	}()
	return fn(p, sel)
}

// vars builds the template variables with original bound to the value the
// calling mutator is about to change.
func (p *Pipeline) vars(original string) Vars {
	pageURL := p.page.URL
	if i := strings.IndexAny(pageURL, "?#"); i >= 0 {
		pageURL = pageURL[:i]
	}
	return Vars{
		"original": original,
		"brand":    p.page.Site.Brand,
		"site":     p.page.Site.Key,
		"year":     strconv.Itoa(p.page.Now.Year()),
		"title":    strings.TrimSpace(p.doc.Find("title").First().Text()),
		"url":      pageURL,
		"path":     matcher.NormalizePath(p.page.URL),
	}
}

// compose computes a new text value from original for the shared
// replace/prepend/append/template actions.
func (p *Pipeline) compose(action rules.Action, value, tmpl, original string, vars Vars) (string, error) {
	switch action {
	case rules.ActionReplace, rules.ActionReplaceAll, rules.ActionSet, "":
		return value, nil
	case rules.ActionPrepend:
		return value + original, nil
	case rules.ActionAppend:
		return original + value, nil
	case rules.ActionTemplate:
		if vars == nil {
			vars = p.vars(original)
		}
		return Render(tmpl, vars)
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}
}
