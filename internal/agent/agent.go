package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/pipeline"
	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/selector"
	"seo-rules-engine/internal/telemetry"
)

var ErrMissingSiteKey = errors.New("agent: site key is required")

// Recorder accepts impressions without blocking.
type Recorder interface {
	Record(imp telemetry.Impression) bool
}

type Options struct {
	SiteKey string
	Debug   bool
}

// Page is one HTML document being served to one visitor.
type Page struct {
	URL       string
	HTML      []byte
	Language  string
	Device    rules.Device
	SessionID string
}

type Result struct {
	HTML     []byte
	Changed  bool
	Applied  []rules.AppliedRule
	Snapshot *pipeline.Snapshot
}

// Agent runs the selection, mutation and reporting steps for a page view.
type Agent struct {
	siteKey  string
	debug    bool
	selector *selector.Selector
	recorder Recorder
	disabled bool
}

// New builds an agent. Without a site key the agent is disabled: the
// configuration error is logged here and every page passes through.
func New(opts Options, sel *selector.Selector, rec Recorder) *Agent {
	a := &Agent{siteKey: opts.SiteKey, debug: opts.Debug, selector: sel, recorder: rec}
	if opts.SiteKey == "" {
		log.Error().Err(ErrMissingSiteKey).Msg("agent disabled")
		a.disabled = true
	}
	return a
}

func (a *Agent) Enabled() bool { return !a.disabled }

// Process returns the rewritten page. Any failure yields the original bytes.
func (a *Agent) Process(ctx context.Context, page Page) (res Result) {
	res = Result{HTML: page.HTML}
	if a.disabled {
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("url", page.URL).Msg("page processing panicked; serving original")
			res = Result{HTML: page.HTML}
		}
	}()

	now := time.Now()
	picked := a.selector.Select(ctx, a.siteKey, matcher.Context{
		URL:      page.URL,
		Language: page.Language,
		Device:   page.Device,
		Now:      now,
	}, page.SessionID)
	if len(picked.Selections) == 0 {
		return res
	}

	doc, err := pipeline.Parse(page.HTML)
	if err != nil {
		log.Warn().Err(err).Str("url", page.URL).Msg("unparseable page; serving original")
		return res
	}
	site := picked.Site
	if site.Key == "" {
		site.Key = a.siteKey
	}
	p := pipeline.New(doc, pipeline.Page{URL: page.URL, Site: site, Now: now})
	res.Applied = p.Apply(picked.Selections)
	res.Snapshot = p.Snapshot()
	a.report(page.URL, res.Applied)

	if !anyApplied(res.Applied) {
		return res
	}
	out, err := doc.Render()
	if err != nil {
		log.Warn().Err(err).Str("url", page.URL).Msg("render failed; serving original")
		return res
	}
	res.HTML, res.Changed = out, true
	return res
}

func (a *Agent) report(pageURL string, applied []rules.AppliedRule) {
	for _, rec := range applied {
		if a.debug {
			log.Info().
				Str("rule_id", rec.RuleID).
				Str("variant", rec.VariantName()).
				Interface("applied", rec.AppliedKinds).
				Interface("failed", rec.FailedKinds).
				Float64("elapsed_ms", rec.ElapsedMs).
				Msg("rule applied")
		}
		// Fully shadowed rules changed nothing and count as no impression.
		if a.recorder == nil || (len(rec.AppliedKinds) == 0 && len(rec.FailedKinds) == 0) {
			continue
		}
		a.recorder.Record(telemetry.Impression{
			SiteKey:    a.siteKey,
			RuleID:     rec.RuleID,
			URL:        pageURL,
			Variant:    rec.VariantName(),
			LoadTimeMs: rec.ElapsedMs,
			Success:    rec.Succeeded(),
		})
	}
}

func anyApplied(applied []rules.AppliedRule) bool {
	for _, a := range applied {
		if len(a.AppliedKinds) > 0 {
			return true
		}
	}
	return false
}
