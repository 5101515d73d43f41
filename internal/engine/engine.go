package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/cache"
	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/observability"
	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/storage"
)

// Loader is the store read the engine rebuilds from.
type Loader interface {
	LoadActiveRules(ctx context.Context) ([]storage.SiteRules, error)
}

// DeliveryEngine exposes read-only, lock-free match operations.
type DeliveryEngine struct {
	snap cache.Snapshot[snapshot]
	now  func() time.Time
}

func NewEngine() *DeliveryEngine { return &DeliveryEngine{now: time.Now} }

// BuildSnapshot loads active rules for every site and builds inverted indexes.
// On error the previous snapshot stays in place.
func (e *DeliveryEngine) BuildSnapshot(ctx context.Context, st Loader) error {
	rows, err := st.LoadActiveRules(ctx)
	if err != nil {
		return err
	}
	s := snapshot{sites: make(map[string]*siteIndex, len(rows))}
	for _, sr := range rows {
		s.sites[sr.Site.Key] = buildIndex(sr)
		s.total += len(sr.Rules)
	}
	e.snap.Store(s)
	observability.SnapshotRules.Set(float64(s.total))
	log.Debug().Int("sites", len(s.sites)).Int("rules", s.total).Msg("snapshot built")
	return nil
}

func buildIndex(sr storage.SiteRules) *siteIndex {
	ix := &siteIndex{
		site:      sr.Site,
		rules:     sr.Rules,
		incDevice: map[rules.Device][]int{},
		incLang:   map[string][]int{},
	}
	for i, r := range sr.Rules {
		t := r.Targeting
		if len(t.Devices) == 0 {
			ix.agnosticDevice = append(ix.agnosticDevice, i)
		}
		for _, d := range t.Devices {
			k := rules.Device(strings.ToLower(string(d)))
			ix.incDevice[k] = append(ix.incDevice[k], i)
		}
		if len(t.Languages) == 0 {
			ix.agnosticLang = append(ix.agnosticLang, i)
		}
		for _, l := range t.Languages {
			k := strings.ToLower(l)
			ix.incLang[k] = append(ix.incLang[k], i)
		}
	}
	return ix
}

// Site returns the site registered under key in the current snapshot.
func (e *DeliveryEngine) Site(key string) (storage.Site, bool) {
	s, _ := e.snap.Load()
	ix, ok := s.sites[key]
	if !ok {
		return storage.Site{}, false
	}
	return ix.site, true
}

// Match returns the site's rules that pass the matcher right now, in creation
// order. Agents re-validate on their side.
func (e *DeliveryEngine) Match(_ context.Context, req MatchRequest) (rules.Batch, error) {
	s, _ := e.snap.Load()
	ix, ok := s.sites[req.SiteKey]
	if !ok {
		return rules.Batch{}, ErrUnknownSite
	}
	batch := rules.Batch{Site: rules.SiteInfo{Key: ix.site.Key, Brand: ix.site.Brand}}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	device := rules.Device(strings.ToLower(string(req.Device)))

	cand := newSet(ix.incDevice[device], ix.agnosticDevice)
	langs := []int{}
	if lang != "" {
		primary, _, _ := strings.Cut(lang, "-")
		langs = append(langs, ix.incLang[lang]...)
		if primary != lang {
			langs = append(langs, ix.incLang[primary]...)
		}
	}
	cand = cand.intersect(newSet(langs, ix.agnosticLang))

	c := matcher.Context{URL: req.URL, Language: req.Language, Device: req.Device, Now: e.now()}
	for _, i := range cand.list() {
		r := &ix.rules[i]
		if matcher.Matches(r, c) {
			batch.Rules = append(batch.Rules, *r)
		}
	}
	return batch, nil
}

type set map[int]struct{}

func newSet(slices ...[]int) set {
	s := set{}
	for _, sl := range slices {
		for _, v := range sl {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) intersect(other set) set {
	res := set{}
	for k := range s {
		if _, ok := other[k]; ok {
			res[k] = struct{}{}
		}
	}
	return res
}

// list returns members in ascending order, which is creation order.
func (s set) list() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
