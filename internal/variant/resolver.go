package variant

import (
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/rules"
)

// Resolver assigns A/B variants and keeps the assignment stable for the
// lifetime of a visitor session.
type Resolver struct {
	sessions Sessions
	mu       sync.Mutex
	draw     func() float64 // uniform in [0,100)
}

func NewResolver(sessions Sessions) *Resolver {
	return &Resolver{
		sessions: sessions,
		draw:     func() float64 { return rand.Float64() * 100 },
	}
}

// WithDraw replaces the random source; used by tests.
func (r *Resolver) WithDraw(fn func() float64) *Resolver {
	r.draw = fn
	return r
}

// Resolve returns the modifications to apply for rule in sessionID and the
// chosen variant name, "" meaning the base rule.
func (r *Resolver) Resolve(rule *rules.Rule, sessionID string) (rules.Modifications, string) {
	ab := rule.ABTesting
	if ab == nil || !ab.Enabled || len(ab.Variants) == 0 {
		return rule.Modifications, ""
	}

	// get, draw and set must not interleave for one session
	r.mu.Lock()
	defer r.mu.Unlock()

	store := r.sessions.Session(sessionID)
	key := KeyFor(rule.ID)
	if name, ok := store.Get(key); ok {
		if name == "" {
			return rule.Modifications, ""
		}
		if v := findVariant(ab.Variants, name); v != nil {
			return v.Modifications, v.Name
		}
		log.Debug().Str("rule_id", rule.ID).Str("variant", name).Msg("persisted variant no longer exists; redrawing")
	}

	d := r.draw()
	var cum float64
	for i := range ab.Variants {
		v := &ab.Variants[i]
		cum += v.Percentage
		if cum >= d && v.Percentage > 0 {
			store.Set(key, v.Name)
			return v.Modifications, v.Name
		}
	}
	store.Set(key, "")
	return rule.Modifications, ""
}

func findVariant(vs []rules.Variant, name string) *rules.Variant {
	for i := range vs {
		if vs[i].Name == name {
			return &vs[i]
		}
	}
	return nil
}
