package engine

import (
	"errors"

	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/storage"
)

var ErrUnknownSite = errors.New("unknown site")

type MatchRequest struct {
	SiteKey  string
	URL      string
	Language string // lower-cased at handler
	Device   rules.Device
}

// siteIndex narrows a site's rules by device and language before the full
// matcher runs. Values are indexes into rules.
type siteIndex struct {
	site  storage.Site
	rules []rules.Rule // creation order; indexes reference this

	incDevice      map[rules.Device][]int
	agnosticDevice []int
	incLang        map[string][]int
	agnosticLang   []int
}

type snapshot struct {
	sites map[string]*siteIndex
	total int
}
