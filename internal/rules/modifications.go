package rules

// Kind identifies one tag-kind mutator.
type Kind string

const (
	KindTitle            Kind = "title"
	KindMetaDescription  Kind = "metaDescription"
	KindMetaKeywords     Kind = "metaKeywords"
	KindH1               Kind = "h1"
	KindHeadings         Kind = "headings"
	KindOpenGraph        Kind = "openGraph"
	KindTwitterCard      Kind = "twitterCard"
	KindCanonical        Kind = "canonical"
	KindRobots           Kind = "robots"
	KindHreflang         Kind = "hreflang"
	KindStructuredData   Kind = "structuredData"
	KindContentInjection Kind = "contentInjection"
	KindImageAlt         Kind = "imageAlt"
	KindInternalLinks    Kind = "internalLinks"
)

// CanonicalOrder is the order mutators run in within one rule, independent
// of how the modifications were declared.
var CanonicalOrder = []Kind{
	KindTitle,
	KindMetaDescription,
	KindMetaKeywords,
	KindH1,
	KindHeadings,
	KindOpenGraph,
	KindTwitterCard,
	KindCanonical,
	KindRobots,
	KindHreflang,
	KindStructuredData,
	KindContentInjection,
	KindImageAlt,
	KindInternalLinks,
}

type Action string

const (
	ActionReplace         Action = "replace"
	ActionReplaceAll      Action = "replace_all"
	ActionPrepend         Action = "prepend"
	ActionAppend          Action = "append"
	ActionTemplate        Action = "template"
	ActionSet             Action = "set"
	ActionUpdate          Action = "update"
	ActionRemove          Action = "remove"
	ActionAdd             Action = "add"
	ActionInjectIfMissing Action = "inject_if_missing"
	ActionBefore          Action = "before"
	ActionAfter           Action = "after"
)

// Modifications is the closed set of per-kind specs. A nil or disabled entry
// is a no-op.
type Modifications struct {
	Title            *TextSpec             `json:"title,omitempty" yaml:"title,omitempty"`
	MetaDescription  *TextSpec             `json:"metaDescription,omitempty" yaml:"metaDescription,omitempty"`
	MetaKeywords     *KeywordsSpec         `json:"metaKeywords,omitempty" yaml:"metaKeywords,omitempty"`
	H1               *H1Spec               `json:"h1,omitempty" yaml:"h1,omitempty"`
	Headings         *HeadingsSpec         `json:"headings,omitempty" yaml:"headings,omitempty"`
	OpenGraph        *MetaTagsSpec         `json:"openGraph,omitempty" yaml:"openGraph,omitempty"`
	TwitterCard      *MetaTagsSpec         `json:"twitterCard,omitempty" yaml:"twitterCard,omitempty"`
	Canonical        *CanonicalSpec        `json:"canonical,omitempty" yaml:"canonical,omitempty"`
	Robots           *RobotsSpec           `json:"robots,omitempty" yaml:"robots,omitempty"`
	Hreflang         *HreflangSpec         `json:"hreflang,omitempty" yaml:"hreflang,omitempty"`
	StructuredData   *StructuredDataSpec   `json:"structuredData,omitempty" yaml:"structuredData,omitempty"`
	ContentInjection *ContentInjectionSpec `json:"contentInjection,omitempty" yaml:"contentInjection,omitempty"`
	ImageAlt         *ImageAltSpec         `json:"imageAlt,omitempty" yaml:"imageAlt,omitempty"`
	InternalLinks    *InternalLinksSpec    `json:"internalLinks,omitempty" yaml:"internalLinks,omitempty"`
}

// Enabled reports whether the modification for kind is present and switched on.
func (m *Modifications) Enabled(kind Kind) bool {
	switch kind {
	case KindTitle:
		return m.Title != nil && m.Title.Enabled
	case KindMetaDescription:
		return m.MetaDescription != nil && m.MetaDescription.Enabled
	case KindMetaKeywords:
		return m.MetaKeywords != nil && m.MetaKeywords.Enabled
	case KindH1:
		return m.H1 != nil && m.H1.Enabled
	case KindHeadings:
		return m.Headings != nil && m.Headings.Enabled
	case KindOpenGraph:
		return m.OpenGraph != nil && m.OpenGraph.Enabled
	case KindTwitterCard:
		return m.TwitterCard != nil && m.TwitterCard.Enabled
	case KindCanonical:
		return m.Canonical != nil && m.Canonical.Enabled
	case KindRobots:
		return m.Robots != nil && m.Robots.Enabled
	case KindHreflang:
		return m.Hreflang != nil && m.Hreflang.Enabled
	case KindStructuredData:
		return m.StructuredData != nil && m.StructuredData.Enabled
	case KindContentInjection:
		return m.ContentInjection != nil && m.ContentInjection.Enabled
	case KindImageAlt:
		return m.ImageAlt != nil && m.ImageAlt.Enabled
	case KindInternalLinks:
		return m.InternalLinks != nil && m.InternalLinks.Enabled
	default:
		return false
	}
}

// EnabledKinds lists enabled kinds in canonical order.
func (m *Modifications) EnabledKinds() []Kind {
	var out []Kind
	for _, k := range CanonicalOrder {
		if m.Enabled(k) {
			out = append(out, k)
		}
	}
	return out
}

// TextSpec drives title and meta description.
type TextSpec struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Action    Action `json:"action" yaml:"action"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Template  string `json:"template,omitempty" yaml:"template,omitempty"`
	MaxLength int    `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

type KeywordsSpec struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Action    Action   `json:"action" yaml:"action"`
	Value     string   `json:"value,omitempty" yaml:"value,omitempty"`
	Keywords  []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Template  string   `json:"template,omitempty" yaml:"template,omitempty"`
	MaxLength int      `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

type H1Spec struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Action   Action `json:"action" yaml:"action"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	// Anchor is where inject_if_missing places the new heading.
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

type HeadingsSpec struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Items   []HeadingItem `json:"items" yaml:"items"`
}

type HeadingItem struct {
	Level    int    `json:"level" yaml:"level"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	First    bool   `json:"first,omitempty" yaml:"first,omitempty"`
	Action   Action `json:"action" yaml:"action"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// MetaTagsSpec upserts Open Graph (property=) or Twitter Card (name=) tags.
type MetaTagsSpec struct {
	Enabled bool      `json:"enabled" yaml:"enabled"`
	Tags    []MetaTag `json:"tags" yaml:"tags"`
}

type MetaTag struct {
	Key     string `json:"key" yaml:"key"`
	Content string `json:"content" yaml:"content"`
}

type CanonicalSpec struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Action  Action `json:"action" yaml:"action"`
	// URL empty means the current page URL without its query string.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

type RobotsSpec struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Directives []string `json:"directives" yaml:"directives"`
}

type HreflangSpec struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Links   []HreflangLink `json:"links" yaml:"links"`
}

type HreflangLink struct {
	Lang string `json:"lang" yaml:"lang"`
	URL  string `json:"url" yaml:"url"`
}

type StructuredDataSpec struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Schemas []SchemaEntry `json:"schemas" yaml:"schemas"`
}

// SchemaEntry is either a typed property bag or a raw JSON-LD document.
type SchemaEntry struct {
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	JSON       string         `json:"json,omitempty" yaml:"json,omitempty"`
}

type Position string

const (
	PositionBeforeHeading Position = "before_heading"
	PositionAfterHeading  Position = "after_heading"
	PositionMainStart     Position = "main_start"
	PositionMainEnd       Position = "main_end"
	PositionFooter        Position = "footer"
	PositionSidebar       Position = "sidebar"
	PositionCustom        Position = "custom"
)

type ContentInjectionSpec struct {
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Blocks  []InjectionBlock `json:"blocks" yaml:"blocks"`
}

type InjectionBlock struct {
	Position Position `json:"position" yaml:"position"`
	Selector string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	Method   Action   `json:"method,omitempty" yaml:"method,omitempty"`
	HTML     string   `json:"html" yaml:"html"`
	Hidden   bool     `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

type ImageAltSpec struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Selector    string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Action      Action `json:"action" yaml:"action"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Template    string `json:"template,omitempty" yaml:"template,omitempty"`
	OnlyMissing bool   `json:"onlyMissing,omitempty" yaml:"onlyMissing,omitempty"`
}

type InternalLinksSpec struct {
	Enabled  bool       `json:"enabled" yaml:"enabled"`
	Selector string     `json:"selector,omitempty" yaml:"selector,omitempty"`
	Links    []LinkRule `json:"links" yaml:"links"`
}

type LinkRule struct {
	Keyword        string `json:"keyword" yaml:"keyword"`
	URL            string `json:"url" yaml:"url"`
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	MaxOccurrences int    `json:"maxOccurrences,omitempty" yaml:"maxOccurrences,omitempty"`
	CaseSensitive  bool   `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}
