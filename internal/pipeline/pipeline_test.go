package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"seo-rules-engine/internal/rules"
)

const shoesPage = `<!DOCTYPE html>
<html><head>
<title>Red Shoes</title>
<meta name="description" content="Original description">
<meta name="keywords" content="shoes, red">
<meta property="og:title" content="Old OG">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization"}</script>
<link rel="alternate" hreflang="en" href="https://shop.example/en/shoes">
<link rel="alternate" hreflang="de" href="https://shop.example/de/shoes">
<link rel="alternate" type="application/rss+xml" href="/feed.xml">
</head><body>
<header><nav><a href="/">Home</a></nav></header>
<main>
<h1>Red Shoes</h1>
<p>Our running shoes are great. Running is fun.</p>
<h2>Sizes</h2><h2>Colors</h2>
<img src="/img/red-running_shoe.jpg?w=300">
<img src="/img/box.png" alt="kept">
</main>
<footer>footer</footer>
</body></html>`

const pageURL = "https://shop.example/shoes?color=red"

func selection(id string, priority int, m rules.Modifications) rules.Selection {
	return rules.Selection{
		Rule:          &rules.Rule{ID: id, Priority: priority, Status: rules.StatusActive},
		Modifications: m,
	}
}

func run(t *testing.T, src string, sels ...rules.Selection) (*Pipeline, []rules.AppliedRule) {
	t.Helper()
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	p := New(doc, Page{
		URL:  pageURL,
		Site: rules.SiteInfo{Key: "acme", Brand: "Acme"},
		Now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	return p, p.Apply(sels)
}

func text(m rules.Action, v string) *rules.TextSpec {
	return &rules.TextSpec{Enabled: true, Action: m, Value: v}
}

func metaContent(p *Pipeline, attr, key string) string {
	v, _ := p.doc.metaBy(attr, key).First().Attr("content")
	return v
}

func TestMutatorTableFollowsCanonicalOrder(t *testing.T) {
	kinds := make([]rules.Kind, len(mutators))
	for i, m := range mutators {
		kinds[i] = m.kind
	}
	assert.Equal(t, rules.CanonicalOrder, kinds)
}

func TestTitleTemplateScenario(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r1", 50, rules.Modifications{
		Title: &rules.TextSpec{Enabled: true, Action: rules.ActionTemplate, Template: "{original} | {brand}", MaxLength: 60},
	}))

	got := p.doc.Find("title").Text()
	assert.Equal(t, "Red Shoes | Acme", got)
	assert.LessOrEqual(t, len([]rune(got)), 60)
	require.Len(t, applied, 1)
	assert.Equal(t, []rules.Kind{rules.KindTitle}, applied[0].AppliedKinds)
	assert.True(t, applied[0].Succeeded())
	assert.Nil(t, applied[0].Variant)
}

func TestTitleMaxLengthTruncates(t *testing.T) {
	p, _ := run(t, shoesPage, selection("r1", 50, rules.Modifications{
		Title: &rules.TextSpec{Enabled: true, Action: rules.ActionReplace, Value: "The best red running shoes in town", MaxLength: 12},
	}))
	assert.Equal(t, "The best ...", p.doc.Find("title").Text())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcde...", Truncate("abcdefghij", 8))
	assert.Equal(t, "hé...", Truncate("héllo wörld", 5))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}

func TestRender(t *testing.T) {
	out, err := Render("{original} | {brand} {year} {unknown}", Vars{"original": "A", "brand": "B", "year": "2026"})
	require.NoError(t, err)
	assert.Equal(t, "A | B 2026 {unknown}", out)

	_, err = Render("{original", Vars{})
	assert.Error(t, err)
}

func TestSnapshotKeepsPrePipelineTitle(t *testing.T) {
	p, applied := run(t, shoesPage,
		selection("first", 90, rules.Modifications{Title: text(rules.ActionReplace, "First")}),
		selection("second", 50, rules.Modifications{Title: text(rules.ActionAppend, " | Two")}),
	)
	assert.Equal(t, "First | Two", p.doc.Find("title").Text())

	o, ok := p.Snapshot().Get(rules.KindTitle)
	require.True(t, ok)
	assert.Equal(t, Original{Value: "Red Shoes", Present: true}, o)
	assert.Equal(t, []rules.Kind{rules.KindTitle}, applied[1].AppliedKinds)
}

func TestHigherPriorityReplaceWins(t *testing.T) {
	p, applied := run(t, shoesPage,
		selection("p80", 80, rules.Modifications{MetaDescription: text(rules.ActionReplace, "from 80")}),
		selection("p20", 20, rules.Modifications{MetaDescription: text(rules.ActionReplace, "from 20")}),
	)
	assert.Equal(t, "from 80", metaContent(p, "name", "description"))
	o, _ := p.Snapshot().Get(rules.KindMetaDescription)
	assert.Equal(t, "Original description", o.Value)
	assert.Empty(t, applied[1].AppliedKinds)
	assert.Empty(t, applied[1].FailedKinds)
}

func TestMetaDescriptionCreatedWhenMissing(t *testing.T) {
	p, _ := run(t, `<html><head><title>x</title></head><body></body></html>`,
		selection("r", 1, rules.Modifications{MetaDescription: text(rules.ActionPrepend, "New")}))
	assert.Equal(t, "New", metaContent(p, "name", "description"))
	o, _ := p.Snapshot().Get(rules.KindMetaDescription)
	assert.False(t, o.Present)
}

func TestMetaKeywordsSetOperations(t *testing.T) {
	p, _ := run(t, shoesPage, selection("r", 1, rules.Modifications{
		MetaKeywords: &rules.KeywordsSpec{Enabled: true, Action: rules.ActionAdd, Keywords: []string{"Red", "sale"}},
	}))
	assert.Equal(t, "shoes, red, sale", metaContent(p, "name", "keywords"))

	p, _ = run(t, shoesPage, selection("r", 1, rules.Modifications{
		MetaKeywords: &rules.KeywordsSpec{Enabled: true, Action: rules.ActionRemove, Keywords: []string{"RED"}},
	}))
	assert.Equal(t, "shoes", metaContent(p, "name", "keywords"))

	p, _ = run(t, shoesPage, selection("r", 1, rules.Modifications{
		MetaKeywords: &rules.KeywordsSpec{Enabled: true, Action: rules.ActionAppend, Value: "sneakers"},
	}))
	assert.Equal(t, "shoes, red, sneakers", metaContent(p, "name", "keywords"))
}

func TestH1Actions(t *testing.T) {
	const twoH1 = `<html><body><main><h1>One</h1><h1>Two</h1></main></body></html>`
	tests := []struct {
		name string
		spec *rules.H1Spec
		want []string
	}{
		{"replace first", &rules.H1Spec{Enabled: true, Action: rules.ActionReplace, Value: "X"}, []string{"X", "Two"}},
		{"replace all", &rules.H1Spec{Enabled: true, Action: rules.ActionReplaceAll, Value: "X"}, []string{"X", "X"}},
		{"append", &rules.H1Spec{Enabled: true, Action: rules.ActionAppend, Value: "!"}, []string{"One!", "Two!"}},
		{"template", &rules.H1Spec{Enabled: true, Action: rules.ActionTemplate, Template: "{brand}: {original}"}, []string{"Acme: One", "Acme: Two"}},
		{"inject when present is a no-op", &rules.H1Spec{Enabled: true, Action: rules.ActionInjectIfMissing, Value: "New"}, []string{"One", "Two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, applied := run(t, twoH1, selection("r", 1, rules.Modifications{H1: tt.spec}))
			assert.Equal(t, tt.want, p.doc.Find("h1").Map(func(_ int, s *goquery.Selection) string { return s.Text() }))
			assert.True(t, applied[0].Succeeded())
		})
	}
}

func TestH1InjectIfMissing(t *testing.T) {
	p, applied := run(t, `<html><body><main><p>intro</p></main></body></html>`, selection("r", 1, rules.Modifications{
		H1: &rules.H1Spec{Enabled: true, Action: rules.ActionInjectIfMissing, Template: "{brand} shoes"},
	}))
	require.True(t, applied[0].Succeeded())
	first := p.doc.Find("main").Children().First()
	assert.Equal(t, "h1", goquery.NodeName(first))
	assert.Equal(t, "Acme shoes", first.Text())

	p.Snapshot().Revert(p.doc)
	assert.Equal(t, 0, p.doc.Find("h1").Length())
}

func TestHeadings(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{Headings: &rules.HeadingsSpec{Enabled: true, Items: []rules.HeadingItem{
		{Level: 2, First: true, Action: rules.ActionPrepend, Value: "Shoe "},
		{Level: 3, Action: rules.ActionReplace, Value: "missing"},
	}}}))
	assert.Equal(t, []string{"Shoe Sizes", "Colors"}, p.doc.Find("h2").Map(func(_ int, s *goquery.Selection) string { return s.Text() }))
	assert.Equal(t, []rules.Kind{rules.KindHeadings}, applied[0].FailedKinds, "missing h3 target is reported")

	p, _ = run(t, shoesPage, selection("r", 1, rules.Modifications{Headings: &rules.HeadingsSpec{Enabled: true, Items: []rules.HeadingItem{
		{Level: 2, Action: rules.ActionRemove},
	}}}))
	assert.Equal(t, 0, p.doc.Find("h2").Length())
}

func TestOpenGraphUpsertAndTemplateSeesNewTitle(t *testing.T) {
	og := &rules.MetaTagsSpec{Enabled: true, Tags: []rules.MetaTag{
		{Key: "og:title", Content: "{title}"},
		{Key: "description", Content: "Buy at {brand}"},
	}}
	sel := selection("r", 1, rules.Modifications{Title: text(rules.ActionReplace, "New Title"), OpenGraph: og})
	p, _ := run(t, shoesPage, sel)

	assert.Equal(t, 1, p.doc.metaBy("property", "og:title").Length())
	assert.Equal(t, "New Title", metaContent(p, "property", "og:title"))
	assert.Equal(t, "Buy at Acme", metaContent(p, "property", "og:description"))

	// a second pass upserts again rather than duplicating
	p.Apply([]rules.Selection{sel})
	assert.Equal(t, 1, p.doc.metaBy("property", "og:title").Length())
	assert.Equal(t, 1, p.doc.metaBy("property", "og:description").Length())
}

func TestTwitterCard(t *testing.T) {
	p, _ := run(t, shoesPage, selection("r", 1, rules.Modifications{TwitterCard: &rules.MetaTagsSpec{Enabled: true, Tags: []rules.MetaTag{
		{Key: "card", Content: "summary_large_image"},
	}}}))
	assert.Equal(t, "summary_large_image", metaContent(p, "name", "twitter:card"))
}

func TestCanonical(t *testing.T) {
	withCanonical := strings.Replace(shoesPage, "</head>", `<link rel="canonical" href="https://old.example/x"></head>`, 1)
	tests := []struct {
		name  string
		page  string
		spec  *rules.CanonicalSpec
		hrefs []string
	}{
		{"set from page url", shoesPage, &rules.CanonicalSpec{Enabled: true, Action: rules.ActionSet}, []string{"https://shop.example/shoes"}},
		{"set literal replaces", withCanonical, &rules.CanonicalSpec{Enabled: true, Action: rules.ActionSet, URL: "https://shop.example/c"}, []string{"https://shop.example/c"}},
		{"remove", withCanonical, &rules.CanonicalSpec{Enabled: true, Action: rules.ActionRemove}, nil},
		{"update existing", withCanonical, &rules.CanonicalSpec{Enabled: true, Action: rules.ActionUpdate, URL: "https://shop.example/u"}, []string{"https://shop.example/u"}},
		{"update absent is a no-op", shoesPage, &rules.CanonicalSpec{Enabled: true, Action: rules.ActionUpdate, URL: "https://shop.example/u"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, applied := run(t, tt.page, selection("r", 1, rules.Modifications{Canonical: tt.spec}))
			var hrefs []string
			p.doc.linksByRel("canonical").Each(func(_ int, s *goquery.Selection) {
				h, _ := s.Attr("href")
				hrefs = append(hrefs, h)
			})
			assert.Equal(t, tt.hrefs, hrefs)
			assert.True(t, applied[0].Succeeded())
		})
	}
}

func TestRobotsReplacesDirectives(t *testing.T) {
	page := strings.Replace(shoesPage, "</head>", `<meta name="robots" content="index, follow"></head>`, 1)
	p, _ := run(t, page, selection("r", 1, rules.Modifications{Robots: &rules.RobotsSpec{Enabled: true, Directives: []string{"noindex", "nofollow"}}}))
	assert.Equal(t, "noindex, nofollow", metaContent(p, "name", "robots"))

	p.Snapshot().Revert(p.doc)
	assert.Equal(t, "index, follow", metaContent(p, "name", "robots"))
}

func TestHreflangDestructiveReplace(t *testing.T) {
	p, _ := run(t, shoesPage, selection("r", 1, rules.Modifications{Hreflang: &rules.HreflangSpec{Enabled: true, Links: []rules.HreflangLink{
		{Lang: "fr", URL: "https://shop.example/fr/chaussures"},
		{Lang: "x-default", URL: "https://shop.example/shoes"},
	}}}))
	alt := p.doc.linksByRel("alternate")
	langs := alt.Map(func(_ int, s *goquery.Selection) string { v, _ := s.Attr("hreflang"); return v })
	assert.Equal(t, []string{"", "fr", "x-default"}, langs, "rss alternate without hreflang is kept")
}

func TestHreflangInvalidLinkLeavesPageUntouched(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{
		Title: text(rules.ActionReplace, "New title"),
		Hreflang: &rules.HreflangSpec{Enabled: true, Links: []rules.HreflangLink{
			{Lang: "fr", URL: "https://shop.example/fr/chaussures"},
			{Lang: "", URL: "https://shop.example/bad"},
		}},
	}))
	require.Len(t, applied, 1)
	assert.Equal(t, []rules.Kind{rules.KindTitle}, applied[0].AppliedKinds)
	assert.Equal(t, []rules.Kind{rules.KindHreflang}, applied[0].FailedKinds)

	alt := p.doc.linksByRel("alternate")
	langs := alt.Map(func(_ int, s *goquery.Selection) string { v, _ := s.Attr("hreflang"); return v })
	assert.Equal(t, []string{"en", "de", ""}, langs)
	_, recorded := p.Snapshot().Get(rules.KindHreflang)
	assert.False(t, recorded)
}

func TestStructuredDataIsAdditive(t *testing.T) {
	sel := selection("r", 1, rules.Modifications{StructuredData: &rules.StructuredDataSpec{Enabled: true, Schemas: []rules.SchemaEntry{
		{Type: "Product", Properties: map[string]any{"name": "Red Shoe", "offers": map[string]any{"price": "59.00"}}},
		{JSON: `{"@type":"BreadcrumbList","itemListElement":[]}`},
	}}})
	p, applied := run(t, shoesPage, sel)
	require.True(t, applied[0].Succeeded())

	scripts := p.doc.Find(`script[type="application/ld+json"]`)
	require.Equal(t, 3, scripts.Length(), "existing schema is not deduplicated")

	product := scripts.Eq(1).Text()
	assert.Equal(t, "Product", gjson.Get(product, `\@type`).String())
	assert.Equal(t, "https://schema.org", gjson.Get(product, `\@context`).String())
	assert.Equal(t, "59.00", gjson.Get(product, "offers.price").String())
	assert.Equal(t, "https://schema.org", gjson.Get(scripts.Eq(2).Text(), `\@context`).String())

	p.Apply([]rules.Selection{sel})
	assert.Equal(t, 3, p.doc.Find(`script[type="application/ld+json"]`).Length(), "same rule never inserts twice")
}

func TestStructuredDataInvalidJSONFails(t *testing.T) {
	_, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{StructuredData: &rules.StructuredDataSpec{Enabled: true, Schemas: []rules.SchemaEntry{
		{JSON: `{"@type":`},
	}}}))
	assert.Equal(t, []rules.Kind{rules.KindStructuredData}, applied[0].FailedKinds)
}

func TestContentInjection(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{ContentInjection: &rules.ContentInjectionSpec{Enabled: true, Blocks: []rules.InjectionBlock{
		{Position: rules.PositionMainEnd, HTML: "<p>Hidden copy</p>", Hidden: true},
		{Position: rules.PositionBeforeHeading, HTML: "<p>Above</p>"},
		{Position: rules.PositionCustom, Selector: "footer", Method: rules.ActionReplace, HTML: "<span>New footer</span>"},
		{Position: rules.PositionSidebar, HTML: "<p>none</p>"},
	}}}))

	hidden := p.doc.Find("main").Children().Last()
	style, _ := hidden.Attr("style")
	assert.Contains(t, style, "left:-10000px")
	assert.Equal(t, "Hidden copy", hidden.Find("p").Text())

	assert.Equal(t, "Above", p.doc.Find("h1").Prev().Text())
	assert.Equal(t, "New footer", strings.TrimSpace(p.doc.Find("footer").Text()))
	assert.Equal(t, []rules.Kind{rules.KindContentInjection}, applied[0].FailedKinds, "missing sidebar is reported")

	p.Apply([]rules.Selection{selection("r", 1, rules.Modifications{ContentInjection: &rules.ContentInjectionSpec{Enabled: true, Blocks: []rules.InjectionBlock{
		{Position: rules.PositionMainEnd, HTML: "<p>Hidden copy</p>", Hidden: true},
	}}})})
	assert.Equal(t, 1, p.doc.Find(`p:contains("Hidden copy")`).Length())
}

func TestImageAltFilenameTemplate(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{ImageAlt: &rules.ImageAltSpec{
		Enabled: true, Action: rules.ActionTemplate, Template: "{filename} by {brand}", OnlyMissing: true,
	}}))
	require.True(t, applied[0].Succeeded())
	alts := p.doc.Find("img").Map(func(_ int, s *goquery.Selection) string { v, _ := s.Attr("alt"); return v })
	assert.Equal(t, []string{"red running shoe by Acme", "kept"}, alts)
}

func TestFilenameOf(t *testing.T) {
	assert.Equal(t, "red running shoe", filenameOf("https://cdn.example/a/red-running_shoe.jpg?w=1"))
	assert.Equal(t, "logo", filenameOf("logo.svg"))
	assert.Equal(t, "", filenameOf(""))
}

func TestInternalLinks(t *testing.T) {
	links := func(max int) rules.Modifications {
		return rules.Modifications{InternalLinks: &rules.InternalLinksSpec{Enabled: true, Links: []rules.LinkRule{
			{Keyword: "running", URL: "/running", Title: "Running gear", MaxOccurrences: max},
			{Keyword: "shoes", URL: "/shoes"},
		}}}
	}

	p, applied := run(t, shoesPage, selection("r", 1, links(1)))
	require.True(t, applied[0].Succeeded())
	a := p.doc.Find(`main a[href="/running"]`)
	require.Equal(t, 1, a.Length())
	assert.Equal(t, "running", a.Text())
	title, _ := a.Attr("title")
	assert.Equal(t, "Running gear", title)
	assert.Equal(t, 0, p.doc.Find(`a[href="/shoes"]`).Length(), "links to the current page are skipped")
	assert.Equal(t, "Red Shoes", p.doc.Find("h1").Text())

	p, _ = run(t, shoesPage, selection("r", 1, links(2)))
	assert.Equal(t, []string{"running", "Running"}, p.doc.Find(`a[href="/running"]`).Map(func(_ int, s *goquery.Selection) string { return s.Text() }))
	assert.Equal(t, "Our running shoes are great. Running is fun.", p.doc.Find("main p").Text())
}

func TestFailureIsolation(t *testing.T) {
	p, applied := run(t, shoesPage,
		selection("broken", 90, rules.Modifications{
			Title:  &rules.TextSpec{Enabled: true, Action: rules.ActionTemplate, Template: "{original"},
			H1:     &rules.H1Spec{Enabled: true, Action: rules.ActionReplace, Selector: ".nope", Value: "x"},
			Robots: &rules.RobotsSpec{Enabled: true, Directives: []string{"noindex"}},
		}),
		selection("fine", 10, rules.Modifications{MetaDescription: text(rules.ActionReplace, "ok")}),
	)
	require.Len(t, applied, 2)
	assert.Equal(t, []rules.Kind{rules.KindTitle, rules.KindH1}, applied[0].FailedKinds)
	assert.Equal(t, []rules.Kind{rules.KindRobots}, applied[0].AppliedKinds)
	assert.False(t, applied[0].Succeeded())
	assert.Equal(t, "Red Shoes", p.doc.Find("title").Text())
	assert.Equal(t, "ok", metaContent(p, "name", "description"))
	assert.True(t, applied[1].Succeeded())
}

func TestDisabledKindsAreSkipped(t *testing.T) {
	p, applied := run(t, shoesPage, selection("r", 1, rules.Modifications{
		Title: &rules.TextSpec{Enabled: false, Action: rules.ActionReplace, Value: "nope"},
	}))
	assert.Equal(t, "Red Shoes", p.doc.Find("title").Text())
	assert.Empty(t, applied[0].AppliedKinds)
	assert.Equal(t, 0, p.Snapshot().Len())
}

func TestVariantRecorded(t *testing.T) {
	sel := selection("r", 1, rules.Modifications{Title: text(rules.ActionReplace, "B title")})
	sel.Variant = "B"
	_, applied := run(t, shoesPage, sel)
	require.NotNil(t, applied[0].Variant)
	assert.Equal(t, "B", applied[0].VariantName())
}

func TestRevertScalarKinds(t *testing.T) {
	p, _ := run(t, shoesPage, selection("r", 1, rules.Modifications{
		Title:           text(rules.ActionReplace, "Changed"),
		MetaDescription: text(rules.ActionReplace, "Changed"),
		Canonical:       &rules.CanonicalSpec{Enabled: true, Action: rules.ActionSet},
	}))
	p.Snapshot().Revert(p.doc)
	assert.Equal(t, "Red Shoes", p.doc.Find("title").Text())
	assert.Equal(t, "Original description", metaContent(p, "name", "description"))
	assert.Equal(t, 0, p.doc.linksByRel("canonical").Length())
}

func TestRevertH1WithCustomSelector(t *testing.T) {
	const page = `<html><body><h1>Site</h1><main><h1 class="product">Old</h1></main></body></html>`
	p, applied := run(t, page, selection("r", 1, rules.Modifications{
		H1: &rules.H1Spec{Enabled: true, Action: rules.ActionReplace, Selector: "h1.product", Value: "New"},
	}))
	require.Equal(t, []rules.Kind{rules.KindH1}, applied[0].AppliedKinds)
	assert.Equal(t, "New", p.doc.Find("h1.product").Text())

	p.Snapshot().Revert(p.doc)
	assert.Equal(t, "Site", p.doc.Find("h1").First().Text())
	assert.Equal(t, "Old", p.doc.Find("h1.product").Text())
}

func TestParseRender(t *testing.T) {
	doc, err := Parse([]byte(shoesPage))
	require.NoError(t, err)
	out, err := doc.Render()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<!DOCTYPE html>"))
	assert.Contains(t, string(out), "<title>Red Shoes</title>")
}
