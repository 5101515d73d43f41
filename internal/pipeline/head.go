package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"seo-rules-engine/internal/rules"
)

func mutateOpenGraph(p *Pipeline, sel *rules.Selection) error {
	return p.upsertMetaTags(rules.KindOpenGraph, "property", "og:", sel.Modifications.OpenGraph)
}

func mutateTwitterCard(p *Pipeline, sel *rules.Selection) error {
	return p.upsertMetaTags(rules.KindTwitterCard, "name", "twitter:", sel.Modifications.TwitterCard)
}

// upsertMetaTags sets each tag on the first existing <meta attr=key> or
// creates it. Content is a template whose {original} is the existing content.
func (p *Pipeline) upsertMetaTags(kind rules.Kind, attr, prefix string, spec *rules.MetaTagsSpec) error {
	existing := p.doc.Find("meta").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(attr)
		return strings.HasPrefix(strings.ToLower(v), prefix)
	})
	p.snap.Record(kind, outerHTML(existing), existing.Length() > 0)

	var errs []error
	for _, tag := range spec.Tags {
		key := strings.TrimSpace(tag.Key)
		if key == "" {
			errs = append(errs, fmt.Errorf("%s tag without key", kind))
			continue
		}
		if !strings.HasPrefix(strings.ToLower(key), prefix) {
			key = prefix + key
		}
		meta := p.doc.metaBy(attr, key).First()
		original, _ := meta.Attr("content")
		content, err := Render(tag.Content, p.vars(original))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if meta.Length() == 0 {
			p.doc.head().AppendNodes(element("meta", attr, key, "content", content))
			continue
		}
		meta.SetAttr("content", content)
	}
	return errors.Join(errs...)
}

func mutateCanonical(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.Canonical
	links := p.doc.linksByRel("canonical")
	href, _ := links.First().Attr("href")
	target := spec.URL
	if target == "" {
		target = p.vars("")["url"]
	}

	switch spec.Action {
	case rules.ActionSet, "":
		p.snap.Record(rules.KindCanonical, href, links.Length() > 0)
		if links.Length() == 0 {
			p.doc.head().AppendNodes(element("link", "rel", "canonical", "href", target))
			return nil
		}
		links.First().SetAttr("href", target)
		links.Slice(1, links.Length()).Remove()
	case rules.ActionRemove:
		p.snap.Record(rules.KindCanonical, href, links.Length() > 0)
		links.Remove()
	case rules.ActionUpdate:
		if links.Length() == 0 {
			return nil
		}
		p.snap.Record(rules.KindCanonical, href, true)
		links.SetAttr("href", target)
	default:
		return fmt.Errorf("canonical: unsupported action %q", spec.Action)
	}
	return nil
}

func mutateRobots(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.Robots
	var directives []string
	for _, d := range spec.Directives {
		if d = strings.TrimSpace(d); d != "" {
			directives = append(directives, d)
		}
	}
	if len(directives) == 0 {
		return errors.New("robots: no directives")
	}
	return p.setNamedMeta(rules.KindRobots, "robots", func(string) (string, error) {
		return strings.Join(directives, ", "), nil
	})
}

func mutateHreflang(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.Hreflang
	// Every link is checked before the existing alternates are touched.
	for _, l := range spec.Links {
		if l.Lang == "" || l.URL == "" {
			return fmt.Errorf("hreflang link needs lang and url, got %q %q", l.Lang, l.URL)
		}
	}
	existing := p.doc.linksByRel("alternate").FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, ok := s.Attr("hreflang")
		return ok
	})
	p.snap.Record(rules.KindHreflang, outerHTML(existing), existing.Length() > 0)
	existing.Remove()

	head := p.doc.head()
	for _, l := range spec.Links {
		head.AppendNodes(element("link", "rel", "alternate", "hreflang", l.Lang, "href", l.URL))
	}
	return nil
}

func mutateStructuredData(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.StructuredData
	existing := p.doc.Find(`script[type="application/ld+json"]`)
	p.snap.Record(rules.KindStructuredData, outerHTML(existing), existing.Length() > 0)

	var errs []error
	for i, entry := range spec.Schemas {
		doc, err := buildSchema(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("schema %d: %w", i, err))
			continue
		}
		block := strconv.Itoa(i)
		if p.doc.withMarker("script", sel.Rule.ID, block).Length() > 0 {
			continue
		}
		script := element("script", "type", "application/ld+json", attrRule, sel.Rule.ID, attrBlock, block)
		script.AppendChild(textNode(doc))
		p.doc.head().AppendNodes(script)
	}
	return errors.Join(errs...)
}

const schemaContext = "https://schema.org"

// buildSchema returns the JSON-LD text for one entry: raw JSON is validated
// and given an @context when it lacks one; typed entries are assembled from
// their properties in key order.
func buildSchema(e rules.SchemaEntry) (string, error) {
	if strings.TrimSpace(e.JSON) != "" {
		if !gjson.Valid(e.JSON) {
			return "", errors.New("invalid json")
		}
		parsed := gjson.Parse(e.JSON)
		if !parsed.IsObject() || parsed.Get(`\@context`).Exists() {
			return e.JSON, nil
		}
		return sjson.Set(e.JSON, `\@context`, schemaContext)
	}
	if e.Type == "" {
		return "", errors.New("schema needs a type or raw json")
	}
	out, err := sjson.Set("{}", `\@context`, schemaContext)
	if err != nil {
		return "", err
	}
	if out, err = sjson.Set(out, `\@type`, e.Type); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if out, err = sjson.Set(out, escapePath(k), e.Properties[k]); err != nil {
			return "", fmt.Errorf("property %q: %w", k, err)
		}
	}
	return out, nil
}

// escapePath makes a property name a literal single-segment path.
func escapePath(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
