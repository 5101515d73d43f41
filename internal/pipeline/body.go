package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/rules"
)

const hiddenStyle = "position:absolute;left:-10000px;top:auto;width:1px;height:1px;overflow:hidden"

func mutateContentInjection(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.ContentInjection
	var errs []error
	for i, b := range spec.Blocks {
		block := strconv.Itoa(i)
		if p.doc.withMarker("div", sel.Rule.ID, block).Length() > 0 {
			continue
		}
		anchor, method, err := p.injectionAnchor(b)
		if err != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", i, err))
			continue
		}
		p.snap.Record(rules.KindContentInjection, outerHTML(anchor), true)

		wrapper := `<div ` + attrRule + `="` + html.EscapeString(sel.Rule.ID) + `" ` + attrBlock + `="` + block + `"`
		if b.Hidden {
			wrapper += ` style="` + hiddenStyle + `"`
		}
		fragment := wrapper + ">" + b.HTML + "</div>"

		switch method {
		case rules.ActionPrepend:
			anchor.PrependHtml(fragment)
		case rules.ActionAppend:
			anchor.AppendHtml(fragment)
		case rules.ActionReplace:
			anchor.SetHtml(fragment)
		case rules.ActionBefore:
			anchor.BeforeHtml(fragment)
		case rules.ActionAfter:
			anchor.AfterHtml(fragment)
		default:
			errs = append(errs, fmt.Errorf("block %d: unsupported method %q", i, method))
		}
	}
	return errors.Join(errs...)
}

// injectionAnchor resolves a block's position to one element and the
// insertion method, defaulting the method by position.
func (p *Pipeline) injectionAnchor(b rules.InjectionBlock) (*goquery.Selection, rules.Action, error) {
	var (
		anchor *goquery.Selection
		method = rules.ActionAppend
	)
	switch b.Position {
	case rules.PositionBeforeHeading, rules.PositionAfterHeading:
		anchor = p.doc.Find("h1, h2, h3, h4, h5, h6").First()
		method = rules.ActionBefore
		if b.Position == rules.PositionAfterHeading {
			method = rules.ActionAfter
		}
	case rules.PositionMainStart:
		anchor, method = p.doc.mainRegion(), rules.ActionPrepend
	case rules.PositionMainEnd:
		anchor = p.doc.mainRegion()
	case rules.PositionFooter:
		anchor = p.doc.Find("footer, [role=contentinfo]").First()
		if anchor.Length() == 0 {
			anchor = p.doc.body()
		}
	case rules.PositionSidebar:
		anchor = p.doc.Find("aside, [role=complementary]").First()
	case rules.PositionCustom:
		if b.Selector == "" {
			return nil, "", errors.New("custom position needs a selector")
		}
		anchor = p.doc.Find(b.Selector).First()
	default:
		return nil, "", fmt.Errorf("unknown position %q", b.Position)
	}
	if b.Method != "" {
		method = b.Method
	}
	if anchor.Length() == 0 {
		return nil, "", fmt.Errorf("position %s: %w", b.Position, errNoTarget)
	}
	return anchor, method, nil
}

func mutateImageAlt(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.ImageAlt
	query := spec.Selector
	if query == "" {
		query = "img"
	}
	images := p.doc.Find(query)
	if images.Length() == 0 {
		return fmt.Errorf("image alt %q: %w", query, errNoTarget)
	}
	first, _ := images.First().Attr("alt")
	p.snap.Record(rules.KindImageAlt, first, images.Length() > 0)

	var errs []error
	images.Each(func(_ int, img *goquery.Selection) {
		original, _ := img.Attr("alt")
		if spec.OnlyMissing && strings.TrimSpace(original) != "" {
			return
		}
		vars := p.vars(original)
		src, _ := img.Attr("src")
		vars["filename"] = filenameOf(src)
		action := spec.Action
		if action == "" {
			action = rules.ActionSet
		}
		v, err := p.compose(action, spec.Value, spec.Template, original, vars)
		if err != nil {
			errs = append(errs, err)
			return
		}
		img.SetAttr("alt", v)
	})
	return errors.Join(errs...)
}

// filenameOf turns ".../red-running_shoe.jpg?w=300" into "red running shoe".
func filenameOf(src string) string {
	if u, err := url.Parse(src); err == nil {
		src = u.Path
	}
	base := path.Base(src)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.Join(strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' }), " ")
}

// skipped lists elements whose text never receives internal links.
var skipped = map[atom.Atom]bool{
	atom.A: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Script: true, atom.Style: true, atom.Textarea: true, atom.Button: true, atom.Title: true,
	atom.Head: true, atom.Noscript: true, atom.Code: true, atom.Pre: true, atom.Select: true,
}

func mutateInternalLinks(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.InternalLinks
	region := p.doc.mainRegion()
	if spec.Selector != "" {
		region = p.doc.Find(spec.Selector)
	}
	if region.Length() == 0 {
		return fmt.Errorf("internal links region %q: %w", spec.Selector, errNoTarget)
	}
	p.snap.Record(rules.KindInternalLinks, outerHTML(region), true)

	current := matcher.NormalizePath(p.page.URL)
	var errs []error
	for _, l := range spec.Links {
		if l.Keyword == "" || l.URL == "" {
			errs = append(errs, errors.New("internal link needs keyword and url"))
			continue
		}
		if matcher.NormalizePath(l.URL) == current {
			continue
		}
		pattern := `\b` + regexp.QuoteMeta(l.Keyword) + `\b`
		if !l.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		limit := l.MaxOccurrences
		if limit <= 0 {
			limit = 1
		}
		linked := 0
		for _, root := range region.Nodes {
			if linked >= limit {
				break
			}
			linked += linkText(root, re, l, limit-linked)
		}
	}
	return errors.Join(errs...)
}

// linkText wraps up to limit matches of re in text under root and reports
// how many it wrapped.
func linkText(root *html.Node, re *regexp.Regexp, l rules.LinkRule, limit int) int {
	var texts []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			texts = append(texts, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	done := 0
	for _, t := range texts {
		for done < limit {
			loc := re.FindStringIndex(t.Data)
			if loc == nil {
				break
			}
			before, match, after := t.Data[:loc[0]], t.Data[loc[0]:loc[1]], t.Data[loc[1]:]
			a := element("a", "href", l.URL)
			if l.Title != "" {
				a.Attr = append(a.Attr, html.Attribute{Key: "title", Val: l.Title})
			}
			a.AppendChild(textNode(match))
			rest := textNode(after)
			parent := t.Parent
			parent.InsertBefore(a, t.NextSibling)
			parent.InsertBefore(rest, a.NextSibling)
			t.Data = before
			t = rest
			done++
		}
		if done >= limit {
			break
		}
	}
	return done
}
