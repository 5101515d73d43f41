package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the single-owner HTML tree one page view mutates.
type Document struct {
	*goquery.Document
}

func Parse(b []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{Document: doc}, nil
}

// Render serializes the whole tree, doctype included.
func (d *Document) Render() ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range d.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func (d *Document) head() *goquery.Selection { return d.Find("head").First() }

func (d *Document) body() *goquery.Selection { return d.Find("body").First() }

// mainRegion is the page's primary content container, falling back to body.
func (d *Document) mainRegion() *goquery.Selection {
	for _, q := range []string{"main", "[role=main]", "article"} {
		if s := d.Find(q).First(); s.Length() > 0 {
			return s
		}
	}
	return d.body()
}

// metaBy selects <meta> elements whose attr equals key, ignoring case.
func (d *Document) metaBy(attr, key string) *goquery.Selection {
	return d.Find("meta").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(attr)
		return strings.EqualFold(strings.TrimSpace(v), key)
	})
}

// linksByRel selects <link> elements whose rel token list contains rel.
func (d *Document) linksByRel(rel string) *goquery.Selection {
	return d.Find("link").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("rel")
		for _, tok := range strings.Fields(v) {
			if strings.EqualFold(tok, rel) {
				return true
			}
		}
		return false
	})
}

// withMarker selects elements of tag stamped by ruleID (and block, when not
// empty) so a rule never inserts the same thing twice.
func (d *Document) withMarker(tag, ruleID, block string) *goquery.Selection {
	return d.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(attrRule); v != ruleID {
			return false
		}
		if block == "" {
			return true
		}
		v, _ := s.Attr(attrBlock)
		return v == block
	})
}

const (
	attrRule     = "data-seo-rule"
	attrBlock    = "data-seo-block"
	attrInjected = "data-seo-injected"
)

// element builds a detached node; attrs are key/value pairs.
func element(tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func textNode(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

func outerHTML(s *goquery.Selection) string {
	var b strings.Builder
	s.Each(func(_ int, el *goquery.Selection) {
		h, err := goquery.OuterHtml(el)
		if err == nil {
			b.WriteString(h)
		}
	})
	return b.String()
}
