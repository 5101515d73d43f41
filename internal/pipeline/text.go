package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"seo-rules-engine/internal/rules"
)

func mutateTitle(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.Title
	title := p.doc.Find("title").First()
	original, present := title.Text(), title.Length() > 0

	v, err := p.compose(spec.Action, spec.Value, spec.Template, original, nil)
	if err != nil {
		return err
	}
	v = Truncate(v, spec.MaxLength)

	p.snap.Record(rules.KindTitle, original, present)
	if !present {
		p.doc.head().AppendNodes(element("title"))
		title = p.doc.Find("title").First()
	}
	title.SetText(v)
	return nil
}

func mutateMetaDescription(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.MetaDescription
	return p.setNamedMeta(rules.KindMetaDescription, "description", func(original string) (string, error) {
		v, err := p.compose(spec.Action, spec.Value, spec.Template, original, nil)
		return Truncate(v, spec.MaxLength), err
	})
}

func mutateMetaKeywords(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.MetaKeywords
	return p.setNamedMeta(rules.KindMetaKeywords, "keywords", func(original string) (string, error) {
		v, err := keywordsValue(p, spec, original)
		return Truncate(v, spec.MaxLength), err
	})
}

// setNamedMeta upserts <meta name=name> with the content compute returns.
func (p *Pipeline) setNamedMeta(kind rules.Kind, name string, compute func(string) (string, error)) error {
	meta := p.doc.metaBy("name", name).First()
	original, _ := meta.Attr("content")
	present := meta.Length() > 0

	v, err := compute(original)
	if err != nil {
		return err
	}
	p.snap.Record(kind, original, present)
	if meta.Length() == 0 {
		p.doc.head().AppendNodes(element("meta", "name", name, "content", v))
		return nil
	}
	meta.SetAttr("content", v)
	return nil
}

func keywordsValue(p *Pipeline, spec *rules.KeywordsSpec, original string) (string, error) {
	incoming := spec.Value
	if incoming == "" {
		incoming = strings.Join(spec.Keywords, ", ")
	}
	switch spec.Action {
	case rules.ActionAdd:
		list := splitKeywords(original)
		for _, k := range splitKeywords(incoming) {
			if !containsFold(list, k) {
				list = append(list, k)
			}
		}
		return strings.Join(list, ", "), nil
	case rules.ActionRemove:
		drop := splitKeywords(incoming)
		var kept []string
		for _, k := range splitKeywords(original) {
			if !containsFold(drop, k) {
				kept = append(kept, k)
			}
		}
		return strings.Join(kept, ", "), nil
	case rules.ActionPrepend:
		return joinNonEmpty(incoming, original), nil
	case rules.ActionAppend:
		return joinNonEmpty(original, incoming), nil
	default:
		return p.compose(spec.Action, incoming, spec.Template, original, nil)
	}
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func joinNonEmpty(a, b string) string {
	switch {
	case strings.TrimSpace(a) == "":
		return b
	case strings.TrimSpace(b) == "":
		return a
	}
	return a + ", " + b
}

var errNoTarget = errors.New("no target element")

func mutateH1(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.H1
	query := spec.Selector
	if query == "" {
		query = "h1"
	}
	targets := p.doc.Find(query)
	first := targets.First()
	p.snap.RecordAt(rules.KindH1, spec.Selector, strings.TrimSpace(first.Text()), first.Length() > 0)

	switch spec.Action {
	case rules.ActionInjectIfMissing:
		if targets.Length() > 0 {
			return nil
		}
		v, err := p.compose(rules.ActionTemplate, "", h1Template(spec), "", nil)
		if err != nil {
			return err
		}
		anchor := p.doc.mainRegion()
		if spec.Anchor != "" {
			anchor = p.doc.Find(spec.Anchor).First()
		}
		if anchor.Length() == 0 {
			return fmt.Errorf("h1 anchor %q: %w", spec.Anchor, errNoTarget)
		}
		h1 := element("h1", attrInjected, sel.Rule.ID)
		h1.AppendChild(textNode(v))
		anchor.PrependNodes(h1)
		return nil
	case rules.ActionReplace:
		targets = first
	}
	if targets.Length() == 0 {
		return fmt.Errorf("h1 %q: %w", query, errNoTarget)
	}
	return p.rewriteText(targets, spec.Action, spec.Value, spec.Template)
}

// h1Template lets inject_if_missing take either a literal value or a template.
func h1Template(spec *rules.H1Spec) string {
	if spec.Template != "" {
		return spec.Template
	}
	return spec.Value
}

// rewriteText applies a text action to every element of targets, each with
// its own original.
func (p *Pipeline) rewriteText(targets *goquery.Selection, action rules.Action, value, tmpl string) error {
	var errs []error
	targets.Each(func(_ int, el *goquery.Selection) {
		original := strings.TrimSpace(el.Text())
		v, err := p.compose(action, value, tmpl, original, nil)
		if err != nil {
			errs = append(errs, err)
			return
		}
		el.SetText(v)
	})
	return errors.Join(errs...)
}

func mutateHeadings(p *Pipeline, sel *rules.Selection) error {
	spec := sel.Modifications.Headings
	var errs []error
	recorded := false
	for i, item := range spec.Items {
		query := item.Selector
		if query == "" {
			level := item.Level
			if level < 1 || level > 6 {
				level = 2
			}
			query = "h" + strconv.Itoa(level)
		}
		targets := p.doc.Find(query)
		if item.First {
			targets = targets.First()
		}
		if targets.Length() == 0 {
			errs = append(errs, fmt.Errorf("heading item %d %q: %w", i, query, errNoTarget))
			continue
		}
		if !recorded {
			p.snap.Record(rules.KindHeadings, outerHTML(targets), true)
			recorded = true
		}
		if item.Action == rules.ActionRemove {
			targets.Remove()
			continue
		}
		if err := p.rewriteText(targets, item.Action, item.Value, item.Template); err != nil {
			errs = append(errs, fmt.Errorf("heading item %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
