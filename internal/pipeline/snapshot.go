package pipeline

import (
	"seo-rules-engine/internal/rules"
)

// Original is a tag's state before the first mutation touched it.
type Original struct {
	Value   string `json:"value"`
	Present bool   `json:"present"`
	// Selector locates the element the value was read from, when it is not
	// the kind's default.
	Selector string `json:"selector,omitempty"`
}

// Snapshot is first-write-wins: once a kind is recorded, later rules cannot
// overwrite it, so it always holds the pre-pipeline state.
type Snapshot struct {
	m     map[rules.Kind]Original
	order []rules.Kind
}

func NewSnapshot() *Snapshot { return &Snapshot{m: map[rules.Kind]Original{}} }

// Record stores the original for kind unless one is already held.
func (s *Snapshot) Record(kind rules.Kind, value string, present bool) {
	s.RecordAt(kind, "", value, present)
}

// RecordAt is Record for a value read through a non-default selector.
func (s *Snapshot) RecordAt(kind rules.Kind, selector, value string, present bool) {
	if _, ok := s.m[kind]; ok {
		return
	}
	s.m[kind] = Original{Value: value, Present: present, Selector: selector}
	s.order = append(s.order, kind)
}

func (s *Snapshot) Get(kind rules.Kind) (Original, bool) {
	o, ok := s.m[kind]
	return o, ok
}

// Kinds lists recorded kinds in the order they were first touched.
func (s *Snapshot) Kinds() []rules.Kind { return append([]rules.Kind(nil), s.order...) }

func (s *Snapshot) Len() int { return len(s.order) }

// Revert restores scalar tags (title, meta description, meta keywords, first
// h1, canonical, robots) to their recorded originals. List-valued kinds are
// left as they are.
func (s *Snapshot) Revert(d *Document) {
	for _, kind := range s.order {
		o := s.m[kind]
		switch kind {
		case rules.KindTitle:
			sel := d.Find("title")
			if !o.Present {
				sel.Remove()
				continue
			}
			if sel.Length() == 0 {
				d.head().AppendNodes(element("title"))
				sel = d.Find("title")
			}
			sel.First().SetText(o.Value)
		case rules.KindMetaDescription:
			revertMeta(d, "description", o)
		case rules.KindMetaKeywords:
			revertMeta(d, "keywords", o)
		case rules.KindRobots:
			revertMeta(d, "robots", o)
		case rules.KindH1:
			d.Find("h1[" + attrInjected + "]").Remove()
			if o.Present {
				query := o.Selector
				if query == "" {
					query = "h1"
				}
				d.Find(query).First().SetText(o.Value)
			}
		case rules.KindCanonical:
			links := d.linksByRel("canonical")
			if !o.Present {
				links.Remove()
				continue
			}
			if links.Length() == 0 {
				d.head().AppendNodes(element("link", "rel", "canonical", "href", o.Value))
				continue
			}
			links.First().SetAttr("href", o.Value)
		}
	}
}

func revertMeta(d *Document, name string, o Original) {
	sel := d.metaBy("name", name)
	if !o.Present {
		sel.Remove()
		return
	}
	if sel.Length() == 0 {
		d.head().AppendNodes(element("meta", "name", name, "content", o.Value))
		return
	}
	sel.First().SetAttr("content", o.Value)
}
