package pipeline

import (
	"fmt"
	"io"

	"github.com/valyala/fasttemplate"
)

// Vars are the values a {variable} placeholder can resolve to.
type Vars map[string]string

// Render substitutes {name} placeholders. Unknown names are left as written;
// an unterminated "{" is an error.
func Render(tmpl string, vars Vars) (string, error) {
	t, err := fasttemplate.NewTemplate(tmpl, "{", "}")
	if err != nil {
		return "", fmt.Errorf("malformed template %q: %w", tmpl, err)
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[tag]; ok {
			return io.WriteString(w, v)
		}
		return io.WriteString(w, "{"+tag+"}")
	}), nil
}

// Truncate cuts s to max runes, the last three being "...".
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
