package rulefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/storage"
)

// File is one site and the rules to seed for it.
type File struct {
	Site  storage.Site `yaml:"site"`
	Rules []rules.Rule `yaml:"rules"`
}

// Load reads a rule file, or every *.yaml / *.yml file when path is a
// directory, in lexical order.
func Load(path string) ([]File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		f, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		return []File{f}, nil
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)

	out := make([]File, 0, len(paths))
	for _, p := range paths {
		f, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func loadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to open rule file %s: %w", path, err)
	}
	defer fh.Close()

	f, err := Decode(fh)
	if err != nil {
		return File{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	return f, nil
}

// Decode parses and validates one rule document. Unknown keys are rejected.
func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode: %w", err)
	}
	return f, f.Validate()
}

func (f File) Validate() error {
	if f.Site.Key == "" {
		return errors.New("site.key is required")
	}
	if f.Site.OrganizationID == "" {
		return errors.New("site.organizationId is required")
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", rules.ErrInvalidRule, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
