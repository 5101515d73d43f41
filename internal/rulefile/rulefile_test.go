package rulefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-rules-engine/internal/rules"
)

func TestLoad_SampleFile(t *testing.T) {
	files, err := Load(filepath.Join("..", "..", "configs", "rules", "acme.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "acme", f.Site.Key)
	assert.Equal(t, "Acme", f.Site.Brand)
	require.Len(t, f.Rules, 3)

	title := f.Rules[0]
	assert.Equal(t, rules.MatchStartsWith, title.Targeting.MatchType)
	require.NotNil(t, title.Modifications.Title)
	assert.Equal(t, "{original} | {brand}", title.Modifications.Title.Template)
	assert.Equal(t, []rules.Kind{rules.KindTitle, rules.KindCanonical}, title.Modifications.EnabledKinds())

	banner := f.Rules[1]
	require.NotNil(t, banner.Schedule)
	assert.Equal(t, "Europe/Paris", banner.Schedule.Timezone)
	assert.Equal(t, []string{"sat", "sun"}, banner.Targeting.Conditions.DaysOfWeek)
	assert.Equal(t, rules.PositionMainStart, banner.Modifications.ContentInjection.Blocks[0].Position)

	ab := f.Rules[2]
	require.NotNil(t, ab.ABTesting)
	assert.Equal(t, 50.0, ab.ABTesting.Variants[0].Percentage)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("b.yml", "site: {key: beta, organizationId: o2}\n")
	write("a.yaml", "site: {key: alpha, organizationId: o1}\nrules: []\n")
	write("notes.txt", "ignored")

	files, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "alpha", files[0].Site.Key)
	assert.Equal(t, "beta", files[1].Site.Key)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing site key", "site: {organizationId: o1}"},
		{"missing organization", "site: {key: acme}"},
		{"unknown field", "site: {key: acme, organizationId: o1}\nrulez: []"},
		{"invalid rule", "site: {key: acme, organizationId: o1}\nrules:\n  - id: r1\n    status: live\n    targeting: {matchType: all}"},
		{"duplicate ids", "site: {key: acme, organizationId: o1}\nrules:\n  - {id: r1, status: draft, targeting: {matchType: all}}\n  - {id: r1, status: draft, targeting: {matchType: all}}"},
		{"bad regex", "site: {key: acme, organizationId: o1}\nrules:\n  - {id: r1, status: active, targeting: {matchType: regex, urlPattern: '('}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
