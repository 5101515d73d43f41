package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-rules-engine/internal/config"
	"seo-rules-engine/internal/engine"
	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/storage"
)

type MockStore struct {
	mu    sync.Mutex
	sites []storage.SiteRules
	err   error
	loads int
	imps  []storage.Impression
}

func (m *MockStore) set(sites []storage.SiteRules, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites, m.err = sites, err
}

func (m *MockStore) LoadActiveRules(context.Context) ([]storage.SiteRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.sites, nil
}

func (m *MockStore) RecordImpression(_ context.Context, siteKey string, imp storage.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sites {
		if s.Site.Key != siteKey {
			continue
		}
		for _, r := range s.Rules {
			if r.ID == imp.RuleID {
				m.imps = append(m.imps, imp)
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (m *MockStore) UpsertSite(_ context.Context, s storage.Site) (storage.Site, error) { return s, nil }
func (m *MockStore) UpsertRules(context.Context, storage.Site, []rules.Rule) error { return nil }
func (m *MockStore) Rules(context.Context, string) ([]rules.Rule, error) { return nil, nil }
func (m *MockStore) Migrate(context.Context) error { return nil }
func (m *MockStore) Close() {}

func titleRule(id, pattern string) rules.Rule {
	return rules.Rule{
		ID:        id,
		Status:    rules.StatusActive,
		Priority:  50,
		Targeting: rules.Targeting{MatchType: rules.MatchStartsWith, URLPattern: pattern},
		Modifications: rules.Modifications{
			Title: &rules.TextSpec{Enabled: true, Action: rules.ActionReplace, Value: id},
		},
	}
}

func site(rs ...rules.Rule) []storage.SiteRules {
	return []storage.SiteRules{{Site: storage.Site{ID: "s1", OrganizationID: "o1", Key: "acme"}, Rules: rs}}
}

func TestDelivery_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		sites      []storage.SiteRules
		url        string
		wantStatus int
		wantIDs    []string
	}{
		{"missing url", site(), "/v1/sites/acme/rules", http.StatusBadRequest, nil},
		{"unknown site", site(), "/v1/sites/other/rules?url=/", http.StatusNotFound, nil},
		{"no match", site(titleRule("shoes", "/shoes")), "/v1/sites/acme/rules?url=/boots", http.StatusNoContent, nil},
		{"single match", site(titleRule("shoes", "/shoes")), "/v1/sites/acme/rules?url=/shoes/red", http.StatusOK, []string{"shoes"}},
		{
			"multiple matches keep creation order",
			site(titleRule("b", "/shoes"), titleRule("a", "/"), titleRule("c", "/boots")),
			"/v1/sites/acme/rules?url=/shoes",
			http.StatusOK,
			[]string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &MockStore{sites: tt.sites}
			srv := New(config.Config{}, st)
			require.NoError(t, srv.Engine().BuildSnapshot(context.Background(), st))

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))
			require.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusOK {
				var batch rules.Batch
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
				var ids []string
				for _, r := range batch.Rules {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			}
		})
	}
}

func TestServer_ImpressionRoundTrip(t *testing.T) {
	st := &MockStore{sites: site(titleRule("shoes", "/shoes"))}
	srv := New(config.Config{}, st)
	require.NoError(t, srv.Engine().BuildSnapshot(context.Background(), st))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/sites/acme/rules/shoes/impressions", "application/json",
		strings.NewReader(`{"url":"/shoes","loadTimeMs":1.5,"success":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, st.imps, 1)
	assert.Equal(t, "shoes", st.imps[0].RuleID)
}

func TestServer_StartSnapshotRefresher(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantHit bool
	}{
		{"successful refresh swaps snapshot", nil, true},
		{"failed refresh keeps previous snapshot", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			st := &MockStore{sites: site()}
			srv := New(config.Config{}, st)
			require.NoError(t, srv.Engine().BuildSnapshot(ctx, st))

			st.set(site(titleRule("fresh", "/")), tt.err)
			srv.StartSnapshotRefresher(ctx, 10*time.Millisecond)

			assert.Eventually(t, func() bool {
				st.mu.Lock()
				defer st.mu.Unlock()
				return st.loads >= 3
			}, time.Second, 5*time.Millisecond)

			_, ok := srv.Engine().Site("acme")
			assert.True(t, ok)
			batch, err := srv.Engine().Match(ctx, matchAll("acme"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHit, len(batch.Rules) == 1)
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func matchAll(siteKey string) engine.MatchRequest {
	return engine.MatchRequest{SiteKey: siteKey, URL: "/"}
}
