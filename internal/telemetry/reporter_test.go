package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu   sync.Mutex
	got  []Impression
	err  error
	wait chan struct{}
}

func (s *memorySink) Send(ctx context.Context, imp Impression) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, imp)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestReporter_DeliversQueued(t *testing.T) {
	sink := &memorySink{}
	r := NewReporter(sink, Options{Workers: 3, QueueSize: 100})
	r.Start(context.Background())

	for i := 0; i < 50; i++ {
		require.True(t, r.Record(Impression{SiteKey: "s", RuleID: "r", URL: "/"}))
	}
	r.Close()

	assert.Equal(t, 50, sink.count())
	sent, dropped := r.Stats()
	assert.Equal(t, int64(50), sent)
	assert.Zero(t, dropped)
}

func TestReporter_DropsWhenFull(t *testing.T) {
	sink := &memorySink{}
	r := NewReporter(sink, Options{Workers: 1, QueueSize: 1})

	// workers not started, so the queue only holds one
	assert.True(t, r.Record(Impression{RuleID: "a"}))
	assert.False(t, r.Record(Impression{RuleID: "b"}))
	_, dropped := r.Stats()
	assert.Equal(t, int64(1), dropped)

	r.Start(context.Background())
	r.Close()
	assert.Equal(t, 1, sink.count())
	assert.False(t, r.Record(Impression{RuleID: "c"}), "closed reporter refuses work")
}

func TestReporter_SwallowsSinkErrors(t *testing.T) {
	sink := &memorySink{err: errors.New("boom")}
	r := NewReporter(sink, Options{Workers: 1})
	r.Start(context.Background())
	r.Record(Impression{RuleID: "a"})
	r.Close()

	sent, _ := r.Stats()
	assert.Zero(t, sent)
	assert.Equal(t, 1, sink.count())
}

func TestReporter_SendTimeout(t *testing.T) {
	sink := &memorySink{wait: make(chan struct{})}
	r := NewReporter(sink, Options{Workers: 1, SendTimeout: 20 * time.Millisecond})
	r.Start(context.Background())

	start := time.Now()
	require.True(t, r.Record(Impression{RuleID: "slow"}))
	r.Close()
	assert.Less(t, time.Since(start), time.Second)
	sent, _ := r.Stats()
	assert.Zero(t, sent)
}

func TestHTTPSink_Send(t *testing.T) {
	var (
		path string
		body Impression
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL+"/", ts.Client())
	err := sink.Send(context.Background(), Impression{
		SiteKey: "acme", RuleID: "rule-1", URL: "https://shop.example/shoes", Variant: "B", LoadTimeMs: 1.5, Success: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "/v1/sites/acme/rules/rule-1/impressions", path)
	assert.Equal(t, "https://shop.example/shoes", body.URL)
	assert.Equal(t, "B", body.Variant)
	assert.InDelta(t, 1.5, body.LoadTimeMs, 0.001)
	assert.True(t, body.Success)
}

func TestHTTPSink_RejectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	err := NewHTTPSink(ts.URL, nil).Send(context.Background(), Impression{SiteKey: "x", RuleID: "y"})
	assert.Error(t, err)
}
