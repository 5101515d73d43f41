package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Impression is one applied rule on one page view.
type Impression struct {
	SiteKey    string  `json:"-"`
	RuleID     string  `json:"-"`
	URL        string  `json:"url"`
	Variant    string  `json:"variant,omitempty"`
	LoadTimeMs float64 `json:"loadTimeMs"`
	Success    bool    `json:"success"`
}

// Sink receives impressions. Implementations may block; the Reporter bounds
// each call with a timeout.
type Sink interface {
	Send(ctx context.Context, imp Impression) error
}

// HTTPSink posts impressions to the rule delivery service.
type HTTPSink struct {
	base   string
	client *http.Client
}

func NewHTTPSink(baseURL string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSink{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPSink) Send(ctx context.Context, imp Impression) error {
	body, err := json.Marshal(imp)
	if err != nil {
		return fmt.Errorf("encode impression: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/sites/%s/rules/%s/impressions", s.base, url.PathEscape(imp.SiteKey), url.PathEscape(imp.RuleID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("impression rejected: %s", resp.Status)
	}
	return nil
}
