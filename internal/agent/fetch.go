package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/matcher"
	"seo-rules-engine/internal/observability"
	"seo-rules-engine/internal/rules"
)

type FetchOptions struct {
	BaseURL        string
	MaxAttempts    int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Client         *http.Client
}

// Fetcher reads rules from the delivery service with a fixed retry budget.
// It satisfies selector.Source.
type Fetcher struct {
	base     string
	attempts int
	delay    time.Duration
	timeout  time.Duration
	client   *http.Client
}

func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Fetcher{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		attempts: opts.MaxAttempts,
		delay:    opts.RetryDelay,
		timeout:  opts.AttemptTimeout,
		client:   opts.Client,
	}
}

// errPermanent marks responses that retrying cannot fix.
var errPermanent = errors.New("permanent fetch failure")

// FetchActiveRules never fails; exhausting the budget yields an empty batch.
func (f *Fetcher) FetchActiveRules(ctx context.Context, siteKey string, c matcher.Context) rules.Batch {
	endpoint := f.endpoint(siteKey, c)
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		batch, err := f.once(ctx, endpoint)
		if err == nil {
			return batch
		}
		lastErr = err
		if errors.Is(err, errPermanent) {
			observability.RuleFetchAttempts.WithLabelValues("client_error").Inc()
			log.Warn().Err(err).Str("site", siteKey).Msg("rule fetch rejected; applying no rules")
			return rules.Batch{}
		}
		observability.RuleFetchAttempts.WithLabelValues("retryable").Inc()
		log.Debug().Err(err).Int("attempt", attempt).Str("site", siteKey).Msg("rule fetch failed")
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Str("site", siteKey).Msg("rule fetch abandoned")
			return rules.Batch{}
		case <-time.After(f.delay):
		}
	}
	log.Warn().Err(lastErr).Int("attempts", f.attempts).Str("site", siteKey).Msg("rule fetch exhausted retries; applying no rules")
	return rules.Batch{}
}

func (f *Fetcher) endpoint(siteKey string, c matcher.Context) string {
	q := url.Values{}
	q.Set("url", c.URL)
	if c.Language != "" {
		q.Set("lang", c.Language)
	}
	if c.Device != "" {
		q.Set("device", string(c.Device))
	}
	return fmt.Sprintf("%s/v1/sites/%s/rules?%s", f.base, url.PathEscape(siteKey), q.Encode())
}

func (f *Fetcher) once(ctx context.Context, endpoint string) (rules.Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rules.Batch{}, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return rules.Batch{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		observability.RuleFetchAttempts.WithLabelValues("empty").Inc()
		return rules.Batch{}, nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return rules.Batch{}, fmt.Errorf("rule store: %s", resp.Status)
	case resp.StatusCode >= 400:
		return rules.Batch{}, fmt.Errorf("%w: %s", errPermanent, resp.Status)
	}

	var batch rules.Batch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return rules.Batch{}, fmt.Errorf("decode rules: %w", err)
	}
	observability.RuleFetchAttempts.WithLabelValues("ok").Inc()
	return batch, nil
}
