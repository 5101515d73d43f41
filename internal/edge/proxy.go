package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/agent"
	"seo-rules-engine/internal/observability"
	"seo-rules-engine/internal/rules"
)

const (
	HeaderRules = "X-Seo-Rules"
	debugParam  = "seo_debug"
)

type Options struct {
	Upstream     string
	CookieName   string
	MaxBodyBytes int64
	TotalTimeout time.Duration
	Debug        bool
}

// Proxy forwards traffic to the origin and rewrites HTML responses through
// the agent.
type Proxy struct {
	opts  Options
	agent *agent.Agent
	rp    *httputil.ReverseProxy
}

type visitKey struct{}

// visit carries what the response side needs to know about the request.
type visit struct {
	pageURL   string
	sessionID string
	language  string
	device    rules.Device
	debug     bool
}

func New(opts Options, a *agent.Agent) (*Proxy, error) {
	if opts.Upstream == "" {
		return nil, errors.New("edge: upstream is required")
	}
	target, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, fmt.Errorf("edge: upstream: %w", err)
	}
	if opts.CookieName == "" {
		opts.CookieName = "seo_sid"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}

	p := &Proxy{opts: opts, agent: a}
	rp := httputil.NewSingleHostReverseProxy(target)
	direct := rp.Director
	rp.Director = func(r *http.Request) {
		direct(r)
		// bodies must arrive uncompressed to be rewritten
		r.Header.Set("Accept-Encoding", "identity")
	}
	rp.ModifyResponse = p.rewrite
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream unavailable")
		observability.RequestErrors.WithLabelValues("upstream").Inc()
		w.WriteHeader(http.StatusBadGateway)
	}
	p.rp = rp
	return p, nil
}

// Router mounts the proxy behind the standard middleware stack.
func (p *Proxy) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	r.Handle("/*", p)
	return r
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v := visit{
		pageURL:  pageURL(r),
		language: LanguageFromHeader(r.Header.Get("Accept-Language")),
		device:   DeviceFromUserAgent(r.UserAgent()),
		debug:    p.opts.Debug || r.URL.Query().Get(debugParam) == "1",
	}
	if c, err := r.Cookie(p.opts.CookieName); err == nil && c.Value != "" {
		v.sessionID = c.Value
	} else {
		v.sessionID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     p.opts.CookieName,
			Value:    v.sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	p.rp.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitKey{}, v)))
}

func (p *Proxy) rewrite(resp *http.Response) error {
	req := resp.Request
	v, ok := req.Context().Value(visitKey{}).(visit)
	if !ok || req.Method != http.MethodGet || !rewritable(resp) {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > p.opts.MaxBodyBytes {
		log.Debug().Str("url", v.pageURL).Msg("page too large to rewrite")
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil
	}
	_ = resp.Body.Close()

	ctx := req.Context()
	if p.opts.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TotalTimeout)
		defer cancel()
	}
	res := p.agent.Process(ctx, agent.Page{
		URL:       v.pageURL,
		HTML:      body,
		Language:  v.language,
		Device:    v.device,
		SessionID: v.sessionID,
	})

	if v.debug {
		if b, err := json.Marshal(res.Applied); err == nil {
			resp.Header.Set(HeaderRules, string(b))
		}
	}
	if res.Changed {
		resp.Header.Del("Etag")
	}
	resp.Body = io.NopCloser(bytes.NewReader(res.HTML))
	resp.ContentLength = int64(len(res.HTML))
	resp.Header.Set("Content-Length", strconv.Itoa(len(res.HTML)))
	return nil
}

func rewritable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return false
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

func pageURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fp := r.Header.Get("X-Forwarded-Proto"); fp != "" {
		scheme = fp
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
