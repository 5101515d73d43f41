package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/engine"
	"seo-rules-engine/internal/observability"
	"seo-rules-engine/internal/rules"
	"seo-rules-engine/internal/storage"
	"seo-rules-engine/internal/telemetry"
)

const maxImpressionBody = 16 << 10

// Store is the write side the handlers need.
type Store interface {
	RecordImpression(ctx context.Context, siteKey string, imp storage.Impression) error
	Rules(ctx context.Context, siteKey string) ([]rules.Rule, error)
}

type DeliveryHandler struct {
	Eng   *engine.DeliveryEngine
	Store Store
}

func NewDeliveryHandler(eng *engine.DeliveryEngine, st Store) *DeliveryHandler {
	return &DeliveryHandler{Eng: eng, Store: st}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	observability.RequestErrors.WithLabelValues(kind).Inc()
	writeJSON(w, status, errorBody{Error: msg})
}

// Rules answers the rule store read for one page view.
func (h *DeliveryHandler) Rules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageURL := q.Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}
	req := engine.MatchRequest{
		SiteKey:  chi.URLParam(r, "siteKey"),
		URL:      pageURL,
		Language: strings.ToLower(strings.TrimSpace(q.Get("lang"))),
		Device:   rules.Device(strings.ToLower(q.Get("device"))),
	}

	batch, err := h.Eng.Match(r.Context(), req)
	if errors.Is(err, engine.ErrUnknownSite) {
		writeError(w, http.StatusNotFound, "unknown_site", "unknown site")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("site", req.SiteKey).Msg("match failed")
		writeError(w, http.StatusInternalServerError, "internal", "match failed")
		return
	}
	if len(batch.Rules) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Impression records one performance sample for a rule of the site.
func (h *DeliveryHandler) Impression(w http.ResponseWriter, r *http.Request) {
	siteKey, ruleID := chi.URLParam(r, "siteKey"), chi.URLParam(r, "ruleId")

	var body telemetry.Impression
	dec := json.NewDecoder(io.LimitReader(r.Body, maxImpressionBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid impression body")
		return
	}
	if body.LoadTimeMs < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "loadTimeMs must not be negative")
		return
	}

	err := h.Store.RecordImpression(r.Context(), siteKey, storage.Impression{
		RuleID:     ruleID,
		URL:        body.URL,
		Variant:    body.Variant,
		LoadTimeMs: body.LoadTimeMs,
		Success:    body.Success,
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_rule", "unknown site or rule")
		return
	case err != nil:
		log.Error().Err(err).Str("site", siteKey).Str("rule_id", ruleID).Msg("record impression")
		writeError(w, http.StatusInternalServerError, "internal", "record failed")
		return
	}
	observability.ImpressionsTotal.WithLabelValues("recorded").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// Stats lists every rule of a site with its counters.
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	siteKey := chi.URLParam(r, "siteKey")
	rs, err := h.Store.Rules(r.Context(), siteKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_site", "unknown site")
		return
	case err != nil:
		log.Error().Err(err).Str("site", siteKey).Msg("list rules")
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	if rs == nil {
		rs = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, rs)
}
