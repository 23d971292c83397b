package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finroute/finroute/pkg/aggregator"
	"github.com/finroute/finroute/pkg/cache"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metadata"
	"github.com/finroute/finroute/pkg/models"
	"github.com/finroute/finroute/pkg/normalizer"
	"github.com/finroute/finroute/pkg/session"
	"github.com/finroute/finroute/pkg/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBulkSymbols bounds one bulk request.
const maxBulkSymbols = 100

type server struct {
	agg      *aggregator.Aggregator
	cache    *cache.Engine
	meta     *metadata.Store
	sessions *session.Manager
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps the fetch error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var ue *models.UnavailableError
	switch {
	case errors.Is(err, models.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.As(err, &ue), errors.Is(err, session.ErrSessionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	raw := validation.SanitizeString(mux.Vars(r)["symbol"])
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	q, err := s.agg.Fetch(ctx, raw)
	if err != nil {
		logger.Log.Warn("quote fetch failed", zap.String("symbol", raw), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.recordSymbol(raw)
	writeJSON(w, http.StatusOK, q)
}

// recordSymbol persists the resolved mapping for a successfully served symbol.
// Best effort: failures are logged and never surface to the caller.
func (s *server) recordSymbol(raw string) {
	if s.meta == nil {
		return
	}
	sym := normalizer.Normalize(raw)
	if sym.Unknown() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rec := models.SymbolRecord{
			Symbol:     sym.Canonical,
			ProviderID: sym.ProviderID,
			AssetType:  sym.AssetType,
			Active:     true,
		}
		if err := s.meta.Upsert(ctx, rec); err != nil {
			logger.Log.Warn("failed to record symbol mapping",
				zap.String("symbol", sym.Canonical), zap.Error(err))
		}
	}()
}

type bulkRequest struct {
	Symbols []string `json:"symbols"`
}

type bulkItem struct {
	Symbol string        `json:"symbol"`
	Quote  *models.Quote `json:"quote,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (s *server) handleBulkQuotes(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}
	if len(req.Symbols) > maxBulkSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}
	for i, raw := range req.Symbols {
		req.Symbols[i] = validation.SanitizeString(raw)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results := s.agg.FetchBulk(ctx, req.Symbols)

	items := make([]bulkItem, len(results))
	for i, res := range results {
		items[i] = bulkItem{Symbol: req.Symbols[i], Quote: res.Quote}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

func (s *server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"providers": s.agg.HealthSnapshot(),
	}
	if exp := s.sessions.ExpiresAt(); !exp.IsZero() {
		resp["session_expires_at"] = exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 || len(req.Symbols) > maxBulkSymbols {
		writeError(w, http.StatusBadRequest, "symbols must hold 1 to 100 entries")
		return
	}
	for i, raw := range req.Symbols {
		req.Symbols[i] = validation.SanitizeString(raw)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results := s.agg.Refresh(ctx, req.Symbols)

	refreshed := 0
	items := make([]bulkItem, len(results))
	for i, res := range results {
		items[i] = bulkItem{Symbol: req.Symbols[i], Quote: res.Quote}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			continue
		}
		refreshed++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": refreshed,
		"results":   items,
	})
}

func (s *server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusNotImplemented, "metadata store not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	recs, err := s.meta.ListActive(ctx)
	if err != nil {
		logger.Log.Error("failed to list symbols", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": recs})
}

func (s *server) handleLookupSymbol(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusNotImplemented, "metadata store not configured")
		return
	}
	symbol := validation.SanitizeString(mux.Vars(r)["symbol"])

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec, err := s.meta.Lookup(ctx, symbol)
	if errors.Is(err, metadata.ErrNotFound) {
		writeError(w, http.StatusNotFound, "symbol not found")
		return
	}
	if err != nil {
		logger.Log.Error("symbol lookup failed", zap.String("symbol", symbol), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleUpsertSymbol(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusNotImplemented, "metadata store not configured")
		return
	}

	var rec models.SymbolRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec.Symbol = validation.SanitizeString(rec.Symbol)
	if rec.Symbol == "" || rec.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "symbol and provider_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.meta.Upsert(ctx, rec); err != nil {
		logger.Log.Error("symbol upsert failed", zap.String("symbol", rec.Symbol), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !s.cache.HealthCheck(ctx) {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	if s.meta != nil && !s.meta.HealthCheck(ctx) {
		writeError(w, http.StatusServiceUnavailable, "metadata store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
