package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/pipeline"
	"github.com/raaihank/scrubcache/internal/privacy"
	"github.com/raaihank/scrubcache/internal/websocket"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultAuditLimit   = 50
	maxAuditLimit       = 500
)

// errNotCached answers an analysis lookup that missed and carried no payload.
var errNotCached = errors.New("analysis not cached")

type textRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope"`
}

type scrubResponse struct {
	RedactedText   string         `json:"redacted_text"`
	Fingerprint    string         `json:"fingerprint"`
	Scope          string         `json:"scope"`
	Categories     []string       `json:"categories_found"`
	CategoryCounts map[string]int `json:"category_counts"`
	ItemsFound     int            `json:"items_found"`
	HasCritical    bool           `json:"has_critical"`
	OriginalLength int            `json:"original_length"`
	RedactedLength int            `json:"redacted_length"`
	Passes         int            `json:"passes"`
}

type analysisRequest struct {
	Resume         string          `json:"resume"`
	JobDescription string          `json:"job_description"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type documentSummary struct {
	Categories  []string `json:"categories_found"`
	ItemsFound  int      `json:"items_found"`
	HasCritical bool     `json:"has_critical"`
}

type analysisResponse struct {
	Key     string              `json:"key"`
	Hit     bool                `json:"hit"`
	Cached  bool                `json:"cached"`
	Refusal cache.RefusalReason `json:"refusal,omitempty"`
	Payload json.RawMessage     `json:"payload,omitempty"`
	Resume  documentSummary     `json:"resume"`
	Job     documentSummary     `json:"job_description"`
}

type statsResponse struct {
	Cache     cache.Stats         `json:"cache"`
	WebSocket *websocket.HubStats `json:"websocket,omitempty"`
	Uptime    string              `json:"uptime"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	categories := s.scrubber.Detector().EnabledCategories()
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                 "scrubcache",
		"version":              Version,
		"masking_enabled":      s.config.Privacy.Masking,
		"detectors":            names,
		"audit_sinks":          s.emitter.Sinks(),
		"cache_max_entries":    s.config.Cache.MaxEntries,
		"cache_ttl_seconds":    int(s.config.Cache.TTL.Seconds()),
		"cache_max_pii_budget": s.cache.Policy().MaxPIIBudget,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Cache:  s.cache.Stats(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.wsHub != nil {
		stats := s.wsHub.GetStats()
		resp.WebSocket = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScrub returns the redacted form of one document. The original text
// never appears in the response or the audit trail.
func (s *Server) handleScrub(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope, ok := s.parseScope(w, r, req.Scope)
	if !ok {
		return
	}

	result, err := s.scrubber.Scrub(req.Text, scope)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveScrub(result)
	}
	s.emitter.Emit(audit.FromScrub("scrub", result, false))

	counts := make(map[string]int, len(result.CategoryCounts))
	for c, n := range result.CategoryCounts {
		counts[c.String()] = n
	}
	writeJSON(w, http.StatusOK, scrubResponse{
		RedactedText:   result.RedactedText,
		Fingerprint:    result.Fingerprint.String(),
		Scope:          result.Scope.String(),
		Categories:     result.CategoryNames(),
		CategoryCounts: counts,
		ItemsFound:     result.ItemsFound,
		HasCritical:    result.HasCritical,
		OriginalLength: result.OriginalLength,
		RedactedLength: result.RedactedLength,
		Passes:         result.Passes,
	})
}

// handleMask renders a display-only preview. It is neither cached nor
// audited.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope, ok := s.parseScope(w, r, req.Scope)
	if !ok {
		return
	}

	result, err := s.scrubber.Mask(req.Text, scope)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAnalysis looks up a résumé/job analysis. On a miss the supplied
// payload, if any, is offered to the cache.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if !s.decode(w, r, &req) {
		return
	}

	compute := func(_ context.Context, _, _ string) (json.RawMessage, error) {
		if len(req.Payload) == 0 {
			return nil, errNotCached
		}
		if !json.Valid(req.Payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return req.Payload, nil
	}

	res, err := s.guard.Analyze(r.Context(), pipeline.Request{
		Resume:    req.Resume,
		Job:       req.JobDescription,
		Operation: req.Operation,
	}, compute)

	resp := analysisResponse{
		Key:     res.Key.String(),
		Hit:     res.Hit,
		Cached:  res.Cached,
		Payload: res.Payload,
		Resume:  summarize(res.Resume),
		Job:     summarize(res.Job),
	}

	switch {
	case errors.Is(err, errNotCached):
		writeJSON(w, http.StatusNotFound, resp)
		return
	case errors.Is(err, pipeline.ErrNoOperation),
		errors.Is(err, pipeline.ErrInvalidOperation),
		errors.Is(err, privacy.ErrEncoding),
		errors.Is(err, privacy.ErrInvalidScope):
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	if !res.Cached {
		resp.Refusal = s.cache.Policy().Evaluate(cache.SnapshotOf(res.Resume, res.Job)).Reason
	}
	status := http.StatusOK
	if !res.Hit && res.Cached {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.cache.Cleanup()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.cache.Clear()})
}

// handleRecentAudit lists stored audit events, newest first.
func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxAuditLimit))
			return
		}
		limit = n
	}

	events, err := s.auditLog.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read audit log", zap.Error(err))
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("audit log unavailable"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": events})
}

func summarize(r privacy.ScrubResult) documentSummary {
	return documentSummary{
		Categories:  r.CategoryNames(),
		ItemsFound:  r.ItemsFound,
		HasCritical: r.HasCritical,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := s.config.Server.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, r, status, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) parseScope(w http.ResponseWriter, r *http.Request, name string) (privacy.Scope, bool) {
	if name == "" {
		name = privacy.ScopeGeneral.String()
	}
	scope, err := privacy.ParseScope(name)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return 0, false
	}
	return scope, true
}

// writeError logs err and returns it to the caller. Scrubber errors carry
// byte offsets, never document text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.WithRequestID(getRequestID(r.Context())).Warn("Request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status_code", status),
		zap.Error(err),
	)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
