// Package httpapi exposes the achievement engine over REST plus a WebSocket
// event stream. Error responses carry the engine's error code so clients can
// branch without parsing messages.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"achievekit/achieve"
	wsadapter "achievekit/adapters/websocket"
	"achievekit/core"
	"achievekit/realtime"
	"achievekit/scoring"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
}

// NewMux builds an http.Handler exposing the REST API and WebSocket stream.
// Routes (all under the optional prefix):
//   - POST /triggers/event, POST /triggers/metric
//   - POST /score
//   - CRUD /events, /rules, /metrics, /achievements
//   - GET  /events/{id}/rules
//   - GET  /users/{id}/metrics, GET /users/{id}/achievements
//   - GET  /leaderboard/{metric}, GET /leaderboard/{metric}/users/{id}
//   - GET/PUT/DELETE /scoring/weights/{profile}
//   - GET  /healthz
//   - WS   /ws
func NewMux(svc *achieve.Service, hub *realtime.Hub, opts Options) http.Handler {
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	// Triggers
	route(http.MethodPost, "/triggers/event", func(w http.ResponseWriter, r *http.Request) {
		var trig core.EventTrigger
		if !decode(w, r, &trig) {
			return
		}
		resp, err := svc.Triggers.EventTrigger(r.Context(), trig)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	route(http.MethodPost, "/triggers/metric", func(w http.ResponseWriter, r *http.Request) {
		var trig core.MetricTrigger
		if !decode(w, r, &trig) {
			return
		}
		resp, err := svc.Triggers.MetricTrigger(r.Context(), trig)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	// Scoring
	route(http.MethodPost, "/score", func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if !decode(w, r, &req) {
			return
		}
		result, resp, err := svc.Scoring.ScoreAttempt(r.Context(), req.UserID, req.Profile, req.Attempt)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scoreResponse{Result: result, Trigger: resp})
	})

	// Catalog: events
	route(http.MethodPost, "/events", func(w http.ResponseWriter, r *http.Request) {
		var ev core.Event
		if !decode(w, r, &ev) {
			return
		}
		created, err := svc.Catalog.CreateEvent(r.Context(), ev)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	route(http.MethodGet, "/events", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Catalog.ListEvents(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	route(http.MethodGet, "/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		ev, err := svc.Catalog.GetEvent(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})
	route(http.MethodPut, "/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		var ev core.Event
		if !decode(w, r, &ev) {
			return
		}
		ev.ID = r.PathValue("id")
		updated, err := svc.Catalog.UpdateEvent(r.Context(), ev)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})
	route(http.MethodDelete, "/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Catalog.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	route(http.MethodGet, "/events/{id}/rules", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Catalog.RulesForEvent(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	// Catalog: rules
	route(http.MethodPost, "/rules", func(w http.ResponseWriter, r *http.Request) {
		var rule core.Rule
		if !decode(w, r, &rule) {
			return
		}
		created, err := svc.Catalog.CreateRule(r.Context(), rule)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	route(http.MethodGet, "/rules", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Catalog.ListRules(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	route(http.MethodGet, "/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		rule, err := svc.Catalog.GetRule(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	})
	route(http.MethodPut, "/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		var rule core.Rule
		if !decode(w, r, &rule) {
			return
		}
		rule.ID = r.PathValue("id")
		updated, err := svc.Catalog.UpdateRule(r.Context(), rule)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})
	route(http.MethodDelete, "/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Catalog.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Catalog: metrics
	route(http.MethodPost, "/metrics", func(w http.ResponseWriter, r *http.Request) {
		var m core.GameMetric
		if !decode(w, r, &m) {
			return
		}
		created, err := svc.Catalog.CreateMetric(r.Context(), m)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	route(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Catalog.ListMetrics(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	route(http.MethodGet, "/metrics/{id}", func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.Catalog.GetMetric(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})
	route(http.MethodPut, "/metrics/{id}", func(w http.ResponseWriter, r *http.Request) {
		var m core.GameMetric
		if !decode(w, r, &m) {
			return
		}
		m.ID = r.PathValue("id")
		updated, err := svc.Catalog.UpdateMetric(r.Context(), m)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})
	route(http.MethodDelete, "/metrics/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Catalog.DeleteMetric(r.Context(), r.PathValue("id")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Catalog: achievements
	route(http.MethodPost, "/achievements", func(w http.ResponseWriter, r *http.Request) {
		var a core.MetricAchievement
		if !decode(w, r, &a) {
			return
		}
		created, err := svc.Catalog.CreateAchievement(r.Context(), a)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	route(http.MethodGet, "/achievements", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Catalog.ListAchievements(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	route(http.MethodGet, "/achievements/{id}", func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Catalog.GetAchievement(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
	route(http.MethodPut, "/achievements/{id}", func(w http.ResponseWriter, r *http.Request) {
		var a core.MetricAchievement
		if !decode(w, r, &a) {
			return
		}
		a.ID = r.PathValue("id")
		updated, err := svc.Catalog.UpdateAchievement(r.Context(), a)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})
	route(http.MethodDelete, "/achievements/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Catalog.DeleteAchievement(r.Context(), r.PathValue("id")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// User progress
	route(http.MethodGet, "/users/{id}/metrics", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Triggers.UserMetrics(r.Context(), core.UserID(r.PathValue("id")))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	route(http.MethodGet, "/users/{id}/achievements", func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Triggers.UserAchievements(r.Context(), core.UserID(r.PathValue("id")))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	// Leaderboards
	if svc.Boards != nil {
		route(http.MethodGet, "/leaderboard/{metric}", func(w http.ResponseWriter, r *http.Request) {
			limit := 10
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "validation", "limit must be a positive integer", nil)
					return
				}
				limit = n
			}
			writeJSON(w, http.StatusOK, svc.Boards.Metric(r.PathValue("metric")).TopN(limit))
		})
		route(http.MethodGet, "/leaderboard/{metric}/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			board := svc.Boards.Metric(r.PathValue("metric"))
			user := core.UserID(r.PathValue("id"))
			entry, ok := board.Get(user)
			if !ok {
				writeError(w, http.StatusNotFound, "not_found", "user not on board", nil)
				return
			}
			rank, _ := board.Rank(user)
			writeJSON(w, http.StatusOK, map[string]any{"user_id": entry.User, "score": entry.Score, "rank": rank})
		})
	}

	// Scoring weights
	route(http.MethodGet, "/scoring/weights/{profile}", func(w http.ResponseWriter, r *http.Request) {
		weights, err := svc.Weights.GetWeights(r.Context(), r.PathValue("profile"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, weights)
	})
	route(http.MethodPut, "/scoring/weights/{profile}", func(w http.ResponseWriter, r *http.Request) {
		var weights scoring.Weights
		if !decode(w, r, &weights) {
			return
		}
		if err := svc.Weights.PutWeights(r.Context(), r.PathValue("profile"), weights); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, weights)
	})
	route(http.MethodDelete, "/scoring/weights/{profile}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Weights.DeleteWeights(r.Context(), r.PathValue("profile")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

type scoreRequest struct {
	UserID  core.UserID     `json:"user_id"`
	Profile string          `json:"profile,omitempty"`
	Attempt scoring.Attempt `json:"attempt"`
}

type scoreResponse struct {
	Result  scoring.Result       `json:"result"`
	Trigger core.TriggerResponse `json:"trigger"`
}

// healthCheck verifies storage reachability with a lightweight probe read.
func healthCheck(w http.ResponseWriter, r *http.Request, svc *achieve.Service) {
	_, err := svc.Triggers.UserMetrics(r.Context(), core.UserID("healthcheck_probe"))

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSON(w, code, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

// decode parses the JSON body into v, writing a validation error on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// writeEngineError maps engine error codes onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case core.CodeNotFound:
		status = http.StatusNotFound
	case core.CodeValidation:
		status = http.StatusBadRequest
	case core.CodeConflict:
		status = http.StatusConflict
	}
	msg := err.Error()
	var e *core.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	writeError(w, status, string(code), msg, nil)
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}
