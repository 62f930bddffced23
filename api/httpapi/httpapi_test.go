package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"achievekit/achieve"
	"achievekit/api/httpapi"
	"achievekit/core"
	"achievekit/leaderboard"
	"achievekit/realtime"
	"achievekit/scoring"
)

func newTestServer(t *testing.T, opts httpapi.Options) (*httptest.Server, *achieve.Service) {
	t.Helper()
	hub := realtime.NewHub()
	svc := achieve.New(
		achieve.WithRealtime(hub),
		achieve.WithLeaderboards(),
	)
	t.Cleanup(svc.Close)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, opts))
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func seedOverHTTP(t *testing.T, base string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/metrics", core.GameMetric{
		ID: "quizzes", Name: "Quizzes Completed", DefaultIncrementValue: 1,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/events", core.Event{
		ID:   "quiz-finished",
		Name: "quiz_finished",
		PayloadSchema: core.PayloadSchema{
			"passed": core.TypeBoolean,
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/rules", core.Rule{
		Name:     "passed quiz counts",
		EventID:  "quiz-finished",
		MetricID: "quizzes",
		Logic:    core.LogicExpr{"==": []any{map[string]any{"var": "passed"}, true}},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/achievements", core.MetricAchievement{
		ID: "quiz-novice", Name: "Quiz Novice", MetricID: "quizzes", MetricCount: 2,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})

	var status map[string]any
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", status["status"])
}

func TestEventCRUD(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})

	var created core.Event
	resp := doJSON(t, http.MethodPost, srv.URL+"/events", core.Event{
		ID: "quiz-finished", Name: "quiz_finished",
		PayloadSchema: core.PayloadSchema{"score": core.TypeNumber},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, created.Version)

	resp = doJSON(t, http.MethodPost, srv.URL+"/events", core.Event{
		ID: "quiz-finished", Name: "again",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var got core.Event
	resp = doJSON(t, http.MethodGet, srv.URL+"/events/quiz-finished", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "quiz_finished", got.Name)

	var updated core.Event
	resp = doJSON(t, http.MethodPut, srv.URL+"/events/quiz-finished", core.Event{
		Name:          "quiz_finished",
		PayloadSchema: core.PayloadSchema{"score": core.TypeNumber, "passed": core.TypeBoolean},
	}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, updated.Version)

	var list []core.Event
	resp = doJSON(t, http.MethodGet, srv.URL+"/events", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list, 1)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/events/quiz-finished", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/events/quiz-finished", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventTriggerEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	seedOverHTTP(t, srv.URL)

	trig := core.EventTrigger{
		UserID:  "alice",
		EventID: "quiz-finished",
		Payload: map[string]any{"passed": true},
	}

	var resp1 core.TriggerResponse
	r := doJSON(t, http.MethodPost, srv.URL+"/triggers/event", trig, &resp1)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, resp1.MetricsUpdated, 1)
	assert.Equal(t, 1.0, resp1.MetricsUpdated[0].Value)
	assert.Empty(t, resp1.AchievementsUnlocked)

	var resp2 core.TriggerResponse
	r = doJSON(t, http.MethodPost, srv.URL+"/triggers/event", trig, &resp2)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, 2.0, resp2.MetricsUpdated[0].Value)
	require.Len(t, resp2.AchievementsUnlocked, 1)
	assert.Equal(t, "quiz-novice", resp2.AchievementsUnlocked[0].AchievementID)

	// Malformed payload type is rejected before anything is applied.
	bad := core.EventTrigger{
		UserID:  "alice",
		EventID: "quiz-finished",
		Payload: map[string]any{"passed": "yes"},
	}
	r = doJSON(t, http.MethodPost, srv.URL+"/triggers/event", bad, nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	var metrics []core.UserGameMetric
	r = doJSON(t, http.MethodGet, srv.URL+"/users/alice/metrics", nil, &metrics)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, metrics, 1)
	assert.Equal(t, 2.0, metrics[0].Value)

	var rec core.UserGameAchievement
	r = doJSON(t, http.MethodGet, srv.URL+"/users/alice/achievements", nil, &rec)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, rec.Achievements, 1)
}

func TestMetricTriggerEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	seedOverHTTP(t, srv.URL)

	var out core.TriggerResponse
	r := doJSON(t, http.MethodPost, srv.URL+"/triggers/metric", core.MetricTrigger{
		UserID:  "bob",
		Metrics: []core.MetricIncrement{{MetricID: "quizzes"}},
	}, &out)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, out.MetricsUpdated, 1)
	assert.Equal(t, 1.0, out.MetricsUpdated[0].Value)

	// Duplicate metric ids in one public trigger are invalid.
	r = doJSON(t, http.MethodPost, srv.URL+"/triggers/metric", core.MetricTrigger{
		UserID:  "bob",
		Metrics: []core.MetricIncrement{{MetricID: "quizzes"}, {MetricID: "quizzes"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	r = doJSON(t, http.MethodPost, srv.URL+"/triggers/metric", core.MetricTrigger{
		UserID:  "bob",
		Metrics: []core.MetricIncrement{{MetricID: "nope"}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestScoreEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})

	r := doJSON(t, http.MethodPost, srv.URL+"/metrics", core.GameMetric{
		ID: "quiz_points", Name: "Quiz Points", DefaultIncrementValue: 1,
	}, nil)
	require.Equal(t, http.StatusCreated, r.StatusCode)

	body := map[string]any{
		"user_id": "carol",
		"attempt": scoring.Attempt{
			Grades:       []scoring.Grade{{Confidence: 3, Correct: true}},
			Streaks:      1,
			TimeTaken:    40,
			IdealTime:    60,
			AttemptCount: 1,
		},
	}
	var out struct {
		Result  scoring.Result       `json:"result"`
		Trigger core.TriggerResponse `json:"trigger"`
	}
	r = doJSON(t, http.MethodPost, srv.URL+"/score", body, &out)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, int64(20), out.Result.PointsAdded)
	require.Len(t, out.Trigger.MetricsUpdated, 1)
	assert.Equal(t, 20.0, out.Trigger.MetricsUpdated[0].Value)
}

func TestLeaderboardEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	seedOverHTTP(t, srv.URL)

	for _, user := range []string{"alice", "alice", "bob"} {
		r := doJSON(t, http.MethodPost, srv.URL+"/triggers/metric", core.MetricTrigger{
			UserID:  core.UserID(user),
			Metrics: []core.MetricIncrement{{MetricID: "quizzes"}},
		}, nil)
		require.Equal(t, http.StatusOK, r.StatusCode)
	}

	var top []leaderboard.Entry
	r := doJSON(t, http.MethodGet, srv.URL+"/leaderboard/quizzes?limit=2", nil, &top)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("alice"), top[0].User)
	assert.Equal(t, 2.0, top[0].Score)

	var rank map[string]any
	r = doJSON(t, http.MethodGet, srv.URL+"/leaderboard/quizzes/users/bob", nil, &rank)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, 2.0, rank["rank"])

	r = doJSON(t, http.MethodGet, srv.URL+"/leaderboard/quizzes/users/nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	r = doJSON(t, http.MethodGet, srv.URL+"/leaderboard/quizzes?limit=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestWeightsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})

	custom := scoring.DefaultWeights()
	custom.BasePoints = 25

	var stored scoring.Weights
	r := doJSON(t, http.MethodPut, srv.URL+"/scoring/weights/advanced", custom, &stored)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, 25.0, stored.BasePoints)

	var got scoring.Weights
	r = doJSON(t, http.MethodGet, srv.URL+"/scoring/weights/advanced", nil, &got)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, 25.0, got.BasePoints)

	r = doJSON(t, http.MethodDelete, srv.URL+"/scoring/weights/advanced", nil, nil)
	assert.Equal(t, http.StatusNoContent, r.StatusCode)
}

func TestPathPrefix(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{PathPrefix: "/api"})

	r := doJSON(t, http.MethodGet, srv.URL+"/api/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)

	r = doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{APIKeys: []string{"sekret"}})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{
		RateLimitEnabled: true,
		RateLimitRPM:     60,
		RateLimitBurst:   3,
	})

	var codes []int
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{AllowCORSOrigin: "*"})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})

	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	r := doJSON(t, http.MethodGet, srv.URL+"/rules/missing", nil, &envelope)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	assert.Equal(t, "not_found", envelope.Code)
	assert.NotEmpty(t, envelope.Message)
}

func TestCascadeOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	seedOverHTTP(t, srv.URL)

	var rules []core.Rule
	r := doJSON(t, http.MethodGet, srv.URL+"/events/quiz-finished/rules", nil, &rules)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, rules, 1)

	r = doJSON(t, http.MethodDelete, srv.URL+"/events/quiz-finished", nil, nil)
	require.Equal(t, http.StatusNoContent, r.StatusCode)

	r = doJSON(t, http.MethodGet, fmt.Sprintf("%s/rules/%s", srv.URL, rules[0].ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}
