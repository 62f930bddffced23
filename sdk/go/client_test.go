package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"achievekit/achieve"
	"achievekit/api/httpapi"
	"achievekit/core"
	"achievekit/realtime"
	"achievekit/scoring"
)

// newTestServer runs a real in-memory engine behind the HTTP API.
func newTestServer(t *testing.T, opts httpapi.Options) *httptest.Server {
	t.Helper()
	hub := realtime.NewHub()
	svc := achieve.New(
		achieve.WithRealtime(hub),
		achieve.WithLeaderboards(),
	)
	t.Cleanup(svc.Close)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, opts))
	t.Cleanup(srv.Close)
	return srv
}

func seedCatalog(t *testing.T, client *Client) {
	t.Helper()
	ctx := context.Background()

	if _, err := client.CreateMetric(ctx, core.GameMetric{
		ID: "quizzes", Name: "Quizzes Completed", DefaultIncrementValue: 1,
	}); err != nil {
		t.Fatalf("create metric: %v", err)
	}
	if _, err := client.CreateMetric(ctx, core.GameMetric{
		ID: "quiz_points", Name: "Quiz Points", DefaultIncrementValue: 1,
	}); err != nil {
		t.Fatalf("create points metric: %v", err)
	}
	if _, err := client.CreateEvent(ctx, core.Event{
		ID:   "quiz-finished",
		Name: "quiz_finished",
		PayloadSchema: core.PayloadSchema{
			"passed": core.TypeBoolean,
		},
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := client.CreateRule(ctx, core.Rule{
		Name:     "passed quiz counts",
		EventID:  "quiz-finished",
		MetricID: "quizzes",
		Logic:    core.LogicExpr{"==": []any{map[string]any{"var": "passed"}, true}},
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := client.CreateAchievement(ctx, core.MetricAchievement{
		ID: "quiz-novice", Name: "Quiz Novice", MetricID: "quizzes", MetricCount: 2,
	}); err != nil {
		t.Fatalf("create achievement: %v", err)
	}
}

func TestClient_TriggerAndRead(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	seedCatalog(t, client)

	ctx := context.Background()
	trig := core.EventTrigger{
		UserID:  "alice",
		EventID: "quiz-finished",
		Payload: map[string]any{"passed": true},
	}

	resp, err := client.TriggerEvent(ctx, trig)
	if err != nil {
		t.Fatalf("trigger event: %v", err)
	}
	if len(resp.MetricsUpdated) != 1 || resp.MetricsUpdated[0].Value != 1 {
		t.Fatalf("unexpected trigger response: %+v", resp)
	}

	resp, err = client.TriggerEvent(ctx, trig)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if len(resp.AchievementsUnlocked) != 1 || resp.AchievementsUnlocked[0].AchievementID != "quiz-novice" {
		t.Fatalf("expected unlock, got %+v", resp)
	}

	metrics, err := client.UserMetrics(ctx, "alice")
	if err != nil {
		t.Fatalf("user metrics: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Value != 2 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	rec, err := client.UserAchievements(ctx, "alice")
	if err != nil {
		t.Fatalf("user achievements: %v", err)
	}
	if len(rec.Achievements) != 1 {
		t.Fatalf("unexpected achievements: %+v", rec)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_MetricTriggerAndLeaderboard(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	seedCatalog(t, client)

	ctx := context.Background()
	for _, user := range []string{"alice", "alice", "bob"} {
		if _, err := client.TriggerMetric(ctx, core.MetricTrigger{
			UserID:  core.UserID(user),
			Metrics: []core.MetricIncrement{{MetricID: "quizzes"}},
		}); err != nil {
			t.Fatalf("trigger metric for %s: %v", user, err)
		}
	}

	top, err := client.Leaderboard(ctx, "quizzes", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 || top[0].User != "alice" || top[0].Score != 2 {
		t.Fatalf("unexpected leaderboard: %+v", top)
	}
}

func TestClient_ScoreAttempt(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	seedCatalog(t, client)

	out, err := client.ScoreAttempt(context.Background(), "carol", "", scoring.Attempt{
		Grades:       []scoring.Grade{{Confidence: 3, Correct: true}},
		Streaks:      1,
		TimeTaken:    40,
		IdealTime:    60,
		AttemptCount: 1,
	})
	if err != nil {
		t.Fatalf("score attempt: %v", err)
	}
	if out.Result.PointsAdded != 20 {
		t.Fatalf("expected 20 points, got %d", out.Result.PointsAdded)
	}
}

func TestClient_APIErrors(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetEvent(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}

	if _, err := client.TriggerEvent(context.Background(), core.EventTrigger{EventID: "x"}); err != ErrEmptyUserID {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	seedCatalog(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// give the server side a moment to register the hub subscription
	time.Sleep(10 * time.Millisecond)

	if _, err := client.TriggerMetric(ctx, core.MetricTrigger{
		UserID:  "alice",
		Metrics: []core.MetricIncrement{{MetricID: "quizzes"}},
	}); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != core.EventMetricUpdated {
			t.Fatalf("unexpected event type: %s", evt.Type)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
