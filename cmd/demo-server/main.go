// Demo server: an in-memory achievekit instance pre-seeded with a small quiz
// catalog. Try:
//
//	curl -X POST localhost:8080/triggers/event -d '{"user_id":"alice","event_id":"quiz-finished","event_payload":{"score":90,"passed":true}}'
//	curl localhost:8080/users/alice/metrics
//	curl localhost:8080/leaderboard/quizzes
//	websocat ws://localhost:8080/ws
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"achievekit/achieve"
	"achievekit/api/httpapi"
	"achievekit/core"
	"achievekit/realtime"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	hub := realtime.NewHub()
	svc := achieve.New(
		achieve.WithRealtime(hub),
		achieve.WithLeaderboards(),
	)
	defer svc.Close()

	if err := seed(context.Background(), svc); err != nil {
		slog.Error("failed to seed demo catalog", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewMux(svc, hub, httpapi.Options{AllowCORSOrigin: "*"})

	slog.Info("starting demo server on :8080")

	if err := http.ListenAndServe(":8080", handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// seed installs a quiz event, a completion metric with a pass rule, a points
// metric for scoring, and two threshold achievements.
func seed(ctx context.Context, svc *achieve.Service) error {
	for _, m := range []core.GameMetric{
		{ID: "quizzes", Name: "Quizzes Completed", DefaultIncrementValue: 1},
		{ID: "quiz_points", Name: "Quiz Points", DefaultIncrementValue: 1},
	} {
		if _, err := svc.Catalog.CreateMetric(ctx, m); err != nil {
			return err
		}
	}

	ev, err := svc.Catalog.CreateEvent(ctx, core.Event{
		ID:   "quiz-finished",
		Name: "quiz_finished",
		PayloadSchema: core.PayloadSchema{
			"score":  core.TypeNumber,
			"passed": core.TypeBoolean,
		},
	})
	if err != nil {
		return err
	}

	if _, err := svc.Catalog.CreateRule(ctx, core.Rule{
		Name:     "passed quiz counts",
		EventID:  ev.ID,
		MetricID: "quizzes",
		Logic:    core.LogicExpr{"==": []any{map[string]any{"var": "passed"}, true}},
	}); err != nil {
		return err
	}

	for _, a := range []core.MetricAchievement{
		{ID: "quiz-novice", Name: "Quiz Novice", MetricID: "quizzes", MetricCount: 3},
		{ID: "quiz-master", Name: "Quiz Master", MetricID: "quizzes", MetricCount: 25},
	} {
		if _, err := svc.Catalog.CreateAchievement(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
