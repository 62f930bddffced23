package achieve_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"achievekit/achieve"
	"achievekit/analytics"
	"achievekit/core"
	"achievekit/realtime"
	"achievekit/scoring"
)

// seedCatalog registers a quiz event with one rule, the quizzes metric, and
// a threshold achievement at 3.
func seedCatalog(t *testing.T, svc *achieve.Service) (core.Event, core.GameMetric, core.MetricAchievement) {
	t.Helper()
	ctx := context.Background()

	metric, err := svc.Catalog.CreateMetric(ctx, core.GameMetric{
		ID: "quizzes", Name: "Quizzes Completed", DefaultIncrementValue: 1,
	})
	require.NoError(t, err)

	event, err := svc.Catalog.CreateEvent(ctx, core.Event{
		ID:   "quiz-finished",
		Name: "quiz_finished",
		PayloadSchema: core.PayloadSchema{
			"score":  core.TypeNumber,
			"passed": core.TypeBoolean,
		},
	})
	require.NoError(t, err)

	_, err = svc.Catalog.CreateRule(ctx, core.Rule{
		Name:     "passed quiz counts",
		EventID:  event.ID,
		MetricID: metric.ID,
		Logic:    core.LogicExpr{"==": []any{map[string]any{"var": "passed"}, true}},
	})
	require.NoError(t, err)

	ach, err := svc.Catalog.CreateAchievement(ctx, core.MetricAchievement{
		ID: "quiz-novice", Name: "Quiz Novice", MetricID: metric.ID, MetricCount: 3,
	})
	require.NoError(t, err)

	return event, metric, ach
}

func TestServiceEndToEnd(t *testing.T) {
	hub := realtime.NewHub()
	dau := analytics.NewDAU()
	svc := achieve.New(
		achieve.WithRealtime(hub),
		achieve.WithAnalytics(dau),
		achieve.WithLeaderboards(),
	)
	defer svc.Close()
	ctx := context.Background()

	event, metric, ach := seedCatalog(t, svc)
	_, hubCh := hub.Subscribe(16)

	payload := map[string]any{"score": 88.0, "passed": true}
	for i := 0; i < 3; i++ {
		resp, err := svc.Triggers.EventTrigger(ctx, core.EventTrigger{
			UserID: "alice", EventID: event.ID, Payload: payload,
		})
		require.NoError(t, err)
		require.Len(t, resp.MetricsUpdated, 1)
		assert.Equal(t, float64(i+1), resp.MetricsUpdated[0].Value)
		if i == 2 {
			require.Len(t, resp.AchievementsUnlocked, 1)
			assert.Equal(t, ach.ID, resp.AchievementsUnlocked[0].AchievementID)
		} else {
			assert.Empty(t, resp.AchievementsUnlocked)
		}
	}

	// Leaderboard materialized from bus events.
	top := svc.Boards.Metric(metric.ID).TopN(1)
	require.Len(t, top, 1)
	assert.Equal(t, core.UserID("alice"), top[0].User)
	assert.Equal(t, 3.0, top[0].Score)

	// Analytics saw the activity.
	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, 1, dau.Count(today))

	// Realtime hub received at least the metric updates.
	select {
	case ev := <-hubCh:
		assert.Equal(t, core.UserID("alice"), ev.UserID)
	default:
		t.Fatal("expected realtime events")
	}
}

func TestServiceFailedQuizDoesNotCount(t *testing.T) {
	svc := achieve.New()
	defer svc.Close()
	ctx := context.Background()

	event, _, _ := seedCatalog(t, svc)

	resp, err := svc.Triggers.EventTrigger(ctx, core.EventTrigger{
		UserID:  "bob",
		EventID: event.ID,
		Payload: map[string]any{"score": 12.0, "passed": false},
	})
	require.NoError(t, err)
	assert.True(t, resp.Empty())
}

func TestServiceScoringFeedsPointsMetric(t *testing.T) {
	svc := achieve.New(achieve.WithPointsMetric("quiz_points"))
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.Catalog.CreateMetric(ctx, core.GameMetric{
		ID: "quiz_points", Name: "Quiz Points", DefaultIncrementValue: 1,
	})
	require.NoError(t, err)

	result, resp, err := svc.Scoring.ScoreAttempt(ctx, "carol", scoring.DefaultProfile, scoring.Attempt{
		Grades:       []scoring.Grade{{Confidence: 3, Correct: true}, {Confidence: 1, Correct: true}},
		Streaks:      1,
		TimeTaken:    40,
		IdealTime:    60,
		AttemptCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.PointsAdded)
	require.Len(t, resp.MetricsUpdated, 1)
	assert.Equal(t, float64(result.PointsAdded), resp.MetricsUpdated[0].Value)
}
