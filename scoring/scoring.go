// Package scoring computes per-quiz-attempt points from a weighted formula
// and feeds the result to the metric trigger engine as an explicit-value
// increment, bypassing default-value resolution.
package scoring

import (
	"context"
	"math"

	"achievekit/core"
)

// Weights is externally configurable scoring data, not engine logic.
type Weights struct {
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	HintPenalty    float64 `json:"hint_penalty"`
	StreakBonus    float64 `json:"streak_bonus"`
	TimeWeight     float64 `json:"time_weight"`
	AttemptPenalty float64 `json:"attempt_penalty"`
	BasePoints     float64 `json:"base_points"`
}

// DefaultWeights returns the platform defaults.
func DefaultWeights() Weights {
	return Weights{
		High:           2,
		Low:            1,
		HintPenalty:    -0.5,
		StreakBonus:    3,
		TimeWeight:     0.2,
		AttemptPenalty: -1,
		BasePoints:     10,
	}
}

// Grade is one answered question with the learner's self-reported confidence.
type Grade struct {
	Confidence int  `json:"confidence"`
	Correct    bool `json:"correct"`
}

// highConfidence is the confidence level at which an answer earns (or loses)
// the high weight instead of the low one.
const highConfidence = 3

// Attempt is one quiz attempt to score.
type Attempt struct {
	Grades       []Grade `json:"grades"`
	HintCount    int     `json:"hint_count"`
	Streaks      int     `json:"streaks"`
	TimeTaken    float64 `json:"time_taken"`
	IdealTime    float64 `json:"ideal_time"`
	AttemptCount int     `json:"attempt_count"`
}

// Result is the computed score breakdown.
type Result struct {
	ConfidenceScore float64 `json:"confidence_score"`
	Bonus           float64 `json:"bonus"`
	PointsAdded     int64   `json:"points_added"`
}

// Score computes the attempt's points. Base points apply only on the first
// attempt; the floored total never goes below zero.
func Score(a Attempt, w Weights) Result {
	var confidence float64
	for _, g := range a.Grades {
		weight := w.Low
		if g.Confidence >= highConfidence {
			weight = w.High
		}
		if g.Correct {
			confidence += weight
		} else {
			confidence -= weight
		}
	}

	bonus := confidence +
		float64(a.HintCount)*w.HintPenalty +
		float64(a.Streaks)*w.StreakBonus +
		(a.IdealTime-a.TimeTaken)*w.TimeWeight +
		float64(a.AttemptCount-1)*w.AttemptPenalty

	raw := bonus
	if a.AttemptCount <= 1 {
		raw += w.BasePoints
	}
	points := int64(math.Floor(raw))
	if points < 0 {
		points = 0
	}
	return Result{ConfidenceScore: confidence, Bonus: bonus, PointsAdded: points}
}

// Triggerer is the slice of the trigger engine the scoring service needs.
type Triggerer interface {
	MetricTrigger(ctx context.Context, trig core.MetricTrigger) (core.TriggerResponse, error)
	Publish(ctx context.Context, ev core.BusEvent)
}

// WeightsStore is the keyed weights configuration. Keys name scoring
// profiles (e.g. a course or quiz category).
type WeightsStore interface {
	GetWeights(ctx context.Context, key string) (Weights, error)
	PutWeights(ctx context.Context, key string, w Weights) error
	DeleteWeights(ctx context.Context, key string) error
}

// Service scores attempts and submits the points as explicit metric
// increments.
type Service struct {
	weights  WeightsStore
	trigger  Triggerer
	metricID string
}

// NewService builds a scoring service that credits points to metricID.
func NewService(weights WeightsStore, trigger Triggerer, metricID string) *Service {
	if weights == nil || trigger == nil {
		panic("scoring.NewService requires non-nil weights store and triggerer")
	}
	if metricID == "" {
		panic("scoring.NewService requires a metric id")
	}
	return &Service{weights: weights, trigger: trigger, metricID: metricID}
}

// ScoreAttempt computes the attempt score under the named weights profile and
// applies it through the metric trigger engine with an explicit value, so the
// metric's default increment is not consulted.
func (s *Service) ScoreAttempt(ctx context.Context, user core.UserID, profile string, a Attempt) (Result, core.TriggerResponse, error) {
	if a.AttemptCount < 1 {
		return Result{}, core.TriggerResponse{}, core.Validation("attempt count must be at least 1")
	}
	w, err := s.weights.GetWeights(ctx, profile)
	if err != nil {
		return Result{}, core.TriggerResponse{}, err
	}

	result := Score(a, w)
	if result.PointsAdded == 0 {
		return result, core.TriggerResponse{}, nil
	}

	value := float64(result.PointsAdded)
	resp, err := s.trigger.MetricTrigger(ctx, core.MetricTrigger{
		UserID:  user,
		Metrics: []core.MetricIncrement{{MetricID: s.metricID, Value: &value}},
	})
	if err != nil {
		return Result{}, core.TriggerResponse{}, err
	}
	s.trigger.Publish(ctx, core.NewScoreComputed(user, s.metricID, result.PointsAdded))
	return result, resp, nil
}
