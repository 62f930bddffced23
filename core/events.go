package core

import "time"

// BusEventType enumerates domain events published on the engine bus.
type BusEventType string

const (
	EventMetricUpdated       BusEventType = "metric_updated"
	EventAchievementUnlocked BusEventType = "achievement_unlocked"
	EventRuleMatched         BusEventType = "rule_matched"
	EventScoreComputed       BusEventType = "score_computed"
)

// BusEvent is an immutable domain event emitted after a trigger commits.
type BusEvent struct {
	Type          BusEventType   `json:"type"`
	Time          time.Time      `json:"time"`
	UserID        UserID         `json:"user_id"`
	MetricID      string         `json:"metric_id,omitempty"`
	Delta         float64        `json:"delta,omitempty"`
	Value         float64        `json:"value,omitempty"`
	RuleID        string         `json:"rule_id,omitempty"`
	AchievementID string         `json:"achievement_id,omitempty"`
	Points        int64          `json:"points,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewMetricUpdated(user UserID, metricID string, delta, value float64) BusEvent {
	return BusEvent{Type: EventMetricUpdated, Time: time.Now().UTC(), UserID: user, MetricID: metricID, Delta: delta, Value: value}
}

func NewAchievementUnlocked(user UserID, achievementID, metricID string) BusEvent {
	return BusEvent{Type: EventAchievementUnlocked, Time: time.Now().UTC(), UserID: user, AchievementID: achievementID, MetricID: metricID}
}

func NewRuleMatched(user UserID, ruleID, metricID string) BusEvent {
	return BusEvent{Type: EventRuleMatched, Time: time.Now().UTC(), UserID: user, RuleID: ruleID, MetricID: metricID}
}

func NewScoreComputed(user UserID, metricID string, points int64) BusEvent {
	return BusEvent{Type: EventScoreComputed, Time: time.Now().UTC(), UserID: user, MetricID: metricID, Points: points}
}
