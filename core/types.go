package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a learner in the gamification domain.
type UserID string

// TypeTag is the closed set of payload field types an Event schema may declare.
type TypeTag string

const (
	TypeString  TypeTag = "string"
	TypeNumber  TypeTag = "number"
	TypeBoolean TypeTag = "boolean"
	TypeArray   TypeTag = "array"
	TypeObject  TypeTag = "object"
)

// Valid reports whether the tag is one of the declared payload types.
func (t TypeTag) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// PayloadSchema maps event payload field names to their declared types.
type PayloadSchema map[string]TypeTag

// LogicExpr is an opaque boolean-logic expression tree, encoded as data
// (a JSON-decoded operator map). The engine never interprets it directly;
// a logic.Evaluator does.
type LogicExpr map[string]any

// Event declares a typed occurrence that can drive rule evaluation.
// Identity is immutable; the schema is replaced wholesale on update and
// existing rules are not migrated.
type Event struct {
	ID            string        `json:"id" bson:"_id"`
	Name          string        `json:"name" bson:"name"`
	Description   string        `json:"description,omitempty" bson:"description,omitempty"`
	Version       int           `json:"version" bson:"version"`
	PayloadSchema PayloadSchema `json:"payload_schema" bson:"payloadSchema"`
}

// Rule binds a boolean expression over one Event's payload to one Metric.
type Rule struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	EventID     string    `json:"event_id" bson:"eventId"`
	MetricID    string    `json:"metric_id" bson:"metricId"`
	Logic       LogicExpr `json:"logic" bson:"logic"`
	Version     int       `json:"version" bson:"version"`
}

// MetricType classifies how a metric accumulates.
type MetricType string

const (
	MetricNumber MetricType = "number"
	MetricStreak MetricType = "streak"
)

// GameMetric is a named per-user counter definition.
type GameMetric struct {
	ID                    string     `json:"id" bson:"_id"`
	Name                  string     `json:"name" bson:"name"`
	Description           string     `json:"description,omitempty" bson:"description,omitempty"`
	Type                  MetricType `json:"type" bson:"type"`
	Units                 string     `json:"units,omitempty" bson:"units,omitempty"`
	DefaultIncrementValue float64    `json:"default_increment_value" bson:"defaultIncrementValue"`
}

// UserGameMetric is the central mutable counter: one row per (user, metric),
// enforced by a unique index, created lazily on first trigger.
type UserGameMetric struct {
	ID          string    `json:"id" bson:"_id"`
	UserID      UserID    `json:"user_id" bson:"userId"`
	MetricID    string    `json:"metric_id" bson:"metricId"`
	Value       float64   `json:"value" bson:"value"`
	LastUpdated time.Time `json:"last_updated" bson:"lastUpdated"`
}

// AchievementTrigger identifies what kind of condition unlocks an achievement.
type AchievementTrigger string

// TriggerMetric is currently the only supported achievement trigger.
const TriggerMetric AchievementTrigger = "metric"

// MetricAchievement unlocks for a user once the user's counter for
// MetricID reaches MetricCount.
type MetricAchievement struct {
	ID          string             `json:"id" bson:"_id"`
	Name        string             `json:"name" bson:"name"`
	Description string             `json:"description,omitempty" bson:"description,omitempty"`
	BadgeURL    string             `json:"badge_url,omitempty" bson:"badgeUrl,omitempty"`
	Trigger     AchievementTrigger `json:"trigger" bson:"trigger"`
	MetricID    string             `json:"metric_id" bson:"metricId"`
	MetricCount float64            `json:"metric_count" bson:"metricCount"`
}

// UnlockedAchievement is one entry in a user's achievement record.
type UnlockedAchievement struct {
	AchievementID string    `json:"achievement_id" bson:"achievementId"`
	UnlockedAt    time.Time `json:"unlocked_at" bson:"unlockedAt"`
}

// UserGameAchievement holds all achievements a user has unlocked.
// Entries are appended with set-union semantics: the same achievement id
// is never recorded twice for one user.
type UserGameAchievement struct {
	ID           string                `json:"id" bson:"_id"`
	UserID       UserID                `json:"user_id" bson:"userId"`
	Achievements []UnlockedAchievement `json:"achievements" bson:"achievements"`
}

// Has reports whether the achievement id is already recorded.
func (u UserGameAchievement) Has(achievementID string) bool {
	for _, a := range u.Achievements {
		if a.AchievementID == achievementID {
			return true
		}
	}
	return false
}

// EventTrigger is a request to evaluate an event occurrence against its rules.
type EventTrigger struct {
	UserID  UserID         `json:"user_id"`
	EventID string         `json:"event_id"`
	Payload map[string]any `json:"event_payload"`
}

// MetricIncrement names a metric to bump. A nil Value means "use the
// metric's default increment value".
type MetricIncrement struct {
	MetricID string   `json:"metric_id"`
	Value    *float64 `json:"value,omitempty"`
}

// MetricTrigger is a direct request to increment metrics for one user.
type MetricTrigger struct {
	UserID  UserID            `json:"user_id"`
	Metrics []MetricIncrement `json:"metrics"`
}

// MetricValue is one post-increment counter value in a trigger response.
type MetricValue struct {
	MetricID string  `json:"metric_id"`
	Value    float64 `json:"value"`
}

// UnlockedDetail carries the display fields of a qualifying achievement.
type UnlockedDetail struct {
	AchievementID string    `json:"achievement_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	BadgeURL      string    `json:"badge_url,omitempty"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// TriggerResponse reports the outcome of an event or metric trigger.
//
// AchievementsUnlocked lists every achievement whose threshold is met by the
// post-increment value of a metric touched in this call, including
// achievements that already qualified before the call. The stored achievement
// record uses set-union, so re-listing is harmless, but callers wanting only
// first-time unlocks must opt in via the engine's NewUnlocksOnly option.
type TriggerResponse struct {
	MetricsUpdated       []MetricValue    `json:"metrics_updated"`
	AchievementsUnlocked []UnlockedDetail `json:"achievements_unlocked"`
}

// Empty reports whether the trigger matched nothing (a no-op, not an error).
func (r TriggerResponse) Empty() bool {
	return len(r.MetricsUpdated) == 0 && len(r.AchievementsUnlocked) == 0
}

// AddSafe adds delta to base ensuring the result stays finite.
func AddSafe(base, delta float64) (float64, error) {
	next := base + delta
	if math.IsInf(next, 0) || math.IsNaN(next) {
		return 0, errors.New("non-finite value in AddSafe")
	}
	return next, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", Validation("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateID ensures a non-empty id with a simple charset check.
func ValidateID(id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return Validation("empty id")
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return Validation("invalid id %q", id)
	}
	return nil
}
