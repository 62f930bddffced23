package engine

import (
	"context"

	"achievekit/core"
)

// Increment is a resolved metric delta ready for atomic application.
type Increment struct {
	MetricID string
	Delta    float64
}

// CatalogStore persists the configurable catalog: events, rules, metrics,
// and achievements. Create fails with Conflict on a duplicate id; Get, Update
// and Delete fail with NotFound when the id does not resolve.
type CatalogStore interface {
	CreateEvent(ctx context.Context, ev core.Event) error
	GetEvent(ctx context.Context, id string) (core.Event, error)
	UpdateEvent(ctx context.Context, ev core.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context) ([]core.Event, error)

	CreateRule(ctx context.Context, r core.Rule) error
	GetRule(ctx context.Context, id string) (core.Rule, error)
	UpdateRule(ctx context.Context, r core.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]core.Rule, error)
	RulesForEvent(ctx context.Context, eventID string) ([]core.Rule, error)
	DeleteRulesByEvent(ctx context.Context, eventID string) error

	CreateMetric(ctx context.Context, m core.GameMetric) error
	GetMetric(ctx context.Context, id string) (core.GameMetric, error)
	UpdateMetric(ctx context.Context, m core.GameMetric) error
	DeleteMetric(ctx context.Context, id string) error
	ListMetrics(ctx context.Context) ([]core.GameMetric, error)
	// MetricsByIDs fetches the referenced metrics in one round trip. A result
	// shorter than the unique id set means some metric does not exist; the
	// caller decides how to surface that.
	MetricsByIDs(ctx context.Context, ids []string) ([]core.GameMetric, error)

	CreateAchievement(ctx context.Context, a core.MetricAchievement) error
	GetAchievement(ctx context.Context, id string) (core.MetricAchievement, error)
	UpdateAchievement(ctx context.Context, a core.MetricAchievement) error
	DeleteAchievement(ctx context.Context, id string) error
	ListAchievements(ctx context.Context) ([]core.MetricAchievement, error)
	// AchievementsForMetrics fetches every achievement whose metric id is in
	// the given set.
	AchievementsForMetrics(ctx context.Context, metricIDs []string) ([]core.MetricAchievement, error)
}

// ProgressStore persists per-user counters and unlocked achievements.
type ProgressStore interface {
	// IncrementMetrics applies every increment atomically with upsert
	// semantics (a missing counter is created with the delta as its baseline)
	// and returns the post-increment rows, one per unique metric id. Repeated
	// metric ids are each applied; no partial application may survive an
	// error.
	IncrementMetrics(ctx context.Context, user core.UserID, incs []Increment) ([]core.UserGameMetric, error)
	UserMetrics(ctx context.Context, user core.UserID) ([]core.UserGameMetric, error)
	// UpdateUserMetric overwrites a counter with an absolute value. Only the
	// explicit update API uses this; triggers always go through
	// IncrementMetrics.
	UpdateUserMetric(ctx context.Context, um core.UserGameMetric) error
	DeleteUserMetric(ctx context.Context, user core.UserID, metricID string) error
	DeleteUserMetricsByMetric(ctx context.Context, metricID string) error

	// AddAchievements appends entries to the user's achievement record with
	// set-union semantics, creating the record if absent. Re-adding an
	// already-present achievement id is a no-op.
	AddAchievements(ctx context.Context, user core.UserID, entries []core.UnlockedAchievement) error
	// UserAchievements returns the user's record; a user with no unlocks gets
	// a zero record, not an error.
	UserAchievements(ctx context.Context, user core.UserID) (core.UserGameAchievement, error)
}

// Store is the full persistence contract the engine consumes.
type Store interface {
	CatalogStore
	ProgressStore
	// InTx runs fn atomically: every read and write made through tx shares
	// one transaction, and an error from fn rolls all writes back.
	// Implementations without multi-operation transactions serialize fn
	// behind a lock and restore a snapshot on error.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
