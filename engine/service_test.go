package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"achievekit/adapters/memory"
	"achievekit/core"
	"achievekit/engine"
	"achievekit/logic"
)

func alwaysTrue() core.LogicExpr  { return core.LogicExpr{"==": []any{1.0, 1.0}} }
func alwaysFalse() core.LogicExpr { return core.LogicExpr{"==": []any{1.0, 2.0}} }

func ptr(v float64) *float64 { return &v }

func newService(t *testing.T, store engine.Store, opts ...engine.TriggerOption) *engine.TriggerService {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	return engine.NewTriggerService(store, logic.NewDefault(), engine.NewEventBus(engine.DispatchSync), opts...)
}

func seedMetric(t *testing.T, store engine.Store, id string, def float64) {
	t.Helper()
	require.NoError(t, store.CreateMetric(context.Background(), core.GameMetric{
		ID: id, Name: id, Type: core.MetricNumber, DefaultIncrementValue: def,
	}))
}

func TestMetricTriggerDefaultSubstitution(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 10)
	svc := newService(t, store)
	ctx := context.Background()

	resp, err := svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Equal(t, []core.MetricValue{{MetricID: "m1", Value: 10}}, resp.MetricsUpdated)

	resp, err = svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1", Value: ptr(5)}}})
	require.NoError(t, err)
	require.Equal(t, float64(15), resp.MetricsUpdated[0].Value)
}

func TestMetricTriggerDuplicateIDsRejected(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 1)
	svc := newService(t, store)

	_, err := svc.MetricTrigger(context.Background(), core.MetricTrigger{
		UserID:  "u1",
		Metrics: []core.MetricIncrement{{MetricID: "m1"}, {MetricID: "m1"}},
	})
	require.True(t, core.IsValidation(err), "duplicate submission is a caller error: %v", err)
}

func TestMetricTriggerUnknownMetricIsHardError(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 1)
	svc := newService(t, store)

	_, err := svc.MetricTrigger(context.Background(), core.MetricTrigger{
		UserID:  "u1",
		Metrics: []core.MetricIncrement{{MetricID: "m1"}, {MetricID: "ghost"}},
	})
	require.True(t, core.IsNotFound(err), "unresolvable metric must fail, not silently no-op: %v", err)

	// And nothing was applied.
	metrics, err := svc.UserMetrics(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, metrics)
}

func TestThresholdUnlockAndIdempotentQualification(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 10)
	require.NoError(t, store.CreateAchievement(context.Background(), core.MetricAchievement{
		ID: "a1", Name: "Ten Points", Trigger: core.TriggerMetric, MetricID: "m1", MetricCount: 10,
	}))
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newService(t, store, engine.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	// First trigger: value reaches 10, achievement unlocks.
	resp, err := svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Len(t, resp.AchievementsUnlocked, 1)
	require.Equal(t, "a1", resp.AchievementsUnlocked[0].AchievementID)
	require.Equal(t, "Ten Points", resp.AchievementsUnlocked[0].Name)
	require.Equal(t, fixed, resp.AchievementsUnlocked[0].UnlockedAt)

	// Second identical trigger: value 20 still qualifies (10 <= 20) and is
	// re-reported, but the stored record keeps a single entry.
	resp, err = svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Equal(t, float64(20), resp.MetricsUpdated[0].Value)
	require.Len(t, resp.AchievementsUnlocked, 1)

	rec, err := svc.UserAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rec.Achievements, 1)
}

func TestNewUnlocksOnlyFiltersRepeatReports(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 10)
	require.NoError(t, store.CreateAchievement(context.Background(), core.MetricAchievement{
		ID: "a1", Name: "Ten", MetricID: "m1", MetricCount: 10,
	}))
	svc := newService(t, store, engine.WithNewUnlocksOnly(true))
	ctx := context.Background()

	resp, err := svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Len(t, resp.AchievementsUnlocked, 1)

	resp, err = svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Empty(t, resp.AchievementsUnlocked, "already-unlocked achievements are suppressed")
}

func TestEventTriggerRuleSelection(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedMetric(t, store, "m1", 1)
	seedMetric(t, store, "m2", 1)
	require.NoError(t, store.CreateEvent(ctx, core.Event{
		ID: "e1", Name: "quiz_completed", Version: 1,
		PayloadSchema: core.PayloadSchema{"score": core.TypeNumber},
	}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r1", Name: "r1", EventID: "e1", MetricID: "m1", Logic: alwaysTrue()}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r2", Name: "r2", EventID: "e1", MetricID: "m2", Logic: alwaysFalse()}))
	svc := newService(t, store)

	resp, err := svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"score": 50.0}})
	require.NoError(t, err)
	require.Equal(t, []core.MetricValue{{MetricID: "m1", Value: 1}}, resp.MetricsUpdated)

	metrics, err := svc.UserMetrics(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, "m1", metrics[0].MetricID)
}

func TestEventTriggerRulesSharingMetricStack(t *testing.T) {
	// Two matching rules on the same metric each contribute an increment;
	// the rule path does not deduplicate.
	store := memory.New()
	ctx := context.Background()
	seedMetric(t, store, "m1", 3)
	require.NoError(t, store.CreateEvent(ctx, core.Event{
		ID: "e1", Name: "lesson_finished", Version: 1,
		PayloadSchema: core.PayloadSchema{"minutes": core.TypeNumber},
	}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r1", Name: "r1", EventID: "e1", MetricID: "m1", Logic: alwaysTrue()}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r2", Name: "r2", EventID: "e1", MetricID: "m1", Logic: alwaysTrue()}))
	svc := newService(t, store)

	resp, err := svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"minutes": 5.0}})
	require.NoError(t, err)
	require.Equal(t, float64(6), resp.MetricsUpdated[0].Value)
}

func TestEventTriggerPayloadValidation(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedMetric(t, store, "m1", 1)
	require.NoError(t, store.CreateEvent(ctx, core.Event{
		ID: "e1", Name: "quiz_completed", Version: 1,
		PayloadSchema: core.PayloadSchema{"score": core.TypeNumber, "topic": core.TypeString},
	}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r1", Name: "r1", EventID: "e1", MetricID: "m1", Logic: alwaysTrue()}))
	svc := newService(t, store)

	_, err := svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"bogus": 1.0}})
	require.True(t, core.IsValidation(err), "undeclared key must be rejected: %v", err)

	_, err = svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"score": "high"}})
	require.True(t, core.IsValidation(err), "type mismatch must be rejected: %v", err)

	// Strict subset of declared keys is fine.
	_, err = svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"score": 10.0}})
	require.NoError(t, err)
}

func TestEventTriggerMissingEventAndRules(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	svc := newService(t, store)

	_, err := svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "ghost"})
	require.True(t, core.IsNotFound(err))

	require.NoError(t, store.CreateEvent(ctx, core.Event{
		ID: "e1", Name: "orphan", Version: 1, PayloadSchema: core.PayloadSchema{"x": core.TypeNumber},
	}))
	_, err = svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1"})
	require.True(t, core.IsNotFound(err), "an event with no rules is an error: %v", err)
}

func TestEventTriggerNoMatchIsEmptyResponse(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedMetric(t, store, "m1", 1)
	require.NoError(t, store.CreateEvent(ctx, core.Event{
		ID: "e1", Name: "quiz_completed", Version: 1, PayloadSchema: core.PayloadSchema{"score": core.TypeNumber},
	}))
	require.NoError(t, store.CreateRule(ctx, core.Rule{ID: "r1", Name: "r1", EventID: "e1", MetricID: "m1", Logic: alwaysFalse()}))
	svc := newService(t, store)

	resp, err := svc.EventTrigger(ctx, core.EventTrigger{UserID: "u1", EventID: "e1", Payload: map[string]any{"score": 1.0}})
	require.NoError(t, err, "nothing matched is a no-op, not an error")
	require.True(t, resp.Empty())
}

// failingStore makes achievement lookup fail inside the transaction so the
// increment already applied in the same transaction must roll back.
type failingStore struct {
	engine.Store
}

func (f *failingStore) AchievementsForMetrics(ctx context.Context, metricIDs []string) ([]core.MetricAchievement, error) {
	return nil, errors.New("storage down")
}

func (f *failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx engine.Store) error) error {
	return f.Store.InTx(ctx, func(ctx context.Context, tx engine.Store) error {
		return fn(ctx, &failingStore{Store: tx})
	})
}

func TestTriggerAtomicityOnStorageFailure(t *testing.T) {
	inner := memory.New()
	seedMetric(t, inner, "m1", 10)
	svc := newService(t, &failingStore{Store: inner})
	ctx := context.Background()

	_, err := svc.MetricTrigger(ctx, core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.Error(t, err)
	require.Equal(t, core.CodeInternal, core.CodeOf(err))

	metrics, err := inner.UserMetrics(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, metrics, "partial increment must not survive the failed transaction")
}

func TestTriggerPublishesBusEvents(t *testing.T) {
	store := memory.New()
	seedMetric(t, store, "m1", 10)
	require.NoError(t, store.CreateAchievement(context.Background(), core.MetricAchievement{
		ID: "a1", Name: "Ten", MetricID: "m1", MetricCount: 10,
	}))
	svc := newService(t, store)

	var updated, unlocked int
	svc.Subscribe(core.EventMetricUpdated, func(ctx context.Context, e core.BusEvent) { updated++ })
	svc.Subscribe(core.EventAchievementUnlocked, func(ctx context.Context, e core.BusEvent) { unlocked++ })

	_, err := svc.MetricTrigger(context.Background(), core.MetricTrigger{UserID: "u1", Metrics: []core.MetricIncrement{{MetricID: "m1"}}})
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, 1, unlocked)
}
