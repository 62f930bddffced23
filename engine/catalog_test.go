package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"achievekit/adapters/memory"
	"achievekit/core"
	"achievekit/engine"
	"achievekit/logic"
)

func newCatalog(store engine.Store) *engine.Catalog {
	return engine.NewCatalog(store, logic.NewDefault())
}

func TestCreateEventValidation(t *testing.T) {
	cat := newCatalog(memory.New())
	ctx := context.Background()

	_, err := cat.CreateEvent(ctx, core.Event{Name: ""})
	require.True(t, core.IsValidation(err))

	_, err = cat.CreateEvent(ctx, core.Event{Name: "quiz", PayloadSchema: core.PayloadSchema{}})
	require.True(t, core.IsValidation(err), "empty schema rejected: %v", err)

	ev, err := cat.CreateEvent(ctx, core.Event{Name: "quiz", PayloadSchema: core.PayloadSchema{"score": core.TypeNumber}})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID, "id is generated when absent")
	require.Equal(t, 1, ev.Version)
}

func TestCreateRuleRequiresEventAndSmokeTest(t *testing.T) {
	store := memory.New()
	cat := newCatalog(store)
	ctx := context.Background()

	ev, err := cat.CreateEvent(ctx, core.Event{Name: "quiz", PayloadSchema: core.PayloadSchema{"score": core.TypeNumber}})
	require.NoError(t, err)

	_, err = cat.CreateRule(ctx, core.Rule{Name: "r", EventID: "ghost", MetricID: "m1", Logic: alwaysTrue()})
	require.True(t, core.IsValidation(err), "unknown event id is an invalid argument: %v", err)

	// Logic that cannot evaluate against a well-typed dummy payload fails.
	_, err = cat.CreateRule(ctx, core.Rule{
		Name: "r", EventID: ev.ID, MetricID: "m1",
		Logic: core.LogicExpr{"frobnicate": []any{}},
	})
	require.True(t, core.IsValidation(err))

	r, err := cat.CreateRule(ctx, core.Rule{
		Name: "r", EventID: ev.ID, MetricID: "m1",
		Logic: core.LogicExpr{">=": []any{map[string]any{"var": "score"}, 80.0}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
}

func TestDeleteEventCascadesRules(t *testing.T) {
	store := memory.New()
	cat := newCatalog(store)
	ctx := context.Background()

	ev, err := cat.CreateEvent(ctx, core.Event{Name: "quiz", PayloadSchema: core.PayloadSchema{"score": core.TypeNumber}})
	require.NoError(t, err)
	_, err = cat.CreateRule(ctx, core.Rule{Name: "r1", EventID: ev.ID, MetricID: "m1", Logic: alwaysTrue()})
	require.NoError(t, err)
	_, err = cat.CreateRule(ctx, core.Rule{Name: "r2", EventID: ev.ID, MetricID: "m2", Logic: alwaysTrue()})
	require.NoError(t, err)

	require.NoError(t, cat.DeleteEvent(ctx, ev.ID))

	rules, err := cat.ListRules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules, "no rule may reference a deleted event")

	_, err = cat.GetEvent(ctx, ev.ID)
	require.True(t, core.IsNotFound(err))
}

func TestDeleteMetricCascadesUserMetrics(t *testing.T) {
	store := memory.New()
	cat := newCatalog(store)
	ctx := context.Background()

	m, err := cat.CreateMetric(ctx, core.GameMetric{Name: "points", DefaultIncrementValue: 5})
	require.NoError(t, err)
	_, err = store.IncrementMetrics(ctx, "u1", []engine.Increment{{MetricID: m.ID, Delta: 5}})
	require.NoError(t, err)

	require.NoError(t, cat.DeleteMetric(ctx, m.ID))

	rows, err := store.UserMetrics(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateAchievementValidation(t *testing.T) {
	store := memory.New()
	cat := newCatalog(store)
	ctx := context.Background()

	m, err := cat.CreateMetric(ctx, core.GameMetric{Name: "points"})
	require.NoError(t, err)

	_, err = cat.CreateAchievement(ctx, core.MetricAchievement{Name: "A", MetricID: m.ID, MetricCount: 0})
	require.True(t, core.IsValidation(err), "non-positive threshold rejected")

	_, err = cat.CreateAchievement(ctx, core.MetricAchievement{Name: "A", MetricID: "ghost", MetricCount: 1})
	require.True(t, core.IsValidation(err), "unknown metric rejected")

	a, err := cat.CreateAchievement(ctx, core.MetricAchievement{Name: "A", MetricID: m.ID, MetricCount: 10})
	require.NoError(t, err)
	require.Equal(t, core.TriggerMetric, a.Trigger)
}

func TestUpdateEventBumpsVersion(t *testing.T) {
	cat := newCatalog(memory.New())
	ctx := context.Background()

	ev, err := cat.CreateEvent(ctx, core.Event{Name: "quiz", PayloadSchema: core.PayloadSchema{"score": core.TypeNumber}})
	require.NoError(t, err)

	ev.PayloadSchema = core.PayloadSchema{"score": core.TypeNumber, "topic": core.TypeString}
	updated, err := cat.UpdateEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
}
