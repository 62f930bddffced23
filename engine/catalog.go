package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"achievekit/core"
	"achievekit/logic"
)

// Catalog is the thin validation and cascade-delete layer over the catalog
// entities. It owns no state beyond its collaborators.
type Catalog struct {
	store Store
	eval  logic.Evaluator
}

func NewCatalog(store Store, eval logic.Evaluator) *Catalog {
	if store == nil || eval == nil {
		panic("NewCatalog requires non-nil store and evaluator")
	}
	return &Catalog{store: store, eval: eval}
}

// CreateEvent registers an event definition. A missing id is generated.
func (c *Catalog) CreateEvent(ctx context.Context, ev core.Event) (core.Event, error) {
	if strings.TrimSpace(ev.Name) == "" {
		return core.Event{}, core.Validation("event name is required")
	}
	if err := ev.PayloadSchema.Validate(); err != nil {
		return core.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Version == 0 {
		ev.Version = 1
	}
	if err := c.store.CreateEvent(ctx, ev); err != nil {
		return core.Event{}, err
	}
	return ev, nil
}

func (c *Catalog) GetEvent(ctx context.Context, id string) (core.Event, error) {
	return c.store.GetEvent(ctx, id)
}

// UpdateEvent replaces the schema wholesale. Existing rules are not migrated;
// a rule written against the old schema may stop matching real payloads.
func (c *Catalog) UpdateEvent(ctx context.Context, ev core.Event) (core.Event, error) {
	current, err := c.store.GetEvent(ctx, ev.ID)
	if err != nil {
		return core.Event{}, err
	}
	if strings.TrimSpace(ev.Name) == "" {
		ev.Name = current.Name
	}
	if err := ev.PayloadSchema.Validate(); err != nil {
		return core.Event{}, err
	}
	ev.Version = current.Version + 1
	if err := c.store.UpdateEvent(ctx, ev); err != nil {
		return core.Event{}, err
	}
	return ev, nil
}

// DeleteEvent removes the event and every rule referencing it in one
// transaction, so no orphaned rules survive.
func (c *Catalog) DeleteEvent(ctx context.Context, id string) error {
	return c.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.GetEvent(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteRulesByEvent(ctx, id); err != nil {
			return err
		}
		return tx.DeleteEvent(ctx, id)
	})
}

func (c *Catalog) ListEvents(ctx context.Context) ([]core.Event, error) {
	return c.store.ListEvents(ctx)
}

// CreateRule validates that the referenced event exists and smoke-tests the
// rule's logic against a synthetic payload built from the event schema. The
// smoke test only proves the expression evaluates for one well-typed shape;
// it cannot guarantee it never fails on a differently shaped real payload.
func (c *Catalog) CreateRule(ctx context.Context, r core.Rule) (core.Rule, error) {
	if strings.TrimSpace(r.Name) == "" {
		return core.Rule{}, core.Validation("rule name is required")
	}
	if r.MetricID == "" {
		return core.Rule{}, core.Validation("rule metric id is required")
	}
	event, err := c.store.GetEvent(ctx, r.EventID)
	if core.IsNotFound(err) {
		return core.Rule{}, core.Validation("rule references unknown event %q", r.EventID)
	}
	if err != nil {
		return core.Rule{}, err
	}
	if _, err := c.eval.Apply(r.Logic, core.DummyPayload(event.PayloadSchema)); err != nil {
		return core.Rule{}, core.Validation("rule logic failed its smoke test: %v", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	if err := c.store.CreateRule(ctx, r); err != nil {
		return core.Rule{}, err
	}
	return r, nil
}

func (c *Catalog) GetRule(ctx context.Context, id string) (core.Rule, error) {
	return c.store.GetRule(ctx, id)
}

func (c *Catalog) UpdateRule(ctx context.Context, r core.Rule) (core.Rule, error) {
	current, err := c.store.GetRule(ctx, r.ID)
	if err != nil {
		return core.Rule{}, err
	}
	if r.EventID == "" {
		r.EventID = current.EventID
	}
	event, err := c.store.GetEvent(ctx, r.EventID)
	if core.IsNotFound(err) {
		return core.Rule{}, core.Validation("rule references unknown event %q", r.EventID)
	}
	if err != nil {
		return core.Rule{}, err
	}
	if _, err := c.eval.Apply(r.Logic, core.DummyPayload(event.PayloadSchema)); err != nil {
		return core.Rule{}, core.Validation("rule logic failed its smoke test: %v", err)
	}
	r.Version = current.Version + 1
	if err := c.store.UpdateRule(ctx, r); err != nil {
		return core.Rule{}, err
	}
	return r, nil
}

func (c *Catalog) DeleteRule(ctx context.Context, id string) error {
	return c.store.DeleteRule(ctx, id)
}

func (c *Catalog) ListRules(ctx context.Context) ([]core.Rule, error) {
	return c.store.ListRules(ctx)
}

func (c *Catalog) RulesForEvent(ctx context.Context, eventID string) ([]core.Rule, error) {
	return c.store.RulesForEvent(ctx, eventID)
}

// CreateMetric registers a counter definition.
func (c *Catalog) CreateMetric(ctx context.Context, m core.GameMetric) (core.GameMetric, error) {
	if strings.TrimSpace(m.Name) == "" {
		return core.GameMetric{}, core.Validation("metric name is required")
	}
	if m.Type == "" {
		m.Type = core.MetricNumber
	}
	if m.Type != core.MetricNumber && m.Type != core.MetricStreak {
		return core.GameMetric{}, core.Validation("unknown metric type %q", m.Type)
	}
	if m.DefaultIncrementValue == 0 {
		m.DefaultIncrementValue = 1
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := c.store.CreateMetric(ctx, m); err != nil {
		return core.GameMetric{}, err
	}
	return m, nil
}

func (c *Catalog) GetMetric(ctx context.Context, id string) (core.GameMetric, error) {
	return c.store.GetMetric(ctx, id)
}

func (c *Catalog) UpdateMetric(ctx context.Context, m core.GameMetric) (core.GameMetric, error) {
	if _, err := c.store.GetMetric(ctx, m.ID); err != nil {
		return core.GameMetric{}, err
	}
	if err := c.store.UpdateMetric(ctx, m); err != nil {
		return core.GameMetric{}, err
	}
	return m, nil
}

// DeleteMetric removes the metric and every per-user counter referencing it
// in one transaction.
func (c *Catalog) DeleteMetric(ctx context.Context, id string) error {
	return c.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.GetMetric(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteUserMetricsByMetric(ctx, id); err != nil {
			return err
		}
		return tx.DeleteMetric(ctx, id)
	})
}

func (c *Catalog) ListMetrics(ctx context.Context) ([]core.GameMetric, error) {
	return c.store.ListMetrics(ctx)
}

// CreateAchievement validates the threshold and the referenced metric.
func (c *Catalog) CreateAchievement(ctx context.Context, a core.MetricAchievement) (core.MetricAchievement, error) {
	if strings.TrimSpace(a.Name) == "" {
		return core.MetricAchievement{}, core.Validation("achievement name is required")
	}
	if a.MetricCount <= 0 {
		return core.MetricAchievement{}, core.Validation("achievement threshold must be positive")
	}
	if _, err := c.store.GetMetric(ctx, a.MetricID); core.IsNotFound(err) {
		return core.MetricAchievement{}, core.Validation("achievement references unknown metric %q", a.MetricID)
	} else if err != nil {
		return core.MetricAchievement{}, err
	}
	if a.Trigger == "" {
		a.Trigger = core.TriggerMetric
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := c.store.CreateAchievement(ctx, a); err != nil {
		return core.MetricAchievement{}, err
	}
	return a, nil
}

func (c *Catalog) GetAchievement(ctx context.Context, id string) (core.MetricAchievement, error) {
	return c.store.GetAchievement(ctx, id)
}

func (c *Catalog) UpdateAchievement(ctx context.Context, a core.MetricAchievement) (core.MetricAchievement, error) {
	if _, err := c.store.GetAchievement(ctx, a.ID); err != nil {
		return core.MetricAchievement{}, err
	}
	if a.MetricCount <= 0 {
		return core.MetricAchievement{}, core.Validation("achievement threshold must be positive")
	}
	if err := c.store.UpdateAchievement(ctx, a); err != nil {
		return core.MetricAchievement{}, err
	}
	return a, nil
}

func (c *Catalog) DeleteAchievement(ctx context.Context, id string) error {
	return c.store.DeleteAchievement(ctx, id)
}

func (c *Catalog) ListAchievements(ctx context.Context) ([]core.MetricAchievement, error) {
	return c.store.ListAchievements(ctx)
}
