package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"achievekit/core"
	"achievekit/logic"
)

// TriggerService wires storage, the logic evaluator, and the event bus into
// the two trigger entry points: event triggers (rule evaluation) and direct
// metric triggers.
type TriggerService struct {
	store          Store
	eval           logic.Evaluator
	bus            *EventBus
	clock          func() time.Time
	newUnlocksOnly bool
}

// TriggerOption configures a TriggerService.
type TriggerOption func(*TriggerService)

// WithClock overrides the unlock timestamp source, mainly for tests.
func WithClock(clock func() time.Time) TriggerOption {
	return func(s *TriggerService) { s.clock = clock }
}

// WithNewUnlocksOnly restricts AchievementsUnlocked in responses to
// achievements the user had not unlocked before this call. The stored record
// is unaffected either way; this filters reporting only. The default (false)
// reports every achievement currently qualifying among the touched metrics.
func WithNewUnlocksOnly(on bool) TriggerOption {
	return func(s *TriggerService) { s.newUnlocksOnly = on }
}

func NewTriggerService(store Store, eval logic.Evaluator, bus *EventBus, opts ...TriggerOption) *TriggerService {
	if store == nil || eval == nil || bus == nil {
		panic("NewTriggerService requires non-nil store, evaluator, and bus")
	}
	s := &TriggerService{store: store, eval: eval, bus: bus, clock: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *TriggerService) Subscribe(typ core.BusEventType, handler func(context.Context, core.BusEvent)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *TriggerService) Publish(ctx context.Context, ev core.BusEvent) {
	s.bus.Publish(ctx, ev)
}

// EventTrigger validates the payload against the event's schema, evaluates
// every rule bound to the event, and increments the metric of each rule whose
// logic holds. Rules sharing a metric each contribute their own increment.
// No matching rule is a no-op, not an error.
func (s *TriggerService) EventTrigger(ctx context.Context, trig core.EventTrigger) (core.TriggerResponse, error) {
	user, err := core.NormalizeUserID(trig.UserID)
	if err != nil {
		return core.TriggerResponse{}, err
	}

	event, err := s.store.GetEvent(ctx, trig.EventID)
	if err != nil {
		return core.TriggerResponse{}, err
	}
	if err := core.ValidatePayload(event.PayloadSchema, trig.Payload); err != nil {
		return core.TriggerResponse{}, err
	}

	rules, err := s.store.RulesForEvent(ctx, event.ID)
	if err != nil {
		return core.TriggerResponse{}, err
	}
	if len(rules) == 0 {
		return core.TriggerResponse{}, core.NotFound("no rules registered for event %s", event.ID)
	}

	var incs []core.MetricIncrement
	var matched []core.Rule
	for _, rule := range rules {
		ok, err := s.eval.Apply(rule.Logic, trig.Payload)
		if err != nil {
			return core.TriggerResponse{}, core.Internal(err, "rule %s failed to evaluate", rule.ID)
		}
		if ok {
			incs = append(incs, core.MetricIncrement{MetricID: rule.MetricID})
			matched = append(matched, rule)
		}
	}
	if len(incs) == 0 {
		return core.TriggerResponse{}, nil
	}

	resp, err := s.trigger(ctx, user, incs)
	if err != nil {
		return core.TriggerResponse{}, err
	}
	for _, rule := range matched {
		s.bus.Publish(ctx, core.NewRuleMatched(user, rule.ID, rule.MetricID))
	}
	return resp, nil
}

// MetricTrigger increments metrics for a user directly, bypassing rule
// evaluation. Duplicate metric ids in one request are a caller error; rule
// evaluation uses the internal path, where rules sharing a metric legitimately
// stack.
func (s *TriggerService) MetricTrigger(ctx context.Context, trig core.MetricTrigger) (core.TriggerResponse, error) {
	user, err := core.NormalizeUserID(trig.UserID)
	if err != nil {
		return core.TriggerResponse{}, err
	}
	if len(trig.Metrics) == 0 {
		return core.TriggerResponse{}, core.Validation("at least one metric is required")
	}
	seen := make(map[string]struct{}, len(trig.Metrics))
	for _, m := range trig.Metrics {
		if _, dup := seen[m.MetricID]; dup {
			return core.TriggerResponse{}, core.Validation("duplicate metric id %q in request", m.MetricID)
		}
		seen[m.MetricID] = struct{}{}
	}
	return s.trigger(ctx, user, trig.Metrics)
}

// trigger is the metric trigger engine: default-value resolution, atomic bulk
// increment, post-increment re-read, threshold qualification, and set-union
// unlock, all inside one storage transaction. Bus events publish only after
// the transaction commits.
func (s *TriggerService) trigger(ctx context.Context, user core.UserID, incs []core.MetricIncrement) (core.TriggerResponse, error) {
	ids := uniqueMetricIDs(incs)
	now := s.clock()

	var resp core.TriggerResponse
	var events []core.BusEvent
	err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		metrics, err := tx.MetricsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(metrics) != len(ids) {
			return core.NotFound("unknown metric ids: %v", missingIDs(ids, metrics))
		}
		defaults := make(map[string]float64, len(metrics))
		for _, m := range metrics {
			defaults[m.ID] = m.DefaultIncrementValue
		}

		resolved := make([]Increment, 0, len(incs))
		deltas := make(map[string]float64, len(ids))
		for _, inc := range incs {
			delta := defaults[inc.MetricID]
			if inc.Value != nil {
				delta = *inc.Value
			}
			resolved = append(resolved, Increment{MetricID: inc.MetricID, Delta: delta})
			deltas[inc.MetricID] += delta
		}

		updated, err := tx.IncrementMetrics(ctx, user, resolved)
		if err != nil {
			return err
		}

		achievements, err := tx.AchievementsForMetrics(ctx, ids)
		if err != nil {
			return err
		}
		values := make(map[string]float64, len(updated))
		for _, um := range updated {
			values[um.MetricID] = um.Value
		}

		var qualifying []core.MetricAchievement
		for _, a := range achievements {
			if value, ok := values[a.MetricID]; ok && a.MetricCount <= value {
				qualifying = append(qualifying, a)
			}
		}
		sort.Slice(qualifying, func(i, j int) bool {
			if qualifying[i].MetricID != qualifying[j].MetricID {
				return qualifying[i].MetricID < qualifying[j].MetricID
			}
			return qualifying[i].MetricCount < qualifying[j].MetricCount
		})

		report := qualifying
		if s.newUnlocksOnly && len(qualifying) > 0 {
			prior, err := tx.UserAchievements(ctx, user)
			if err != nil {
				return err
			}
			report = report[:0:0]
			for _, a := range qualifying {
				if !prior.Has(a.ID) {
					report = append(report, a)
				}
			}
		}

		if len(qualifying) > 0 {
			entries := make([]core.UnlockedAchievement, 0, len(qualifying))
			for _, a := range qualifying {
				entries = append(entries, core.UnlockedAchievement{AchievementID: a.ID, UnlockedAt: now})
			}
			if err := tx.AddAchievements(ctx, user, entries); err != nil {
				return err
			}
		}

		resp = core.TriggerResponse{MetricsUpdated: make([]core.MetricValue, 0, len(ids))}
		for _, id := range ids {
			resp.MetricsUpdated = append(resp.MetricsUpdated, core.MetricValue{MetricID: id, Value: values[id]})
			events = append(events, core.NewMetricUpdated(user, id, deltas[id], values[id]))
		}
		for _, a := range report {
			resp.AchievementsUnlocked = append(resp.AchievementsUnlocked, core.UnlockedDetail{
				AchievementID: a.ID,
				Name:          a.Name,
				Description:   a.Description,
				BadgeURL:      a.BadgeURL,
				UnlockedAt:    now,
			})
			events = append(events, core.NewAchievementUnlocked(user, a.ID, a.MetricID))
		}
		return nil
	})
	if err != nil {
		return core.TriggerResponse{}, storeErr(err, "metric trigger for user %s", user)
	}

	for _, ev := range events {
		s.bus.Publish(ctx, ev)
	}
	return resp, nil
}

// UserMetrics returns all counters for a user.
func (s *TriggerService) UserMetrics(ctx context.Context, user core.UserID) ([]core.UserGameMetric, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.store.UserMetrics(ctx, normalized)
}

// UserAchievements returns the user's unlock record.
func (s *TriggerService) UserAchievements(ctx context.Context, user core.UserID) (core.UserGameAchievement, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserGameAchievement{}, err
	}
	return s.store.UserAchievements(ctx, normalized)
}

func (s *TriggerService) Close() { s.bus.Close() }

// uniqueMetricIDs preserves first-seen order.
func uniqueMetricIDs(incs []core.MetricIncrement) []string {
	seen := make(map[string]struct{}, len(incs))
	ids := make([]string, 0, len(incs))
	for _, inc := range incs {
		if _, ok := seen[inc.MetricID]; ok {
			continue
		}
		seen[inc.MetricID] = struct{}{}
		ids = append(ids, inc.MetricID)
	}
	return ids
}

func missingIDs(ids []string, metrics []core.GameMetric) []string {
	found := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		found[m.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// storeErr passes typed engine errors through and wraps anything else as
// internal, so storage aborts surface with a stable code.
func storeErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	return core.Internal(err, format, args...)
}
