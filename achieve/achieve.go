// Package achieve is the assembly facade: one constructor that wires storage,
// the rule evaluator, the event bus, triggers, catalog management, quiz
// scoring, and the optional realtime/webhook/analytics taps into a ready
// Service.
package achieve

import (
	"context"

	"achievekit/adapters/memory"
	"achievekit/analytics"
	"achievekit/core"
	"achievekit/engine"
	"achievekit/integrations/webhook"
	"achievekit/leaderboard"
	"achievekit/logic"
	"achievekit/realtime"
	"achievekit/scoring"
)

// Service bundles the engine's entry points behind one handle.
type Service struct {
	Triggers *engine.TriggerService
	Catalog  *engine.Catalog
	Scoring  *scoring.Service
	Weights  scoring.WeightsStore
	Boards   *leaderboard.Boards
}

// Close stops the underlying event bus workers.
func (s *Service) Close() { s.Triggers.Close() }

// Option configures the service builder.
type Option func(*config)

type config struct {
	store          engine.Store
	eval           logic.Evaluator
	mode           engine.DispatchMode
	hub            *realtime.Hub
	sink           *webhook.Sink
	hooks          []analytics.Hook
	weights        scoring.WeightsStore
	pointsMetric   string
	newUnlocksOnly bool
	boards         bool
}

// WithStore sets the persistence adapter (defaults to in-memory).
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithEvaluator sets the rule logic evaluator (defaults to the JSON-logic
// style evaluator; pass cel.New() for CEL expressions).
func WithEvaluator(e logic.Evaluator) Option { return func(c *config) { c.eval = e } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhooks wires an outbound webhook sink.
func WithWebhooks(s *webhook.Sink) Option { return func(c *config) { c.sink = s } }

// WithAnalytics subscribes KPI hooks to the bus.
func WithAnalytics(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithWeights sets the scoring weights store (defaults to in-memory with the
// standard profile seeded).
func WithWeights(w scoring.WeightsStore) Option { return func(c *config) { c.weights = w } }

// WithPointsMetric names the metric quiz points accumulate into.
func WithPointsMetric(id string) Option { return func(c *config) { c.pointsMetric = id } }

// WithNewUnlocksOnly restricts reported unlocks to first-time unlocks.
func WithNewUnlocksOnly(on bool) Option { return func(c *config) { c.newUnlocksOnly = on } }

// WithLeaderboards materializes per-metric boards from metric updates.
func WithLeaderboards() Option { return func(c *config) { c.boards = true } }

// New builds a configured Service. Defaults: in-memory store, JSON-logic
// evaluator, sync dispatch, quiz points into "quiz_points".
func New(opts ...Option) *Service {
	cfg := &config{mode: engine.DispatchSync, pointsMetric: "quiz_points"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.eval == nil {
		cfg.eval = logic.NewDefault()
	}
	if cfg.weights == nil {
		cfg.weights = scoring.NewMemoryWeights()
	}

	bus := engine.NewEventBus(cfg.mode)
	triggers := engine.NewTriggerService(cfg.store, cfg.eval, bus,
		engine.WithNewUnlocksOnly(cfg.newUnlocksOnly))
	catalog := engine.NewCatalog(cfg.store, cfg.eval)
	score := scoring.NewService(cfg.weights, triggers, cfg.pointsMetric)

	svc := &Service{
		Triggers: triggers,
		Catalog:  catalog,
		Scoring:  score,
		Weights:  cfg.weights,
	}

	allTypes := []core.BusEventType{
		core.EventMetricUpdated,
		core.EventAchievementUnlocked,
		core.EventRuleMatched,
		core.EventScoreComputed,
	}

	if cfg.hub != nil {
		for _, typ := range allTypes {
			bus.Subscribe(typ, func(ctx context.Context, e core.BusEvent) { cfg.hub.Broadcast(ctx, e) })
		}
	}
	if cfg.sink != nil {
		sink := cfg.sink
		for _, typ := range allTypes {
			bus.Subscribe(typ, func(_ context.Context, e core.BusEvent) { sink.OnEvent(e) })
		}
	}
	if len(cfg.hooks) > 0 {
		bridge := analytics.NewBridge(cfg.hooks...)
		for _, typ := range allTypes {
			bus.Subscribe(typ, func(_ context.Context, e core.BusEvent) { bridge.OnEvent(e) })
		}
	}
	if cfg.boards {
		svc.Boards = leaderboard.NewBoards()
		boards := svc.Boards
		bus.Subscribe(core.EventMetricUpdated, func(_ context.Context, e core.BusEvent) { boards.OnEvent(e) })
	}

	return svc
}
