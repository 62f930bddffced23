// Package memory is a concurrent in-memory engine.Store, the canonical
// adapter for tests and demos. Transactions serialize behind one mutex and
// restore a snapshot of the whole state on error, so a failing callback
// leaves no partial writes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"achievekit/core"
	"achievekit/engine"
)

type state struct {
	events           map[string]core.Event
	rules            map[string]core.Rule
	metrics          map[string]core.GameMetric
	achievements     map[string]core.MetricAchievement
	userMetrics      map[string]core.UserGameMetric // keyed by userMetricKey
	userAchievements map[core.UserID]core.UserGameAchievement
}

func newState() *state {
	return &state{
		events:           map[string]core.Event{},
		rules:            map[string]core.Rule{},
		metrics:          map[string]core.GameMetric{},
		achievements:     map[string]core.MetricAchievement{},
		userMetrics:      map[string]core.UserGameMetric{},
		userAchievements: map[core.UserID]core.UserGameAchievement{},
	}
}

func (st *state) clone() *state {
	cp := newState()
	for k, v := range st.events {
		cp.events[k] = v
	}
	for k, v := range st.rules {
		cp.rules[k] = v
	}
	for k, v := range st.metrics {
		cp.metrics[k] = v
	}
	for k, v := range st.achievements {
		cp.achievements[k] = v
	}
	for k, v := range st.userMetrics {
		cp.userMetrics[k] = v
	}
	for k, v := range st.userAchievements {
		entries := make([]core.UnlockedAchievement, len(v.Achievements))
		copy(entries, v.Achievements)
		v.Achievements = entries
		cp.userAchievements[k] = v
	}
	return cp
}

func userMetricKey(user core.UserID, metricID string) string {
	return string(user) + "/" + metricID
}

// Store implements engine.Store in memory.
type Store struct {
	mu   *sync.Mutex
	st   *state
	intx bool
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.intx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx serializes fn behind the store mutex and rolls the state back to a
// snapshot when fn errors. Nested transactions join the enclosing one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx engine.Store) error) error {
	if s.intx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, intx: true}
	if err := fn(ctx, tx); err != nil {
		*s.st = *snap
		return err
	}
	return nil
}

// Events

func (s *Store) CreateEvent(_ context.Context, ev core.Event) error {
	defer s.lock()()
	if _, ok := s.st.events[ev.ID]; ok {
		return core.Conflict("event %s already exists", ev.ID)
	}
	s.st.events[ev.ID] = ev
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (core.Event, error) {
	defer s.lock()()
	ev, ok := s.st.events[id]
	if !ok {
		return core.Event{}, core.NotFound("event %s", id)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(_ context.Context, ev core.Event) error {
	defer s.lock()()
	if _, ok := s.st.events[ev.ID]; !ok {
		return core.NotFound("event %s", ev.ID)
	}
	s.st.events[ev.ID] = ev
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.events[id]; !ok {
		return core.NotFound("event %s", id)
	}
	delete(s.st.events, id)
	return nil
}

func (s *Store) ListEvents(_ context.Context) ([]core.Event, error) {
	defer s.lock()()
	out := make([]core.Event, 0, len(s.st.events))
	for _, ev := range s.st.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Rules

func (s *Store) CreateRule(_ context.Context, r core.Rule) error {
	defer s.lock()()
	if _, ok := s.st.rules[r.ID]; ok {
		return core.Conflict("rule %s already exists", r.ID)
	}
	s.st.rules[r.ID] = r
	return nil
}

func (s *Store) GetRule(_ context.Context, id string) (core.Rule, error) {
	defer s.lock()()
	r, ok := s.st.rules[id]
	if !ok {
		return core.Rule{}, core.NotFound("rule %s", id)
	}
	return r, nil
}

func (s *Store) UpdateRule(_ context.Context, r core.Rule) error {
	defer s.lock()()
	if _, ok := s.st.rules[r.ID]; !ok {
		return core.NotFound("rule %s", r.ID)
	}
	s.st.rules[r.ID] = r
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.rules[id]; !ok {
		return core.NotFound("rule %s", id)
	}
	delete(s.st.rules, id)
	return nil
}

func (s *Store) ListRules(_ context.Context) ([]core.Rule, error) {
	defer s.lock()()
	out := make([]core.Rule, 0, len(s.st.rules))
	for _, r := range s.st.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RulesForEvent(_ context.Context, eventID string) ([]core.Rule, error) {
	defer s.lock()()
	var out []core.Rule
	for _, r := range s.st.rules {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteRulesByEvent(_ context.Context, eventID string) error {
	defer s.lock()()
	for id, r := range s.st.rules {
		if r.EventID == eventID {
			delete(s.st.rules, id)
		}
	}
	return nil
}

// Metrics

func (s *Store) CreateMetric(_ context.Context, m core.GameMetric) error {
	defer s.lock()()
	if _, ok := s.st.metrics[m.ID]; ok {
		return core.Conflict("metric %s already exists", m.ID)
	}
	s.st.metrics[m.ID] = m
	return nil
}

func (s *Store) GetMetric(_ context.Context, id string) (core.GameMetric, error) {
	defer s.lock()()
	m, ok := s.st.metrics[id]
	if !ok {
		return core.GameMetric{}, core.NotFound("metric %s", id)
	}
	return m, nil
}

func (s *Store) UpdateMetric(_ context.Context, m core.GameMetric) error {
	defer s.lock()()
	if _, ok := s.st.metrics[m.ID]; !ok {
		return core.NotFound("metric %s", m.ID)
	}
	s.st.metrics[m.ID] = m
	return nil
}

func (s *Store) DeleteMetric(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.metrics[id]; !ok {
		return core.NotFound("metric %s", id)
	}
	delete(s.st.metrics, id)
	return nil
}

func (s *Store) ListMetrics(_ context.Context) ([]core.GameMetric, error) {
	defer s.lock()()
	out := make([]core.GameMetric, 0, len(s.st.metrics))
	for _, m := range s.st.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MetricsByIDs(_ context.Context, ids []string) ([]core.GameMetric, error) {
	defer s.lock()()
	out := make([]core.GameMetric, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.st.metrics[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Achievements

func (s *Store) CreateAchievement(_ context.Context, a core.MetricAchievement) error {
	defer s.lock()()
	if _, ok := s.st.achievements[a.ID]; ok {
		return core.Conflict("achievement %s already exists", a.ID)
	}
	s.st.achievements[a.ID] = a
	return nil
}

func (s *Store) GetAchievement(_ context.Context, id string) (core.MetricAchievement, error) {
	defer s.lock()()
	a, ok := s.st.achievements[id]
	if !ok {
		return core.MetricAchievement{}, core.NotFound("achievement %s", id)
	}
	return a, nil
}

func (s *Store) UpdateAchievement(_ context.Context, a core.MetricAchievement) error {
	defer s.lock()()
	if _, ok := s.st.achievements[a.ID]; !ok {
		return core.NotFound("achievement %s", a.ID)
	}
	s.st.achievements[a.ID] = a
	return nil
}

func (s *Store) DeleteAchievement(_ context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.achievements[id]; !ok {
		return core.NotFound("achievement %s", id)
	}
	delete(s.st.achievements, id)
	return nil
}

func (s *Store) ListAchievements(_ context.Context) ([]core.MetricAchievement, error) {
	defer s.lock()()
	out := make([]core.MetricAchievement, 0, len(s.st.achievements))
	for _, a := range s.st.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AchievementsForMetrics(_ context.Context, metricIDs []string) ([]core.MetricAchievement, error) {
	defer s.lock()()
	wanted := make(map[string]struct{}, len(metricIDs))
	for _, id := range metricIDs {
		wanted[id] = struct{}{}
	}
	var out []core.MetricAchievement
	for _, a := range s.st.achievements {
		if _, ok := wanted[a.MetricID]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Progress

func (s *Store) IncrementMetrics(_ context.Context, user core.UserID, incs []engine.Increment) ([]core.UserGameMetric, error) {
	defer s.lock()()
	now := time.Now().UTC()
	var order []string
	seen := map[string]struct{}{}
	for _, inc := range incs {
		key := userMetricKey(user, inc.MetricID)
		row, ok := s.st.userMetrics[key]
		if !ok {
			row = core.UserGameMetric{ID: key, UserID: user, MetricID: inc.MetricID}
		}
		next, err := core.AddSafe(row.Value, inc.Delta)
		if err != nil {
			return nil, err
		}
		row.Value = next
		row.LastUpdated = now
		s.st.userMetrics[key] = row
		if _, dup := seen[inc.MetricID]; !dup {
			seen[inc.MetricID] = struct{}{}
			order = append(order, inc.MetricID)
		}
	}
	out := make([]core.UserGameMetric, 0, len(order))
	for _, id := range order {
		out = append(out, s.st.userMetrics[userMetricKey(user, id)])
	}
	return out, nil
}

func (s *Store) UserMetrics(_ context.Context, user core.UserID) ([]core.UserGameMetric, error) {
	defer s.lock()()
	var out []core.UserGameMetric
	for _, row := range s.st.userMetrics {
		if row.UserID == user {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricID < out[j].MetricID })
	return out, nil
}

func (s *Store) UpdateUserMetric(_ context.Context, um core.UserGameMetric) error {
	defer s.lock()()
	key := userMetricKey(um.UserID, um.MetricID)
	if _, ok := s.st.userMetrics[key]; !ok {
		return core.NotFound("user metric %s", key)
	}
	um.ID = key
	um.LastUpdated = time.Now().UTC()
	s.st.userMetrics[key] = um
	return nil
}

func (s *Store) DeleteUserMetric(_ context.Context, user core.UserID, metricID string) error {
	defer s.lock()()
	key := userMetricKey(user, metricID)
	if _, ok := s.st.userMetrics[key]; !ok {
		return core.NotFound("user metric %s", key)
	}
	delete(s.st.userMetrics, key)
	return nil
}

func (s *Store) DeleteUserMetricsByMetric(_ context.Context, metricID string) error {
	defer s.lock()()
	for key, row := range s.st.userMetrics {
		if row.MetricID == metricID {
			delete(s.st.userMetrics, key)
		}
	}
	return nil
}

func (s *Store) AddAchievements(_ context.Context, user core.UserID, entries []core.UnlockedAchievement) error {
	defer s.lock()()
	rec, ok := s.st.userAchievements[user]
	if !ok {
		rec = core.UserGameAchievement{ID: string(user), UserID: user}
	}
	for _, entry := range entries {
		if rec.Has(entry.AchievementID) {
			continue
		}
		rec.Achievements = append(rec.Achievements, entry)
	}
	s.st.userAchievements[user] = rec
	return nil
}

func (s *Store) UserAchievements(_ context.Context, user core.UserID) (core.UserGameAchievement, error) {
	defer s.lock()()
	rec, ok := s.st.userAchievements[user]
	if !ok {
		return core.UserGameAchievement{ID: string(user), UserID: user}, nil
	}
	entries := make([]core.UnlockedAchievement, len(rec.Achievements))
	copy(entries, rec.Achievements)
	rec.Achievements = entries
	return rec, nil
}

var _ engine.Store = (*Store)(nil)
