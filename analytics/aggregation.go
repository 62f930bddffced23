package analytics

import (
	"sync"
	"time"

	"achievekit/core"
)

// AggregationPeriod represents different time periods for aggregation.
type AggregationPeriod string

const (
	PeriodDaily   AggregationPeriod = "daily"
	PeriodWeekly  AggregationPeriod = "weekly"
	PeriodMonthly AggregationPeriod = "monthly"
)

// AggregatedData is one reporting bucket of gamification KPIs.
type AggregatedData struct {
	Period AggregationPeriod `json:"period"`
	Key    string            `json:"key"` // "2024-01-01" daily, "2024-W01" weekly, "2024-01" monthly

	ActiveUsers          int                `json:"active_users"`
	RuleMatches          int64              `json:"rule_matches"`
	MetricUpdates        int64              `json:"metric_updates"`
	DeltaByMetric        map[string]float64 `json:"delta_by_metric"`
	AchievementsUnlocked int64              `json:"achievements_unlocked"`
	UnlocksByAchievement map[string]int64   `json:"unlocks_by_achievement"`
	PointsAwarded        int64              `json:"points_awarded"`

	CreatedAt time.Time `json:"created_at"`
}

// Aggregator folds bus events into period buckets ready for export.
type Aggregator struct {
	mu      sync.Mutex
	period  AggregationPeriod
	buckets map[string]*AggregatedData
	active  map[string]map[core.UserID]struct{}
}

func NewAggregator(period AggregationPeriod) *Aggregator {
	return &Aggregator{
		period:  period,
		buckets: make(map[string]*AggregatedData),
		active:  make(map[string]map[core.UserID]struct{}),
	}
}

func (a *Aggregator) key(t time.Time) string {
	switch a.period {
	case PeriodWeekly:
		return weekKey(t)
	case PeriodMonthly:
		return monthKey(t)
	default:
		return t.UTC().Format("2006-01-02")
	}
}

func (a *Aggregator) bucket(key string) *AggregatedData {
	b := a.buckets[key]
	if b == nil {
		b = &AggregatedData{
			Period:               a.period,
			Key:                  key,
			DeltaByMetric:        make(map[string]float64),
			UnlocksByAchievement: make(map[string]int64),
			CreatedAt:            time.Now().UTC(),
		}
		a.buckets[key] = b
	}
	return b
}

func (a *Aggregator) OnEvent(e core.BusEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(e.Time)
	b := a.bucket(key)

	if a.active[key] == nil {
		a.active[key] = make(map[core.UserID]struct{})
	}
	a.active[key][e.UserID] = struct{}{}
	b.ActiveUsers = len(a.active[key])

	switch e.Type {
	case core.EventRuleMatched:
		b.RuleMatches++
	case core.EventMetricUpdated:
		b.MetricUpdates++
		b.DeltaByMetric[e.MetricID] += e.Delta
	case core.EventAchievementUnlocked:
		b.AchievementsUnlocked++
		b.UnlocksByAchievement[e.AchievementID]++
	case core.EventScoreComputed:
		b.PointsAwarded += e.Points
	}
}

// Snapshot returns a copy of the bucket for key, if any.
func (a *Aggregator) Snapshot(key string) (AggregatedData, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[key]
	if !ok {
		return AggregatedData{}, false
	}
	out := *b
	out.DeltaByMetric = make(map[string]float64, len(b.DeltaByMetric))
	for k, v := range b.DeltaByMetric {
		out.DeltaByMetric[k] = v
	}
	out.UnlocksByAchievement = make(map[string]int64, len(b.UnlocksByAchievement))
	for k, v := range b.UnlocksByAchievement {
		out.UnlocksByAchievement[k] = v
	}
	return out, true
}

// Drain removes and returns every closed bucket (all keys except the current
// period), for handing to an Exporter.
func (a *Aggregator) Drain(now time.Time) []AggregatedData {
	a.mu.Lock()
	defer a.mu.Unlock()
	current := a.key(now)
	var out []AggregatedData
	for key, b := range a.buckets {
		if key == current {
			continue
		}
		out = append(out, *b)
		delete(a.buckets, key)
		delete(a.active, key)
	}
	return out
}
