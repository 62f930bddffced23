// Package analytics aggregates engagement KPIs from engine bus events:
// active users, trigger volume, rule match rates, and unlock counts.
package analytics

import (
	"fmt"
	"sync"
	"time"

	"achievekit/core"
)

// Hook receives bus events for KPI aggregation.
type Hook interface {
	OnEvent(e core.BusEvent)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.BusEvent) {
	day := e.Time.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// EngagementMetrics tracks the gamification KPIs the host platform reports
// on: who is active, which rules fire, which metrics move, and which
// achievements unlock.
type EngagementMetrics struct {
	mu sync.RWMutex

	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	matchesByRule  map[string]int64
	matchesByDay   map[string]int64
	deltaByMetric  map[string]float64
	updatesByDay   map[string]int64
	unlocksByDay   map[string]int64
	unlocksByAch   map[string]int64
	uniqueUnlocked map[string]map[core.UserID]struct{}
	pointsByDay    map[string]int64
}

func NewEngagementMetrics() *EngagementMetrics {
	return &EngagementMetrics{
		dailyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		matchesByRule:      make(map[string]int64),
		matchesByDay:       make(map[string]int64),
		deltaByMetric:      make(map[string]float64),
		updatesByDay:       make(map[string]int64),
		unlocksByDay:       make(map[string]int64),
		unlocksByAch:       make(map[string]int64),
		uniqueUnlocked:     make(map[string]map[core.UserID]struct{}),
		pointsByDay:        make(map[string]int64),
	}
}

func (m *EngagementMetrics) OnEvent(e core.BusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := e.Time.UTC().Format("2006-01-02")
	week := weekKey(e.Time)
	month := monthKey(e.Time)
	m.trackActive(e.UserID, day, week, month)

	switch e.Type {
	case core.EventRuleMatched:
		m.matchesByRule[e.RuleID]++
		m.matchesByDay[day]++
	case core.EventMetricUpdated:
		m.deltaByMetric[e.MetricID] += e.Delta
		m.updatesByDay[day]++
	case core.EventAchievementUnlocked:
		m.unlocksByDay[day]++
		m.unlocksByAch[e.AchievementID]++
		if m.uniqueUnlocked[e.AchievementID] == nil {
			m.uniqueUnlocked[e.AchievementID] = make(map[core.UserID]struct{})
		}
		m.uniqueUnlocked[e.AchievementID][e.UserID] = struct{}{}
	case core.EventScoreComputed:
		m.pointsByDay[day] += e.Points
	}
}

func (m *EngagementMetrics) trackActive(user core.UserID, day, week, month string) {
	if m.dailyActiveUsers[day] == nil {
		m.dailyActiveUsers[day] = make(map[core.UserID]struct{})
	}
	m.dailyActiveUsers[day][user] = struct{}{}

	if m.weeklyActiveUsers[week] == nil {
		m.weeklyActiveUsers[week] = make(map[core.UserID]struct{})
	}
	m.weeklyActiveUsers[week][user] = struct{}{}

	if m.monthlyActiveUsers[month] == nil {
		m.monthlyActiveUsers[month] = make(map[core.UserID]struct{})
	}
	m.monthlyActiveUsers[month][user] = struct{}{}
}

// ActiveUsers returns the distinct user count for a day key ("2006-01-02"),
// week key ("2006-W01"), or month key ("2006-01").
func (m *EngagementMetrics) ActiveUsers(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if users, ok := m.dailyActiveUsers[key]; ok {
		return len(users)
	}
	if users, ok := m.weeklyActiveUsers[key]; ok {
		return len(users)
	}
	if users, ok := m.monthlyActiveUsers[key]; ok {
		return len(users)
	}
	return 0
}

// RuleMatches returns how often a rule has fired.
func (m *EngagementMetrics) RuleMatches(ruleID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchesByRule[ruleID]
}

// MetricDelta returns the accumulated delta applied to a metric.
func (m *EngagementMetrics) MetricDelta(metricID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deltaByMetric[metricID]
}

// Unlocks returns how many unlock events an achievement has produced.
func (m *EngagementMetrics) Unlocks(achievementID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocksByAch[achievementID]
}

// UniqueUnlockers returns how many distinct users hold an achievement.
func (m *EngagementMetrics) UniqueUnlockers(achievementID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uniqueUnlocked[achievementID])
}

// PointsAwarded returns the quiz points granted on a day.
func (m *EngagementMetrics) PointsAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByDay[day]
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
