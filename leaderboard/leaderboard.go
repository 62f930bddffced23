// Package leaderboard maintains in-memory per-metric rankings, materialized
// from metric_updated bus events so reads never touch the store.
package leaderboard

import (
	"sort"
	"sync"

	"achievekit/core"
)

// Entry represents one user's standing on a board.
type Entry struct {
	User  core.UserID `json:"user_id"`
	Score float64     `json:"score"`
}

// Board abstracts per-metric ranking operations.
type Board interface {
	Update(user core.UserID, score float64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Rank(user core.UserID) (int, bool)
}

// Boards manages one Board per metric and feeds them from the event bus.
type Boards struct {
	mu     sync.RWMutex
	boards map[string]Board
	make   func() Board
}

// NewBoards creates a manager that backs each metric with a skip list.
func NewBoards() *Boards {
	return &Boards{boards: map[string]Board{}, make: func() Board { return NewSkipList() }}
}

// Metric returns the board for a metric, creating it on first use.
func (b *Boards) Metric(metricID string) Board {
	b.mu.RLock()
	board, ok := b.boards[metricID]
	b.mu.RUnlock()
	if ok {
		return board
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if board, ok = b.boards[metricID]; ok {
		return board
	}
	board = b.make()
	b.boards[metricID] = board
	return board
}

// Drop discards the board for a metric (after a metric delete cascade).
func (b *Boards) Drop(metricID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.boards, metricID)
}

// Metrics lists the metric ids with live boards.
func (b *Boards) Metrics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.boards))
	for id := range b.boards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnEvent folds metric_updated events into the matching board. Wire it as a
// bus subscriber; other event types are ignored.
func (b *Boards) OnEvent(ev core.BusEvent) {
	if ev.Type != core.EventMetricUpdated || ev.MetricID == "" {
		return
	}
	b.Metric(ev.MetricID).Update(ev.UserID, ev.Value)
}
