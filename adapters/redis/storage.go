// Package redis implements engine.Store on Redis.
//
// Data structure:
//   - catalog:{events|rules|metrics|achievements} -> hash id -> JSON entity
//   - idx:rules:event:{eventId}                   -> set of rule ids
//   - idx:achievements:metric:{metricId}          -> set of achievement ids
//   - idx:usermetrics:metric:{metricId}           -> set of user ids
//   - user:{userId}:metrics                       -> hash metricId -> float value
//   - user:{userId}:metrics:updated               -> hash metricId -> RFC3339 timestamp
//   - user:{userId}:achievements                  -> hash achievementId -> RFC3339 unlock time
//
// Counter increments run through a Lua script so the value bump and its
// timestamp land atomically. InTx serializes callers behind a process-local
// mutex; Redis has no multi-statement rollback, so a mid-transaction error
// can leave earlier writes applied. Deployments needing strict trigger
// atomicity should prefer the mongo or sqlx adapters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"achievekit/core"
	"achievekit/engine"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string        `json:"addr" env:"ACHIEVEKIT_STORAGE_REDIS_ADDR"`
	Password     string        `json:"password" env:"ACHIEVEKIT_STORAGE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"ACHIEVEKIT_STORAGE_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"ACHIEVEKIT_STORAGE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"ACHIEVEKIT_STORAGE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"ACHIEVEKIT_STORAGE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"ACHIEVEKIT_STORAGE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"ACHIEVEKIT_STORAGE_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Store using Redis as the backend.
type Store struct {
	client *redis.Client
	mu     sync.Mutex
	intx   bool
}

// New creates a Redis-backed store with the provided configuration.
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// InTx serializes fn behind the store mutex. See the package comment for the
// atomicity caveat.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx engine.Store) error) error {
	if s.intx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &Store{client: s.client, intx: true})
}

const (
	keyEvents       = "catalog:events"
	keyRules        = "catalog:rules"
	keyMetrics      = "catalog:metrics"
	keyAchievements = "catalog:achievements"
)

func rulesByEventKey(eventID string) string { return "idx:rules:event:" + eventID }

func achievementsByMetricKey(metricID string) string { return "idx:achievements:metric:" + metricID }

func usersByMetricKey(metricID string) string { return "idx:usermetrics:metric:" + metricID }

func userMetricsKey(user core.UserID) string { return fmt.Sprintf("user:%s:metrics", user) }

func userMetricsUpdatedKey(user core.UserID) string {
	return fmt.Sprintf("user:%s:metrics:updated", user)
}

func userAchievementsKey(user core.UserID) string { return fmt.Sprintf("user:%s:achievements", user) }

// incrementScript bumps the counter and stamps the update time in one atomic
// step, returning the post-increment value.
var incrementScript = redis.NewScript(`
	local value = redis.call('HINCRBYFLOAT', KEYS[1], ARGV[1], ARGV[2])
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
	return value
`)

// generic catalog hash helpers

func (s *Store) hashCreate(ctx context.Context, key, id string, v any, kind string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return core.Internal(err, "encode %s %s", kind, id)
	}
	set, err := s.client.HSetNX(ctx, key, id, data).Result()
	if err != nil {
		return core.Internal(err, "store %s %s", kind, id)
	}
	if !set {
		return core.Conflict("%s %s already exists", kind, id)
	}
	return nil
}

func (s *Store) hashGet(ctx context.Context, key, id string, out any, kind string) error {
	data, err := s.client.HGet(ctx, key, id).Bytes()
	if err == redis.Nil {
		return core.NotFound("%s %s", kind, id)
	}
	if err != nil {
		return core.Internal(err, "load %s %s", kind, id)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.Internal(err, "decode %s %s", kind, id)
	}
	return nil
}

func (s *Store) hashUpdate(ctx context.Context, key, id string, v any, kind string) error {
	exists, err := s.client.HExists(ctx, key, id).Result()
	if err != nil {
		return core.Internal(err, "check %s %s", kind, id)
	}
	if !exists {
		return core.NotFound("%s %s", kind, id)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return core.Internal(err, "encode %s %s", kind, id)
	}
	if err := s.client.HSet(ctx, key, id, data).Err(); err != nil {
		return core.Internal(err, "store %s %s", kind, id)
	}
	return nil
}

func (s *Store) hashDelete(ctx context.Context, key, id, kind string) error {
	n, err := s.client.HDel(ctx, key, id).Result()
	if err != nil {
		return core.Internal(err, "delete %s %s", kind, id)
	}
	if n == 0 {
		return core.NotFound("%s %s", kind, id)
	}
	return nil
}

func hashList[T any](ctx context.Context, client *redis.Client, key, kind string, id func(T) string) ([]T, error) {
	vals, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, core.Internal(err, "list %s", kind)
	}
	out := make([]T, 0, len(vals))
	for field, data := range vals {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, core.Internal(err, "decode %s %s", kind, field)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out, nil
}

func hashGetMany[T any](ctx context.Context, client *redis.Client, key string, ids []string, kind string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := client.HMGet(ctx, key, ids...).Result()
	if err != nil {
		return nil, core.Internal(err, "load %s", kind)
	}
	out := make([]T, 0, len(ids))
	for i, raw := range vals {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			return nil, core.Internal(nil, "unexpected %s payload for %s", kind, ids[i])
		}
		var v T
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, core.Internal(err, "decode %s %s", kind, ids[i])
		}
		out = append(out, v)
	}
	return out, nil
}

// Events

func (s *Store) CreateEvent(ctx context.Context, ev core.Event) error {
	return s.hashCreate(ctx, keyEvents, ev.ID, ev, "event")
}

func (s *Store) GetEvent(ctx context.Context, id string) (core.Event, error) {
	var ev core.Event
	err := s.hashGet(ctx, keyEvents, id, &ev, "event")
	return ev, err
}

func (s *Store) UpdateEvent(ctx context.Context, ev core.Event) error {
	return s.hashUpdate(ctx, keyEvents, ev.ID, ev, "event")
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.hashDelete(ctx, keyEvents, id, "event")
}

func (s *Store) ListEvents(ctx context.Context) ([]core.Event, error) {
	return hashList(ctx, s.client, keyEvents, "events", func(e core.Event) string { return e.ID })
}

// Rules

func (s *Store) CreateRule(ctx context.Context, r core.Rule) error {
	if err := s.hashCreate(ctx, keyRules, r.ID, r, "rule"); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, rulesByEventKey(r.EventID), r.ID).Err(); err != nil {
		return core.Internal(err, "index rule %s", r.ID)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (core.Rule, error) {
	var r core.Rule
	err := s.hashGet(ctx, keyRules, id, &r, "rule")
	return r, err
}

func (s *Store) UpdateRule(ctx context.Context, r core.Rule) error {
	prior, err := s.GetRule(ctx, r.ID)
	if err != nil {
		return err
	}
	if err := s.hashUpdate(ctx, keyRules, r.ID, r, "rule"); err != nil {
		return err
	}
	if prior.EventID != r.EventID {
		if err := s.client.SRem(ctx, rulesByEventKey(prior.EventID), r.ID).Err(); err != nil {
			return core.Internal(err, "reindex rule %s", r.ID)
		}
		if err := s.client.SAdd(ctx, rulesByEventKey(r.EventID), r.ID).Err(); err != nil {
			return core.Internal(err, "reindex rule %s", r.ID)
		}
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.hashDelete(ctx, keyRules, id, "rule"); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, rulesByEventKey(r.EventID), id).Err(); err != nil {
		return core.Internal(err, "unindex rule %s", id)
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context) ([]core.Rule, error) {
	return hashList(ctx, s.client, keyRules, "rules", func(r core.Rule) string { return r.ID })
}

func (s *Store) RulesForEvent(ctx context.Context, eventID string) ([]core.Rule, error) {
	ids, err := s.client.SMembers(ctx, rulesByEventKey(eventID)).Result()
	if err != nil {
		return nil, core.Internal(err, "list rules for event %s", eventID)
	}
	sort.Strings(ids)
	return hashGetMany[core.Rule](ctx, s.client, keyRules, ids, "rules")
}

func (s *Store) DeleteRulesByEvent(ctx context.Context, eventID string) error {
	ids, err := s.client.SMembers(ctx, rulesByEventKey(eventID)).Result()
	if err != nil {
		return core.Internal(err, "list rules for event %s", eventID)
	}
	if len(ids) > 0 {
		if err := s.client.HDel(ctx, keyRules, ids...).Err(); err != nil {
			return core.Internal(err, "delete rules for event %s", eventID)
		}
	}
	if err := s.client.Del(ctx, rulesByEventKey(eventID)).Err(); err != nil {
		return core.Internal(err, "drop rule index for event %s", eventID)
	}
	return nil
}

// Metrics

func (s *Store) CreateMetric(ctx context.Context, m core.GameMetric) error {
	return s.hashCreate(ctx, keyMetrics, m.ID, m, "metric")
}

func (s *Store) GetMetric(ctx context.Context, id string) (core.GameMetric, error) {
	var m core.GameMetric
	err := s.hashGet(ctx, keyMetrics, id, &m, "metric")
	return m, err
}

func (s *Store) UpdateMetric(ctx context.Context, m core.GameMetric) error {
	return s.hashUpdate(ctx, keyMetrics, m.ID, m, "metric")
}

func (s *Store) DeleteMetric(ctx context.Context, id string) error {
	return s.hashDelete(ctx, keyMetrics, id, "metric")
}

func (s *Store) ListMetrics(ctx context.Context) ([]core.GameMetric, error) {
	return hashList(ctx, s.client, keyMetrics, "metrics", func(m core.GameMetric) string { return m.ID })
}

func (s *Store) MetricsByIDs(ctx context.Context, ids []string) ([]core.GameMetric, error) {
	return hashGetMany[core.GameMetric](ctx, s.client, keyMetrics, ids, "metrics")
}

// Achievements

func (s *Store) CreateAchievement(ctx context.Context, a core.MetricAchievement) error {
	if err := s.hashCreate(ctx, keyAchievements, a.ID, a, "achievement"); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, achievementsByMetricKey(a.MetricID), a.ID).Err(); err != nil {
		return core.Internal(err, "index achievement %s", a.ID)
	}
	return nil
}

func (s *Store) GetAchievement(ctx context.Context, id string) (core.MetricAchievement, error) {
	var a core.MetricAchievement
	err := s.hashGet(ctx, keyAchievements, id, &a, "achievement")
	return a, err
}

func (s *Store) UpdateAchievement(ctx context.Context, a core.MetricAchievement) error {
	prior, err := s.GetAchievement(ctx, a.ID)
	if err != nil {
		return err
	}
	if err := s.hashUpdate(ctx, keyAchievements, a.ID, a, "achievement"); err != nil {
		return err
	}
	if prior.MetricID != a.MetricID {
		if err := s.client.SRem(ctx, achievementsByMetricKey(prior.MetricID), a.ID).Err(); err != nil {
			return core.Internal(err, "reindex achievement %s", a.ID)
		}
		if err := s.client.SAdd(ctx, achievementsByMetricKey(a.MetricID), a.ID).Err(); err != nil {
			return core.Internal(err, "reindex achievement %s", a.ID)
		}
	}
	return nil
}

func (s *Store) DeleteAchievement(ctx context.Context, id string) error {
	a, err := s.GetAchievement(ctx, id)
	if err != nil {
		return err
	}
	if err := s.hashDelete(ctx, keyAchievements, id, "achievement"); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, achievementsByMetricKey(a.MetricID), id).Err(); err != nil {
		return core.Internal(err, "unindex achievement %s", id)
	}
	return nil
}

func (s *Store) ListAchievements(ctx context.Context) ([]core.MetricAchievement, error) {
	return hashList(ctx, s.client, keyAchievements, "achievements", func(a core.MetricAchievement) string { return a.ID })
}

func (s *Store) AchievementsForMetrics(ctx context.Context, metricIDs []string) ([]core.MetricAchievement, error) {
	var ids []string
	for _, metricID := range metricIDs {
		members, err := s.client.SMembers(ctx, achievementsByMetricKey(metricID)).Result()
		if err != nil {
			return nil, core.Internal(err, "list achievements for metric %s", metricID)
		}
		ids = append(ids, members...)
	}
	sort.Strings(ids)
	return hashGetMany[core.MetricAchievement](ctx, s.client, keyAchievements, ids, "achievements")
}

// Progress

func (s *Store) IncrementMetrics(ctx context.Context, user core.UserID, incs []engine.Increment) ([]core.UserGameMetric, error) {
	if len(incs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	values := make(map[string]float64, len(incs))
	order := make([]string, 0, len(incs))
	for _, inc := range incs {
		result, err := incrementScript.Run(ctx, s.client,
			[]string{userMetricsKey(user), userMetricsUpdatedKey(user)},
			inc.MetricID, inc.Delta, stamp).Result()
		if err != nil {
			return nil, core.Internal(err, "increment metric %s for user %s", inc.MetricID, user)
		}
		str, ok := result.(string)
		if !ok {
			return nil, core.Internal(nil, "unexpected increment reply for metric %s", inc.MetricID)
		}
		value, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, core.Internal(err, "parse counter for metric %s", inc.MetricID)
		}
		if _, seen := values[inc.MetricID]; !seen {
			order = append(order, inc.MetricID)
		}
		values[inc.MetricID] = value
		if err := s.client.SAdd(ctx, usersByMetricKey(inc.MetricID), string(user)).Err(); err != nil {
			return nil, core.Internal(err, "index user metric %s/%s", user, inc.MetricID)
		}
	}

	out := make([]core.UserGameMetric, 0, len(order))
	for _, metricID := range order {
		out = append(out, core.UserGameMetric{
			ID:          fmt.Sprintf("%s/%s", user, metricID),
			UserID:      user,
			MetricID:    metricID,
			Value:       values[metricID],
			LastUpdated: now,
		})
	}
	return out, nil
}

func (s *Store) UserMetrics(ctx context.Context, user core.UserID) ([]core.UserGameMetric, error) {
	vals, err := s.client.HGetAll(ctx, userMetricsKey(user)).Result()
	if err != nil {
		return nil, core.Internal(err, "list metrics for user %s", user)
	}
	stamps, err := s.client.HGetAll(ctx, userMetricsUpdatedKey(user)).Result()
	if err != nil {
		return nil, core.Internal(err, "list metric timestamps for user %s", user)
	}
	out := make([]core.UserGameMetric, 0, len(vals))
	for metricID, raw := range vals {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, core.Internal(err, "parse counter for metric %s", metricID)
		}
		var updated time.Time
		if stamp, ok := stamps[metricID]; ok {
			updated, _ = time.Parse(time.RFC3339Nano, stamp)
		}
		out = append(out, core.UserGameMetric{
			ID:          fmt.Sprintf("%s/%s", user, metricID),
			UserID:      user,
			MetricID:    metricID,
			Value:       value,
			LastUpdated: updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricID < out[j].MetricID })
	return out, nil
}

func (s *Store) UpdateUserMetric(ctx context.Context, um core.UserGameMetric) error {
	exists, err := s.client.HExists(ctx, userMetricsKey(um.UserID), um.MetricID).Result()
	if err != nil {
		return core.Internal(err, "check user metric %s/%s", um.UserID, um.MetricID)
	}
	if !exists {
		return core.NotFound("user metric %s/%s", um.UserID, um.MetricID)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, userMetricsKey(um.UserID), um.MetricID, strconv.FormatFloat(um.Value, 'f', -1, 64))
	pipe.HSet(ctx, userMetricsUpdatedKey(um.UserID), um.MetricID, stamp)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.Internal(err, "update user metric %s/%s", um.UserID, um.MetricID)
	}
	return nil
}

func (s *Store) DeleteUserMetric(ctx context.Context, user core.UserID, metricID string) error {
	n, err := s.client.HDel(ctx, userMetricsKey(user), metricID).Result()
	if err != nil {
		return core.Internal(err, "delete user metric %s/%s", user, metricID)
	}
	if n == 0 {
		return core.NotFound("user metric %s/%s", user, metricID)
	}
	if err := s.client.HDel(ctx, userMetricsUpdatedKey(user), metricID).Err(); err != nil {
		return core.Internal(err, "delete user metric timestamp %s/%s", user, metricID)
	}
	if err := s.client.SRem(ctx, usersByMetricKey(metricID), string(user)).Err(); err != nil {
		return core.Internal(err, "unindex user metric %s/%s", user, metricID)
	}
	return nil
}

func (s *Store) DeleteUserMetricsByMetric(ctx context.Context, metricID string) error {
	users, err := s.client.SMembers(ctx, usersByMetricKey(metricID)).Result()
	if err != nil {
		return core.Internal(err, "list users for metric %s", metricID)
	}
	for _, user := range users {
		if err := s.client.HDel(ctx, userMetricsKey(core.UserID(user)), metricID).Err(); err != nil {
			return core.Internal(err, "delete user metric %s/%s", user, metricID)
		}
		if err := s.client.HDel(ctx, userMetricsUpdatedKey(core.UserID(user)), metricID).Err(); err != nil {
			return core.Internal(err, "delete user metric timestamp %s/%s", user, metricID)
		}
	}
	if err := s.client.Del(ctx, usersByMetricKey(metricID)).Err(); err != nil {
		return core.Internal(err, "drop user index for metric %s", metricID)
	}
	return nil
}

func (s *Store) AddAchievements(ctx context.Context, user core.UserID, entries []core.UnlockedAchievement) error {
	key := userAchievementsKey(user)
	for _, entry := range entries {
		stamp := entry.UnlockedAt.UTC().Format(time.RFC3339Nano)
		// HSetNX keeps the original unlock time on re-add.
		if err := s.client.HSetNX(ctx, key, entry.AchievementID, stamp).Err(); err != nil {
			return core.Internal(err, "add achievement %s for user %s", entry.AchievementID, user)
		}
	}
	return nil
}

func (s *Store) UserAchievements(ctx context.Context, user core.UserID) (core.UserGameAchievement, error) {
	vals, err := s.client.HGetAll(ctx, userAchievementsKey(user)).Result()
	if err != nil {
		return core.UserGameAchievement{}, core.Internal(err, "list achievements for user %s", user)
	}
	rec := core.UserGameAchievement{ID: string(user), UserID: user}
	for achievementID, stamp := range vals {
		at, _ := time.Parse(time.RFC3339Nano, stamp)
		rec.Achievements = append(rec.Achievements, core.UnlockedAchievement{
			AchievementID: achievementID,
			UnlockedAt:    at,
		})
	}
	sort.Slice(rec.Achievements, func(i, j int) bool {
		return rec.Achievements[i].AchievementID < rec.Achievements[j].AchievementID
	})
	return rec, nil
}

var _ engine.Store = (*Store)(nil)
