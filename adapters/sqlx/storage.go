// Package sqlx implements engine.Store on a relational database via
// github.com/jmoiron/sqlx. Postgres and MySQL are supported; counter updates
// use the dialect's native upsert so an increment is one atomic statement,
// and InTx maps directly onto a database transaction.
package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"achievekit/core"
	"achievekit/engine"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          string        `json:"driver" env:"ACHIEVEKIT_STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn" env:"ACHIEVEKIT_STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"ACHIEVEKIT_STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"ACHIEVEKIT_STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"ACHIEVEKIT_STORAGE_SQL_CONN_MAX_LIFETIME"`
}

// DefaultConfig returns sensible defaults for a local Postgres.
func DefaultConfig() Config {
	return Config{
		Driver:          "postgres",
		DSN:             "postgres://localhost/achievekit?sslmode=disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Schema is the Postgres DDL for the six tables. MySQL deployments adjust
// types (JSONB -> JSON, TIMESTAMPTZ -> DATETIME) in their own migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	version        INTEGER NOT NULL,
	payload_schema JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	event_id    TEXT NOT NULL,
	metric_id   TEXT NOT NULL,
	logic       JSONB NOT NULL,
	version     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS rules_event_idx ON rules (event_id);

CREATE TABLE IF NOT EXISTS game_metrics (
	id                      TEXT PRIMARY KEY,
	name                    TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	metric_type             TEXT NOT NULL,
	units                   TEXT NOT NULL DEFAULT '',
	default_increment_value DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS metric_achievements (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	badge_url    TEXT NOT NULL DEFAULT '',
	trigger_kind TEXT NOT NULL,
	metric_id    TEXT NOT NULL,
	metric_count DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS metric_achievements_metric_idx ON metric_achievements (metric_id);

CREATE TABLE IF NOT EXISTS user_game_metrics (
	id           TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	metric_id    TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, metric_id)
);

CREATE TABLE IF NOT EXISTS user_game_achievements (
	user_id        TEXT NOT NULL,
	achievement_id TEXT NOT NULL,
	unlocked_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, achievement_id)
);
`

// Store implements engine.Store on Postgres or MySQL.
type Store struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	driver string
}

// New opens and pings a database connection.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewWithDB(db), nil
}

// NewWithDB creates a Store on an existing connection (useful for testing
// with sqlmock).
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, q: db, driver: db.DriverName()}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema applies the Postgres DDL. No-op guard rails: every statement
// is IF NOT EXISTS.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return core.Internal(err, "apply schema")
	}
	return nil
}

// InTx runs fn on one database transaction, rolling back on error.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx engine.Store) error) error {
	if _, nested := s.q.(*sqlx.Tx); nested {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Internal(err, "begin transaction")
	}
	txStore := &Store{db: s.db, q: tx, driver: s.driver}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Internal(err, "commit transaction")
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(s.driver), query)
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

// execOne mirrors the Get/Update/Delete contract: zero rows touched means the
// id did not resolve.
func (s *Store) execOne(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return core.Internal(err, "%s %s", kind, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Internal(err, "%s %s", kind, id)
	}
	if n == 0 {
		return core.NotFound("%s %s", kind, id)
	}
	return nil
}

// row types

type eventRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Description   string `db:"description"`
	Version       int    `db:"version"`
	PayloadSchema []byte `db:"payload_schema"`
}

func (r eventRow) toCore() (core.Event, error) {
	ev := core.Event{ID: r.ID, Name: r.Name, Description: r.Description, Version: r.Version}
	if err := json.Unmarshal(r.PayloadSchema, &ev.PayloadSchema); err != nil {
		return core.Event{}, core.Internal(err, "decode schema for event %s", r.ID)
	}
	return ev, nil
}

type ruleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	EventID     string `db:"event_id"`
	MetricID    string `db:"metric_id"`
	Logic       []byte `db:"logic"`
	Version     int    `db:"version"`
}

func (r ruleRow) toCore() (core.Rule, error) {
	rule := core.Rule{ID: r.ID, Name: r.Name, Description: r.Description,
		EventID: r.EventID, MetricID: r.MetricID, Version: r.Version}
	if err := json.Unmarshal(r.Logic, &rule.Logic); err != nil {
		return core.Rule{}, core.Internal(err, "decode logic for rule %s", r.ID)
	}
	return rule, nil
}

type metricRow struct {
	ID                    string  `db:"id"`
	Name                  string  `db:"name"`
	Description           string  `db:"description"`
	Type                  string  `db:"metric_type"`
	Units                 string  `db:"units"`
	DefaultIncrementValue float64 `db:"default_increment_value"`
}

func (r metricRow) toCore() core.GameMetric {
	return core.GameMetric{ID: r.ID, Name: r.Name, Description: r.Description,
		Type: core.MetricType(r.Type), Units: r.Units, DefaultIncrementValue: r.DefaultIncrementValue}
}

type achievementRow struct {
	ID          string  `db:"id"`
	Name        string  `db:"name"`
	Description string  `db:"description"`
	BadgeURL    string  `db:"badge_url"`
	Trigger     string  `db:"trigger_kind"`
	MetricID    string  `db:"metric_id"`
	MetricCount float64 `db:"metric_count"`
}

func (r achievementRow) toCore() core.MetricAchievement {
	return core.MetricAchievement{ID: r.ID, Name: r.Name, Description: r.Description,
		BadgeURL: r.BadgeURL, Trigger: core.AchievementTrigger(r.Trigger),
		MetricID: r.MetricID, MetricCount: r.MetricCount}
}

type userMetricRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	MetricID    string    `db:"metric_id"`
	Value       float64   `db:"value"`
	LastUpdated time.Time `db:"last_updated"`
}

func (r userMetricRow) toCore() core.UserGameMetric {
	return core.UserGameMetric{ID: r.ID, UserID: core.UserID(r.UserID),
		MetricID: r.MetricID, Value: r.Value, LastUpdated: r.LastUpdated}
}

// Events

func (s *Store) CreateEvent(ctx context.Context, ev core.Event) error {
	schema, err := json.Marshal(ev.PayloadSchema)
	if err != nil {
		return core.Internal(err, "encode schema for event %s", ev.ID)
	}
	_, err = s.exec(ctx,
		`INSERT INTO events (id, name, description, version, payload_schema) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.Description, ev.Version, schema)
	if isDuplicate(err) {
		return core.Conflict("event %s already exists", ev.ID)
	}
	if err != nil {
		return core.Internal(err, "insert event %s", ev.ID)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (core.Event, error) {
	var row eventRow
	err := sqlx.GetContext(ctx, s.q, &row, s.rebind(`SELECT * FROM events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Event{}, core.NotFound("event %s", id)
	}
	if err != nil {
		return core.Event{}, core.Internal(err, "select event %s", id)
	}
	return row.toCore()
}

func (s *Store) UpdateEvent(ctx context.Context, ev core.Event) error {
	schema, err := json.Marshal(ev.PayloadSchema)
	if err != nil {
		return core.Internal(err, "encode schema for event %s", ev.ID)
	}
	return s.execOne(ctx, "event", ev.ID,
		`UPDATE events SET name = ?, description = ?, version = ?, payload_schema = ? WHERE id = ?`,
		ev.Name, ev.Description, ev.Version, schema, ev.ID)
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.execOne(ctx, "event", id, `DELETE FROM events WHERE id = ?`, id)
}

func (s *Store) ListEvents(ctx context.Context) ([]core.Event, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `SELECT * FROM events ORDER BY id`); err != nil {
		return nil, core.Internal(err, "list events")
	}
	out := make([]core.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Rules

func (s *Store) CreateRule(ctx context.Context, r core.Rule) error {
	logic, err := json.Marshal(r.Logic)
	if err != nil {
		return core.Internal(err, "encode logic for rule %s", r.ID)
	}
	_, err = s.exec(ctx,
		`INSERT INTO rules (id, name, description, event_id, metric_id, logic, version) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.EventID, r.MetricID, logic, r.Version)
	if isDuplicate(err) {
		return core.Conflict("rule %s already exists", r.ID)
	}
	if err != nil {
		return core.Internal(err, "insert rule %s", r.ID)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (core.Rule, error) {
	var row ruleRow
	err := sqlx.GetContext(ctx, s.q, &row, s.rebind(`SELECT * FROM rules WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Rule{}, core.NotFound("rule %s", id)
	}
	if err != nil {
		return core.Rule{}, core.Internal(err, "select rule %s", id)
	}
	return row.toCore()
}

func (s *Store) UpdateRule(ctx context.Context, r core.Rule) error {
	logic, err := json.Marshal(r.Logic)
	if err != nil {
		return core.Internal(err, "encode logic for rule %s", r.ID)
	}
	return s.execOne(ctx, "rule", r.ID,
		`UPDATE rules SET name = ?, description = ?, event_id = ?, metric_id = ?, logic = ?, version = ? WHERE id = ?`,
		r.Name, r.Description, r.EventID, r.MetricID, logic, r.Version, r.ID)
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.execOne(ctx, "rule", id, `DELETE FROM rules WHERE id = ?`, id)
}

func (s *Store) listRules(ctx context.Context, query string, args ...any) ([]core.Rule, error) {
	var rows []ruleRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, core.Internal(err, "list rules")
	}
	out := make([]core.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := row.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ListRules(ctx context.Context) ([]core.Rule, error) {
	return s.listRules(ctx, `SELECT * FROM rules ORDER BY id`)
}

func (s *Store) RulesForEvent(ctx context.Context, eventID string) ([]core.Rule, error) {
	return s.listRules(ctx, `SELECT * FROM rules WHERE event_id = ? ORDER BY id`, eventID)
}

func (s *Store) DeleteRulesByEvent(ctx context.Context, eventID string) error {
	if _, err := s.exec(ctx, `DELETE FROM rules WHERE event_id = ?`, eventID); err != nil {
		return core.Internal(err, "delete rules for event %s", eventID)
	}
	return nil
}

// Metrics

func (s *Store) CreateMetric(ctx context.Context, m core.GameMetric) error {
	_, err := s.exec(ctx,
		`INSERT INTO game_metrics (id, name, description, metric_type, units, default_increment_value) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, string(m.Type), m.Units, m.DefaultIncrementValue)
	if isDuplicate(err) {
		return core.Conflict("metric %s already exists", m.ID)
	}
	if err != nil {
		return core.Internal(err, "insert metric %s", m.ID)
	}
	return nil
}

func (s *Store) GetMetric(ctx context.Context, id string) (core.GameMetric, error) {
	var row metricRow
	err := sqlx.GetContext(ctx, s.q, &row, s.rebind(`SELECT * FROM game_metrics WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GameMetric{}, core.NotFound("metric %s", id)
	}
	if err != nil {
		return core.GameMetric{}, core.Internal(err, "select metric %s", id)
	}
	return row.toCore(), nil
}

func (s *Store) UpdateMetric(ctx context.Context, m core.GameMetric) error {
	return s.execOne(ctx, "metric", m.ID,
		`UPDATE game_metrics SET name = ?, description = ?, metric_type = ?, units = ?, default_increment_value = ? WHERE id = ?`,
		m.Name, m.Description, string(m.Type), m.Units, m.DefaultIncrementValue, m.ID)
}

func (s *Store) DeleteMetric(ctx context.Context, id string) error {
	return s.execOne(ctx, "metric", id, `DELETE FROM game_metrics WHERE id = ?`, id)
}

func (s *Store) listMetrics(ctx context.Context, query string, args ...any) ([]core.GameMetric, error) {
	var rows []metricRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, core.Internal(err, "list metrics")
	}
	out := make([]core.GameMetric, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCore())
	}
	return out, nil
}

func (s *Store) ListMetrics(ctx context.Context) ([]core.GameMetric, error) {
	return s.listMetrics(ctx, `SELECT * FROM game_metrics ORDER BY id`)
}

func (s *Store) MetricsByIDs(ctx context.Context, ids []string) ([]core.GameMetric, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM game_metrics WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, core.Internal(err, "build metric query")
	}
	return s.listMetrics(ctx, query, args...)
}

// Achievements

func (s *Store) CreateAchievement(ctx context.Context, a core.MetricAchievement) error {
	_, err := s.exec(ctx,
		`INSERT INTO metric_achievements (id, name, description, badge_url, trigger_kind, metric_id, metric_count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, a.BadgeURL, string(a.Trigger), a.MetricID, a.MetricCount)
	if isDuplicate(err) {
		return core.Conflict("achievement %s already exists", a.ID)
	}
	if err != nil {
		return core.Internal(err, "insert achievement %s", a.ID)
	}
	return nil
}

func (s *Store) GetAchievement(ctx context.Context, id string) (core.MetricAchievement, error) {
	var row achievementRow
	err := sqlx.GetContext(ctx, s.q, &row, s.rebind(`SELECT * FROM metric_achievements WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MetricAchievement{}, core.NotFound("achievement %s", id)
	}
	if err != nil {
		return core.MetricAchievement{}, core.Internal(err, "select achievement %s", id)
	}
	return row.toCore(), nil
}

func (s *Store) UpdateAchievement(ctx context.Context, a core.MetricAchievement) error {
	return s.execOne(ctx, "achievement", a.ID,
		`UPDATE metric_achievements SET name = ?, description = ?, badge_url = ?, trigger_kind = ?, metric_id = ?, metric_count = ? WHERE id = ?`,
		a.Name, a.Description, a.BadgeURL, string(a.Trigger), a.MetricID, a.MetricCount, a.ID)
}

func (s *Store) DeleteAchievement(ctx context.Context, id string) error {
	return s.execOne(ctx, "achievement", id, `DELETE FROM metric_achievements WHERE id = ?`, id)
}

func (s *Store) listAchievements(ctx context.Context, query string, args ...any) ([]core.MetricAchievement, error) {
	var rows []achievementRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, core.Internal(err, "list achievements")
	}
	out := make([]core.MetricAchievement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCore())
	}
	return out, nil
}

func (s *Store) ListAchievements(ctx context.Context) ([]core.MetricAchievement, error) {
	return s.listAchievements(ctx, `SELECT * FROM metric_achievements ORDER BY id`)
}

func (s *Store) AchievementsForMetrics(ctx context.Context, metricIDs []string) ([]core.MetricAchievement, error) {
	if len(metricIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM metric_achievements WHERE metric_id IN (?) ORDER BY id`, metricIDs)
	if err != nil {
		return nil, core.Internal(err, "build achievement query")
	}
	return s.listAchievements(ctx, query, args...)
}

// Progress

func (s *Store) upsertIncrementQuery() string {
	if s.driver == "mysql" {
		return `INSERT INTO user_game_metrics (id, user_id, metric_id, value, last_updated) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE value = value + VALUES(value), last_updated = VALUES(last_updated)`
	}
	return `INSERT INTO user_game_metrics (id, user_id, metric_id, value, last_updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, metric_id) DO UPDATE SET value = user_game_metrics.value + EXCLUDED.value, last_updated = EXCLUDED.last_updated`
}

func (s *Store) IncrementMetrics(ctx context.Context, user core.UserID, incs []engine.Increment) ([]core.UserGameMetric, error) {
	if len(incs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	upsert := s.upsertIncrementQuery()
	ids := make([]string, 0, len(incs))
	seen := make(map[string]struct{}, len(incs))
	for _, inc := range incs {
		if _, err := s.exec(ctx, upsert, uuid.NewString(), string(user), inc.MetricID, inc.Delta, now); err != nil {
			return nil, core.Internal(err, "increment metric %s for user %s", inc.MetricID, user)
		}
		if _, dup := seen[inc.MetricID]; !dup {
			seen[inc.MetricID] = struct{}{}
			ids = append(ids, inc.MetricID)
		}
	}

	query, args, err := sqlx.In(`SELECT * FROM user_game_metrics WHERE user_id = ? AND metric_id IN (?) ORDER BY metric_id`, string(user), ids)
	if err != nil {
		return nil, core.Internal(err, "build user metric query")
	}
	var rows []userMetricRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.rebind(query), args...); err != nil {
		return nil, core.Internal(err, "select user metrics for %s", user)
	}
	byID := make(map[string]core.UserGameMetric, len(rows))
	for _, row := range rows {
		byID[row.MetricID] = row.toCore()
	}
	out := make([]core.UserGameMetric, 0, len(ids))
	for _, id := range ids {
		if um, ok := byID[id]; ok {
			out = append(out, um)
		}
	}
	return out, nil
}

func (s *Store) UserMetrics(ctx context.Context, user core.UserID) ([]core.UserGameMetric, error) {
	var rows []userMetricRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		s.rebind(`SELECT * FROM user_game_metrics WHERE user_id = ? ORDER BY metric_id`), string(user))
	if err != nil {
		return nil, core.Internal(err, "list metrics for user %s", user)
	}
	out := make([]core.UserGameMetric, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCore())
	}
	return out, nil
}

func (s *Store) UpdateUserMetric(ctx context.Context, um core.UserGameMetric) error {
	return s.execOne(ctx, "user metric", fmt.Sprintf("%s/%s", um.UserID, um.MetricID),
		`UPDATE user_game_metrics SET value = ?, last_updated = ? WHERE user_id = ? AND metric_id = ?`,
		um.Value, time.Now().UTC(), string(um.UserID), um.MetricID)
}

func (s *Store) DeleteUserMetric(ctx context.Context, user core.UserID, metricID string) error {
	return s.execOne(ctx, "user metric", fmt.Sprintf("%s/%s", user, metricID),
		`DELETE FROM user_game_metrics WHERE user_id = ? AND metric_id = ?`, string(user), metricID)
}

func (s *Store) DeleteUserMetricsByMetric(ctx context.Context, metricID string) error {
	if _, err := s.exec(ctx, `DELETE FROM user_game_metrics WHERE metric_id = ?`, metricID); err != nil {
		return core.Internal(err, "delete user metrics for metric %s", metricID)
	}
	return nil
}

func (s *Store) addAchievementQuery() string {
	if s.driver == "mysql" {
		return `INSERT IGNORE INTO user_game_achievements (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)`
	}
	return `INSERT INTO user_game_achievements (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`
}

func (s *Store) AddAchievements(ctx context.Context, user core.UserID, entries []core.UnlockedAchievement) error {
	query := s.addAchievementQuery()
	for _, entry := range entries {
		if _, err := s.exec(ctx, query, string(user), entry.AchievementID, entry.UnlockedAt.UTC()); err != nil {
			return core.Internal(err, "add achievement %s for user %s", entry.AchievementID, user)
		}
	}
	return nil
}

func (s *Store) UserAchievements(ctx context.Context, user core.UserID) (core.UserGameAchievement, error) {
	var rows []struct {
		AchievementID string    `db:"achievement_id"`
		UnlockedAt    time.Time `db:"unlocked_at"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows,
		s.rebind(`SELECT achievement_id, unlocked_at FROM user_game_achievements WHERE user_id = ? ORDER BY achievement_id`), string(user))
	if err != nil {
		return core.UserGameAchievement{}, core.Internal(err, "list achievements for user %s", user)
	}
	rec := core.UserGameAchievement{ID: string(user), UserID: user}
	for _, row := range rows {
		rec.Achievements = append(rec.Achievements, core.UnlockedAchievement{
			AchievementID: row.AchievementID,
			UnlockedAt:    row.UnlockedAt,
		})
	}
	return rec, nil
}

var _ engine.Store = (*Store)(nil)
