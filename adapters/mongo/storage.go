// Package mongo implements engine.Store on a MongoDB document store. Counter
// updates go through one ordered bulk write of upserted $inc operations, and
// InTx wraps reads and writes in a causally consistent session transaction,
// so a trigger's increment and its qualification re-read cannot interleave
// with a concurrent trigger on the same user.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"achievekit/core"
	"achievekit/engine"
)

// Config holds MongoDB connection configuration.
type Config struct {
	URI      string        `json:"uri" env:"ACHIEVEKIT_STORAGE_MONGO_URI"`
	Database string        `json:"database" env:"ACHIEVEKIT_STORAGE_MONGO_DATABASE"`
	Timeout  time.Duration `json:"timeout" env:"ACHIEVEKIT_STORAGE_MONGO_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for a local deployment.
func DefaultConfig() Config {
	return Config{URI: "mongodb://localhost:27017", Database: "achievekit", Timeout: 5 * time.Second}
}

const (
	colEvents           = "events"
	colRules            = "rules"
	colMetrics          = "game_metrics"
	colAchievements     = "metric_achievements"
	colUserMetrics      = "user_game_metrics"
	colUserAchievements = "user_game_achievements"
)

// Store implements engine.Store backed by a mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects, pings, and ensures indexes.
func New(cfg Config) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := &Store{client: client, db: client.Database(cfg.Database)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithClient creates a Store on an existing client (useful for testing).
func NewWithClient(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes creates the unique (userId, metricId) index that backs
// upsert-increment semantics, plus lookup indexes for rules and achievements.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(colUserMetrics).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "metricId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user metric index: %w", err)
	}
	if _, err := s.db.Collection(colRules).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "eventId", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create rule index: %w", err)
	}
	if _, err := s.db.Collection(colAchievements).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "metricId", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create achievement index: %w", err)
	}
	if _, err := s.db.Collection(colUserAchievements).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("failed to create user achievement index: %w", err)
	}
	return nil
}

// InTx runs fn inside one session transaction. The session travels in the
// context, so fn uses the same Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx engine.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		// Already transactional; join it.
		return fn(ctx, s)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return core.Internal(err, "failed to start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, s)
	})
	return err
}

// generic single-document helpers

func (s *Store) insertOne(ctx context.Context, col string, doc any, kind, id string) error {
	_, err := s.db.Collection(col).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return core.Conflict("%s %s already exists", kind, id)
	}
	if err != nil {
		return core.Internal(err, "insert %s %s", kind, id)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, col, id string, out any, kind string) error {
	err := s.db.Collection(col).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.NotFound("%s %s", kind, id)
	}
	if err != nil {
		return core.Internal(err, "find %s %s", kind, id)
	}
	return nil
}

func (s *Store) replaceOne(ctx context.Context, col, id string, doc any, kind string) error {
	res, err := s.db.Collection(col).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return core.Internal(err, "update %s %s", kind, id)
	}
	if res.MatchedCount == 0 {
		return core.NotFound("%s %s", kind, id)
	}
	return nil
}

func (s *Store) deleteOne(ctx context.Context, col, id, kind string) error {
	res, err := s.db.Collection(col).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return core.Internal(err, "delete %s %s", kind, id)
	}
	if res.DeletedCount == 0 {
		return core.NotFound("%s %s", kind, id)
	}
	return nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter any, kind string) ([]T, error) {
	cur, err := col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, core.Internal(err, "list %s", kind)
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, core.Internal(err, "decode %s", kind)
	}
	return out, nil
}

// Events

func (s *Store) CreateEvent(ctx context.Context, ev core.Event) error {
	return s.insertOne(ctx, colEvents, ev, "event", ev.ID)
}

func (s *Store) GetEvent(ctx context.Context, id string) (core.Event, error) {
	var ev core.Event
	err := s.findOne(ctx, colEvents, id, &ev, "event")
	return ev, err
}

func (s *Store) UpdateEvent(ctx context.Context, ev core.Event) error {
	return s.replaceOne(ctx, colEvents, ev.ID, ev, "event")
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.deleteOne(ctx, colEvents, id, "event")
}

func (s *Store) ListEvents(ctx context.Context) ([]core.Event, error) {
	return findAll[core.Event](ctx, s.db.Collection(colEvents), bson.M{}, "events")
}

// Rules

func (s *Store) CreateRule(ctx context.Context, r core.Rule) error {
	return s.insertOne(ctx, colRules, r, "rule", r.ID)
}

func (s *Store) GetRule(ctx context.Context, id string) (core.Rule, error) {
	var r core.Rule
	err := s.findOne(ctx, colRules, id, &r, "rule")
	return r, err
}

func (s *Store) UpdateRule(ctx context.Context, r core.Rule) error {
	return s.replaceOne(ctx, colRules, r.ID, r, "rule")
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.deleteOne(ctx, colRules, id, "rule")
}

func (s *Store) ListRules(ctx context.Context) ([]core.Rule, error) {
	return findAll[core.Rule](ctx, s.db.Collection(colRules), bson.M{}, "rules")
}

func (s *Store) RulesForEvent(ctx context.Context, eventID string) ([]core.Rule, error) {
	return findAll[core.Rule](ctx, s.db.Collection(colRules), bson.M{"eventId": eventID}, "rules")
}

func (s *Store) DeleteRulesByEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.Collection(colRules).DeleteMany(ctx, bson.M{"eventId": eventID}); err != nil {
		return core.Internal(err, "delete rules for event %s", eventID)
	}
	return nil
}

// Metrics

func (s *Store) CreateMetric(ctx context.Context, m core.GameMetric) error {
	return s.insertOne(ctx, colMetrics, m, "metric", m.ID)
}

func (s *Store) GetMetric(ctx context.Context, id string) (core.GameMetric, error) {
	var m core.GameMetric
	err := s.findOne(ctx, colMetrics, id, &m, "metric")
	return m, err
}

func (s *Store) UpdateMetric(ctx context.Context, m core.GameMetric) error {
	return s.replaceOne(ctx, colMetrics, m.ID, m, "metric")
}

func (s *Store) DeleteMetric(ctx context.Context, id string) error {
	return s.deleteOne(ctx, colMetrics, id, "metric")
}

func (s *Store) ListMetrics(ctx context.Context) ([]core.GameMetric, error) {
	return findAll[core.GameMetric](ctx, s.db.Collection(colMetrics), bson.M{}, "metrics")
}

func (s *Store) MetricsByIDs(ctx context.Context, ids []string) ([]core.GameMetric, error) {
	return findAll[core.GameMetric](ctx, s.db.Collection(colMetrics), bson.M{"_id": bson.M{"$in": ids}}, "metrics")
}

// Achievements

func (s *Store) CreateAchievement(ctx context.Context, a core.MetricAchievement) error {
	return s.insertOne(ctx, colAchievements, a, "achievement", a.ID)
}

func (s *Store) GetAchievement(ctx context.Context, id string) (core.MetricAchievement, error) {
	var a core.MetricAchievement
	err := s.findOne(ctx, colAchievements, id, &a, "achievement")
	return a, err
}

func (s *Store) UpdateAchievement(ctx context.Context, a core.MetricAchievement) error {
	return s.replaceOne(ctx, colAchievements, a.ID, a, "achievement")
}

func (s *Store) DeleteAchievement(ctx context.Context, id string) error {
	return s.deleteOne(ctx, colAchievements, id, "achievement")
}

func (s *Store) ListAchievements(ctx context.Context) ([]core.MetricAchievement, error) {
	return findAll[core.MetricAchievement](ctx, s.db.Collection(colAchievements), bson.M{}, "achievements")
}

func (s *Store) AchievementsForMetrics(ctx context.Context, metricIDs []string) ([]core.MetricAchievement, error) {
	return findAll[core.MetricAchievement](ctx, s.db.Collection(colAchievements), bson.M{"metricId": bson.M{"$in": metricIDs}}, "achievements")
}

// Progress

func (s *Store) IncrementMetrics(ctx context.Context, user core.UserID, incs []engine.Increment) ([]core.UserGameMetric, error) {
	if len(incs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(incs))
	ids := make([]string, 0, len(incs))
	seen := make(map[string]struct{}, len(incs))
	for _, inc := range incs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"userId": user, "metricId": inc.MetricID}).
			SetUpdate(bson.M{
				"$inc":         bson.M{"value": inc.Delta},
				"$set":         bson.M{"lastUpdated": now},
				"$setOnInsert": bson.M{"_id": uuid.NewString()},
			}).
			SetUpsert(true))
		if _, dup := seen[inc.MetricID]; !dup {
			seen[inc.MetricID] = struct{}{}
			ids = append(ids, inc.MetricID)
		}
	}
	// Ordered so repeated increments on one metric stack deterministically.
	if _, err := s.db.Collection(colUserMetrics).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return nil, core.Internal(err, "bulk increment for user %s", user)
	}

	rows, err := findAll[core.UserGameMetric](ctx, s.db.Collection(colUserMetrics),
		bson.M{"userId": user, "metricId": bson.M{"$in": ids}}, "user metrics")
	if err != nil {
		return nil, err
	}
	// Preserve request order in the result.
	byID := make(map[string]core.UserGameMetric, len(rows))
	for _, row := range rows {
		byID[row.MetricID] = row
	}
	out := make([]core.UserGameMetric, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) UserMetrics(ctx context.Context, user core.UserID) ([]core.UserGameMetric, error) {
	return findAll[core.UserGameMetric](ctx, s.db.Collection(colUserMetrics), bson.M{"userId": user}, "user metrics")
}

func (s *Store) UpdateUserMetric(ctx context.Context, um core.UserGameMetric) error {
	res, err := s.db.Collection(colUserMetrics).UpdateOne(ctx,
		bson.M{"userId": um.UserID, "metricId": um.MetricID},
		bson.M{"$set": bson.M{"value": um.Value, "lastUpdated": time.Now().UTC()}})
	if err != nil {
		return core.Internal(err, "update user metric %s/%s", um.UserID, um.MetricID)
	}
	if res.MatchedCount == 0 {
		return core.NotFound("user metric %s/%s", um.UserID, um.MetricID)
	}
	return nil
}

func (s *Store) DeleteUserMetric(ctx context.Context, user core.UserID, metricID string) error {
	res, err := s.db.Collection(colUserMetrics).DeleteOne(ctx, bson.M{"userId": user, "metricId": metricID})
	if err != nil {
		return core.Internal(err, "delete user metric %s/%s", user, metricID)
	}
	if res.DeletedCount == 0 {
		return core.NotFound("user metric %s/%s", user, metricID)
	}
	return nil
}

func (s *Store) DeleteUserMetricsByMetric(ctx context.Context, metricID string) error {
	if _, err := s.db.Collection(colUserMetrics).DeleteMany(ctx, bson.M{"metricId": metricID}); err != nil {
		return core.Internal(err, "delete user metrics for metric %s", metricID)
	}
	return nil
}

// AddAchievements ensures the user's record exists, then pushes each entry
// guarded by an achievements.achievementId mismatch filter. The guard gives
// set semantics on achievement id alone; differing unlock timestamps do not
// create duplicates.
func (s *Store) AddAchievements(ctx context.Context, user core.UserID, entries []core.UnlockedAchievement) error {
	if len(entries) == 0 {
		return nil
	}
	col := s.db.Collection(colUserAchievements)
	_, err := col.UpdateOne(ctx,
		bson.M{"userId": user},
		bson.M{"$setOnInsert": bson.M{"_id": uuid.NewString(), "achievements": []core.UnlockedAchievement{}}},
		options.Update().SetUpsert(true))
	if err != nil {
		return core.Internal(err, "ensure achievement record for user %s", user)
	}

	models := make([]mongo.WriteModel, 0, len(entries))
	for _, entry := range entries {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"userId": user, "achievements.achievementId": bson.M{"$ne": entry.AchievementID}}).
			SetUpdate(bson.M{"$push": bson.M{"achievements": entry}}))
	}
	if _, err := col.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return core.Internal(err, "add achievements for user %s", user)
	}
	return nil
}

func (s *Store) UserAchievements(ctx context.Context, user core.UserID) (core.UserGameAchievement, error) {
	var rec core.UserGameAchievement
	err := s.db.Collection(colUserAchievements).FindOne(ctx, bson.M{"userId": user}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.UserGameAchievement{ID: string(user), UserID: user}, nil
	}
	if err != nil {
		return core.UserGameAchievement{}, core.Internal(err, "find achievements for user %s", user)
	}
	return rec, nil
}

var _ engine.Store = (*Store)(nil)
