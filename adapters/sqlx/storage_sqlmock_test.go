package sqlx_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "achievekit/adapters/sqlx"
	"achievekit/core"
	"achievekit/engine"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"))
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_CreateEvent(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO events`).
		WithArgs("ev-quiz", "quiz_finished", "", 1, []byte(`{"score":"number"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateEvent(ctx, core.Event{
		ID: "ev-quiz", Name: "quiz_finished", Version: 1,
		PayloadSchema: core.PayloadSchema{"score": core.TypeNumber},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetEvent_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM events`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetEvent(ctx, "missing")
	require.True(t, core.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_IncrementMetrics_Upsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO user_game_metrics .* ON CONFLICT \(user_id, metric_id\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "learner-1", "quizzes", 1.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT \* FROM user_game_metrics WHERE user_id = .* AND metric_id IN`).
		WithArgs("learner-1", "quizzes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "metric_id", "value", "last_updated"}).
			AddRow("row-1", "learner-1", "quizzes", 4.0, now))

	rows, err := store.IncrementMetrics(ctx, "learner-1", []engine.Increment{{MetricID: "quizzes", Delta: 1}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 4.0, rows[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_IncrementMetrics_RepeatedIDsOneRow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO user_game_metrics`).
		WithArgs(sqlmock.AnyArg(), "learner-1", "points", 5.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_game_metrics`).
		WithArgs(sqlmock.AnyArg(), "learner-1", "points", 5.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT \* FROM user_game_metrics`).
		WithArgs("learner-1", "points").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "metric_id", "value", "last_updated"}).
			AddRow("row-1", "learner-1", "points", 10.0, now))

	rows, err := store.IncrementMetrics(ctx, "learner-1", []engine.Increment{
		{MetricID: "points", Delta: 5},
		{MetricID: "points", Delta: 5},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 10.0, rows[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddAchievements_ConflictIgnored(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO user_game_achievements .* ON CONFLICT \(user_id, achievement_id\) DO NOTHING`).
		WithArgs("learner-1", "ach-10", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.AddAchievements(ctx, "learner-1", []core.UnlockedAchievement{
		{AchievementID: "ach-10", UnlockedAt: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_InTx_RollbackOnError(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM game_metrics`).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM user_game_metrics`).
		WithArgs("m1").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.InTx(ctx, func(ctx context.Context, tx engine.Store) error {
		if err := tx.DeleteMetric(ctx, "m1"); err != nil {
			return err
		}
		return tx.DeleteUserMetricsByMetric(ctx, "m1")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UserAchievements_Empty(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT achievement_id, unlocked_at FROM user_game_achievements`).
		WithArgs("learner-1").
		WillReturnRows(sqlmock.NewRows([]string{"achievement_id", "unlocked_at"}))

	rec, err := store.UserAchievements(ctx, "learner-1")
	require.NoError(t, err)
	require.Empty(t, rec.Achievements)
	require.False(t, rec.Has("ach-10"))
	require.NoError(t, mock.ExpectationsWereMet())
}
