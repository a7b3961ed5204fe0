package statestore

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/store"
)

func testDeps(t *testing.T, cacheEnabled bool) (*CachedStore, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logging.New("test", "error", "text")
	logger.SetOutput(io.Discard)
	m := metrics.NewWithRegistry("test", prometheus.NewRegistry())

	cached := New(store.NewStateStore(db), client, 300*time.Second, cacheEnabled, logger, m)
	return cached, mock, mr
}

func TestLoadMissReadsDatabaseAndPopulatesCache(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	state := `{"ema": 85.0, "count": 1}`

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state_data")).
		WithArgs("trigger-1").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}).AddRow([]byte(state)))

	loaded, err := s.Load(context.Background(), "trigger-1")
	require.NoError(t, err)
	assert.JSONEq(t, state, string(loaded))

	// The cache was populated under the namespaced key.
	cached, err := mr.Get("trigger:state:trigger-1")
	require.NoError(t, err)
	assert.JSONEq(t, state, cached)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadHitSkipsDatabase(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	state := `{"count": 3}`
	require.NoError(t, mr.Set("trigger:state:trigger-1", state))

	loaded, err := s.Load(context.Background(), "trigger-1")
	require.NoError(t, err)
	assert.JSONEq(t, state, string(loaded))

	// No database expectations were registered: a query would fail the test.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	s, mock, _ := testDeps(t, true)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state_data")).
		WithArgs("trigger-x").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}))

	loaded, err := s.Load(context.Background(), "trigger-x")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestUpdateWritesThroughToCache(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	state := json.RawMessage(`{"count": 5}`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trigger_state")).
		WithArgs("trigger-1", []byte(state)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Update(context.Background(), "trigger-1", state))

	cached, err := mr.Get("trigger:state:trigger-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), cached)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSurvivesCacheFailure(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	mr.Close() // cache down, durable write must still succeed

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trigger_state")).
		WithArgs("trigger-1", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.Update(context.Background(), "trigger-1", json.RawMessage(`{}`)))
}

func TestLoadSurvivesCacheFailure(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	mr.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state_data")).
		WithArgs("trigger-1").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}).AddRow([]byte(`{"count":1}`)))

	loaded, err := s.Load(context.Background(), "trigger-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(loaded))
}

func TestCacheDisabledBypassesRedis(t *testing.T) {
	s, mock, mr := testDeps(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state_data")).
		WithArgs("trigger-1").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}).AddRow([]byte(`{"count":1}`)))

	_, err := s.Load(context.Background(), "trigger-1")
	require.NoError(t, err)

	assert.False(t, mr.Exists("trigger:state:trigger-1"))
}

func TestDeleteRemovesDurableRowAndCacheKey(t *testing.T) {
	s, mock, mr := testDeps(t, true)
	require.NoError(t, mr.Set("trigger:state:trigger-1", `{}`))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM trigger_state")).
		WithArgs("trigger-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), "trigger-1"))
	assert.False(t, mr.Exists("trigger:state:trigger-1"))
}

func TestCleanupExpired(t *testing.T) {
	s, mock, _ := testDeps(t, true)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM trigger_state")).
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := s.CleanupExpired(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}
