package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/store"
)

func testDeps(t *testing.T) (sqlmock.Sqlmock, *store.TriggerStore, *logging.Logger, *metrics.Metrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.New("test", "error", "text")
	logger.SetOutput(io.Discard)
	m := metrics.NewWithRegistry("test", prometheus.NewRegistry())
	return mock, store.NewTriggerStore(db), logger, m
}

func expectLoad(mock sqlmock.Sqlmock, config, state interface{}) {
	mock.ExpectQuery(regexp.QuoteMeta("circuit_breaker_config")).
		WillReturnRows(sqlmock.NewRows([]string{"circuit_breaker_config", "circuit_breaker_state"}).
			AddRow(config, state))
}

func expectPersist(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE triggers")).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestNewDefaultsWhenColumnsNull(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, nil)

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.Equal(t, uint32(10), b.config.FailureThreshold)
	assert.Equal(t, uint64(3600), b.config.RecoveryTimeoutSeconds)
	assert.Equal(t, uint32(1), b.config.HalfOpenMaxCalls)
}

func TestNewMissingTrigger(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	mock.ExpectQuery(regexp.QuoteMeta("circuit_breaker_config")).
		WillReturnRows(sqlmock.NewRows([]string{"circuit_breaker_config", "circuit_breaker_state"}))

	_, err := New(context.Background(), "gone", triggers, logger, m)
	assert.Error(t, err)
}

func TestClosedAllowsCalls(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, nil)

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)
	assert.True(t, b.CallAllowed(context.Background()))
}

func TestFailureThresholdOpensCircuit(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, []byte(`{"failure_threshold":3,"recovery_timeout_seconds":3600,"half_open_max_calls":1}`), nil)

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	// Each failure persists; the third crosses the threshold.
	for i := 0; i < 3; i++ {
		expectPersist(mock)
		b.RecordFailure(context.Background())
	}

	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.CallAllowed(context.Background()))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, []byte(`{"state":"closed","failure_count":4,"half_open_calls":0}`))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	expectPersist(mock)
	b.RecordSuccess(context.Background())

	assert.Equal(t, uint32(0), b.state.FailureCount)
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestOpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	openedAt := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	state := fmt.Sprintf(`{"state":"open","failure_count":10,"opened_at":%q,"half_open_calls":0}`, openedAt)
	expectLoad(mock, nil, []byte(state))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)
	require.Equal(t, StateOpen, b.CurrentState())

	expectPersist(mock)
	assert.True(t, b.CallAllowed(context.Background()))
	assert.Equal(t, StateHalfOpen, b.CurrentState())
}

func TestOpenDeniesBeforeTimeout(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	openedAt := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	state := fmt.Sprintf(`{"state":"open","failure_count":10,"opened_at":%q,"half_open_calls":0}`, openedAt)
	expectLoad(mock, nil, []byte(state))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	assert.False(t, b.CallAllowed(context.Background()))
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestHalfOpenCapsCalls(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, []byte(`{"state":"half_open","failure_count":0,"half_open_calls":0}`))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	assert.True(t, b.CallAllowed(context.Background()))
	assert.False(t, b.CallAllowed(context.Background()), "second call exceeds half_open_max_calls=1")
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, []byte(`{"state":"half_open","failure_count":0,"half_open_calls":1}`))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	expectPersist(mock)
	b.RecordSuccess(context.Background())
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.True(t, b.CallAllowed(context.Background()))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, []byte(`{"state":"half_open","failure_count":0,"half_open_calls":1}`))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	expectPersist(mock)
	b.RecordFailure(context.Background())
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.NotNil(t, b.state.OpenedAt)
}

func TestPersistFailureDoesNotMaskTransition(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, []byte(`{"failure_threshold":1,"recovery_timeout_seconds":3600,"half_open_max_calls":1}`), nil)

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE triggers")).
		WillReturnError(errors.New("connection reset"))

	b.RecordFailure(context.Background())

	// The write failed but the in-memory transition stands.
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestInvalidPersistedStateResetsToClosed(t *testing.T) {
	mock, triggers, logger, m := testDeps(t)
	expectLoad(mock, nil, []byte(`{not json`))

	b, err := New(context.Background(), "t1", triggers, logger, m)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestSnapshotRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	snap := Snapshot{State: StateOpen, FailureCount: 10, OpenedAt: &now, HalfOpenCalls: 0}

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, snap.State, decoded.State)
	assert.Equal(t, snap.FailureCount, decoded.FailureCount)
	require.NotNil(t, decoded.OpenedAt)
	assert.True(t, snap.OpenedAt.Equal(*decoded.OpenedAt))
}
