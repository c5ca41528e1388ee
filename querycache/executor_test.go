package querycache

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type countingSession struct {
	calls int
	rows  []map[string]any
	err   error
}

func (s *countingSession) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	s.calls++
	return s.rows, s.err
}

func TestCachedQueryExecutor_MissThenHit(t *testing.T) {
	_, q := setupTestCache(t)
	session := &countingSession{rows: []map[string]any{{"name": "alice"}}}
	exec := NewCachedQueryExecutor(q, session, zap.NewNop(), nil)
	ctx := context.Background()

	got, err := exec.Execute(ctx, "SELECT name FROM users", nil, []string{"users"})
	require.NoError(t, err)
	assert.Equal(t, session.rows, got)
	assert.Equal(t, 1, session.calls)

	got, err = exec.Execute(ctx, "SELECT name FROM users", nil, []string{"users"})
	require.NoError(t, err)
	assert.Equal(t, session.rows, got)
	assert.Equal(t, 1, session.calls, "second read must be served from cache")
}

func TestCachedQueryExecutor_SessionErrorPropagates(t *testing.T) {
	_, q := setupTestCache(t)
	session := &countingSession{err: errors.New("connection reset")}
	exec := NewCachedQueryExecutor(q, session, zap.NewNop(), nil)
	ctx := context.Background()

	_, err := exec.Execute(ctx, "SELECT 1", nil, nil)
	require.Error(t, err)

	// Errors are never cached; the next call goes to the database again.
	_, err = exec.Execute(ctx, "SELECT 1", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 2, session.calls)
}

func TestCachedQueryExecutor_NonCacheableAlwaysExecutes(t *testing.T) {
	_, q := setupTestCache(t)
	session := &countingSession{rows: []map[string]any{{"ok": true}}}
	exec := NewCachedQueryExecutor(q, session, zap.NewNop(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := exec.Execute(ctx, "SELECT now()", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, session.calls)
}

func TestCachedQueryExecutor_UndecodablePayloadRecomputes(t *testing.T) {
	_, q := setupTestCache(t)
	ctx := context.Background()

	// Plant a cached value that is valid JSON but not a row set.
	require.True(t, q.Set(ctx, "SELECT name FROM users", "scalar", nil, time.Millisecond, nil))

	session := &countingSession{rows: []map[string]any{{"name": "alice"}}}
	exec := NewCachedQueryExecutor(q, session, zap.NewNop(), nil)

	got, err := exec.Execute(ctx, "SELECT name FROM users", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, session.rows, got)
	assert.Equal(t, 1, session.calls)
}

func setupMockSession(t *testing.T) (*GormSession, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewGormSession(gdb), mock
}

func TestGormSession_Execute(t *testing.T) {
	session, mock := setupMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), "bob"))

	rows, err := session.Execute(context.Background(), "SELECT id, name FROM users", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "alice", rows[0]["name"])
	assert.Equal(t, "bob", rows[1]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSession_ExecuteNamedParams(t *testing.T) {
	session, mock := setupMockSession(t)

	mock.ExpectQuery(`SELECT name FROM users WHERE id = \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("carol"))

	rows, err := session.Execute(context.Background(),
		"SELECT name FROM users WHERE id = @id", map[string]any{"id": 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "carol", rows[0]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSession_ExecuteError(t *testing.T) {
	session, mock := setupMockSession(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	_, err := session.Execute(context.Background(), "SELECT * FROM missing", nil)
	assert.Error(t, err)
}
