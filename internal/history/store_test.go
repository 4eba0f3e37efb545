package history

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/common/logger"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(db, client, logger.NewTestLogger(t)), mock, srv
}

func TestRecordInsertsAndPushesRecent(t *testing.T) {
	store, mock, srv := newTestStore(t)

	mock.ExpectExec("INSERT INTO answer_history").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &Entry{
		CIF:        "CIF001",
		Query:      "my spending",
		Answer:     "You spent Rp 1.2M.",
		Status:     "success",
		LatencyMs:  350,
		TokensUsed: 180,
	}
	require.NoError(t, store.Record(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())

	values, err := srv.List(recentKey("CIF001"))
	require.NoError(t, err)
	assert.Len(t, values, 1)
	assert.Contains(t, values[0], "my spending")
}

func TestRecentListIsTrimmed(t *testing.T) {
	store, mock, srv := newTestStore(t)

	for i := 0; i < recentListSize+5; i++ {
		mock.ExpectExec("INSERT INTO answer_history").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Record(context.Background(), &Entry{
			CIF: "CIF001", Query: "q", Answer: "a", Status: "success",
		}))
	}

	values, err := srv.List(recentKey("CIF001"))
	require.NoError(t, err)
	assert.Len(t, values, recentListSize)
}

func TestRecentServedFromRedis(t *testing.T) {
	store, mock, _ := newTestStore(t)

	mock.ExpectExec("INSERT INTO answer_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Record(context.Background(), &Entry{
		CIF: "CIF001", Query: "latest question", Answer: "a", Status: "success",
	}))

	entries, err := store.Recent(context.Background(), "CIF001", 10)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "latest question", entries[0].Query)
	// No SELECT was issued, redis answered.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWithoutRedis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewStore(db, nil, logger.NewTestLogger(t))

	mock.ExpectExec("INSERT INTO answer_history").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Record(context.Background(), &Entry{
		CIF: "CIF001", Query: "q", Answer: "a", Status: "success",
	}))
}
