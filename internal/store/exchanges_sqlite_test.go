package store

import (
	"context"
	"testing"
	"time"

	"cogstream/internal/domain"

	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteSessionStore {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewSQLiteSessionStore(db)
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestSQLiteSessionStore_RecordAndRecent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.RecordExchange(ctx, domain.Exchange{
		SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello",
		Tags: map[string]string{"topic": "greeting"},
	})
	require.NoError(t, err)
	_, err = s.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "next", AssistantContent: "reply"})
	require.NoError(t, err)

	out, err := s.Recent(ctx, domain.Scope{UserID: "u1"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.EqualValues(t, 2, out[0].SequenceIndex)
	require.Equal(t, "greeting", out[1].Tags["topic"])
}

func TestSQLiteSessionStore_RecordExchangeIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	ex := domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello"}

	id1, err := s.RecordExchange(ctx, ex)
	require.NoError(t, err)
	id2, err := s.RecordExchange(ctx, ex)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestSQLiteSessionStore_EmptyScopeIsFailSecure(t *testing.T) {
	s := openTestSQLite(t)
	out, err := s.Recent(context.Background(), domain.Scope{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Empty(t, out)
}
