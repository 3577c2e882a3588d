package store

import (
	"context"
	"testing"
	"time"

	"cogstream/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore_RecordExchangeStampsSequence(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	id1, err := s.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello"})
	require.NoError(t, err)
	id2, err := s.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "next", AssistantContent: "reply"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	out, err := s.Recent(ctx, domain.Scope{UserID: "u1"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.EqualValues(t, 2, out[0].SequenceIndex) // most recent first
}

func TestMemorySessionStore_RecordExchangeIsIdempotent(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	ex := domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello"}

	id1, err := s.RecordExchange(ctx, ex)
	require.NoError(t, err)
	id2, err := s.RecordExchange(ctx, ex)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	out, err := s.Recent(ctx, domain.Scope{UserID: "u1"}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestMemorySessionStore_EmptyScopeIsFailSecure(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	_, err := s.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello"})
	require.NoError(t, err)

	out, err := s.Recent(ctx, domain.Scope{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMemorySessionStore_ByIDsRespectsScope(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	id, err := s.RecordExchange(ctx, domain.Exchange{SessionID: "s1", UserID: "u1", HumanContent: "hi", AssistantContent: "hello"})
	require.NoError(t, err)

	out, err := s.ByIDs(ctx, domain.Scope{UserID: "someone-else"}, []string{id})
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = s.ByIDs(ctx, domain.Scope{UserID: "u1"}, []string{id})
	require.NoError(t, err)
	require.Len(t, out, 1)
}
