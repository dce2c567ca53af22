package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/lib/store"
)

func row(session, typ, op, ts string) store.LocalLog {
	return store.LocalLog{
		Key:       store.LogKey(session, typ, op),
		SessionID: session,
		Type:      typ,
		Operation: op,
		Timestamp: ts,
		Data:      "{}",
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.ErrorIs(t, m.Create(ctx, store.LocalLog{}), store.ErrNoKey)

	require.NoError(t, m.Create(ctx, row("s1", "transferProposalRequest", store.OpInit, "1")))
	require.NoError(t, m.Create(ctx, row("s2", "newSessionRequest", store.OpInit, "2")))
	require.NoError(t, m.Create(ctx, row("s1", "transferProposalRequest", store.OpDone, "3")))

	l, err := m.ReadLastestLog(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.OpDone, l.Operation)

	l, err = m.ReadByID(ctx, "s2-newSessionRequest-init")
	require.NoError(t, err)
	assert.Equal(t, "s2", l.SessionID)

	_, err = m.ReadByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrLogNotFound)

	_, err = m.ReadLastestLog(ctx, "s3")
	assert.ErrorIs(t, err, store.ErrLogNotFound)

	logs, err := m.ReadLogsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, store.OpInit, logs[0].Operation)

	// rewriting a key moves the row to the end
	require.NoError(t, m.Create(ctx, row("s1", "transferProposalRequest", store.OpInit, "4")))
	l, err = m.ReadLastestLog(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "4", l.Timestamp)

	logs, err = m.ReadLogsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	ids, err := m.FetchSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	assert.NoError(t, m.Close())
}
