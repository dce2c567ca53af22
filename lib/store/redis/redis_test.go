package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/lib/store"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)

	r, err := New("redis://" + mr.Addr())
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	return r
}

func TestNewBadURL(t *testing.T) {
	_, err := New("nope://")
	assert.Error(t, err)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	require.ErrorIs(t, r.Create(ctx, store.LocalLog{}), store.ErrNoKey)

	for i, op := range []string{store.OpInit, store.OpExec, store.OpDone} {
		require.NoError(t, r.Create(ctx, store.LocalLog{
			Key:            store.LogKey("s1", "commitPreparation", op),
			SessionID:      "s1",
			Type:           "commitPreparation",
			Operation:      op,
			Timestamp:      "1700000000000",
			Data:           `{"id":"s1"}`,
			SequenceNumber: uint64(7 + i),
		}))
	}

	require.NoError(t, r.Create(ctx, store.LocalLog{Key: "s2-x-init", SessionID: "s2", Operation: store.OpInit}))

	l, err := r.ReadLastestLog(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.OpDone, l.Operation)
	assert.Equal(t, uint64(9), l.SequenceNumber)

	l, err = r.ReadByID(ctx, "s1-commitPreparation-init")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"s1"}`, l.Data)

	_, err = r.ReadByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrLogNotFound)

	_, err = r.ReadLastestLog(ctx, "s3")
	assert.ErrorIs(t, err, store.ErrLogNotFound)

	logs, err := r.ReadLogsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, store.OpInit, logs[0].Operation)
	assert.Equal(t, store.OpExec, logs[1].Operation)

	ids, err := r.FetchSessionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}

func TestRedisRewriteMovesToEnd(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	require.NoError(t, r.Create(ctx, store.LocalLog{Key: "a", SessionID: "s", Operation: store.OpInit}))
	require.NoError(t, r.Create(ctx, store.LocalLog{Key: "b", SessionID: "s", Operation: store.OpDone}))
	require.NoError(t, r.Create(ctx, store.LocalLog{Key: "a", SessionID: "s", Operation: store.OpExec}))

	l, err := r.ReadLastestLog(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, store.OpExec, l.Operation)

	logs, err := r.ReadLogsBySession(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestNewWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	defer r.Close()

	_, err := r.FetchSessionIDs(context.Background())
	assert.NoError(t, err)
}
