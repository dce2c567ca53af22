package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/signer"
	"github.com/tarancss/satp/lib/store"
	"github.com/tarancss/satp/lib/store/memory"
)

// published writes one row through an auditor and returns the row and its proof.
func published(t *testing.T, s *signer.Signer, remote *fakeRemote, op string) store.LocalLog {
	t.Helper()

	a := store.NewAuditor("gw-b", memory.New(), remote, s, log.Nop())

	return a.Persist(context.Background(), store.Entry{SessionID: "s1", Type: "commitReady", Operation: op,
		Data: []byte(`{"id":"s1"}`), SequenceNumber: 7})
}

func TestProofsCheck(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	other, err := signer.Generate()
	require.NoError(t, err)

	remote := &fakeRemote{}
	row := published(t, s, remote, store.OpDone)

	p := store.NewProofs(log.Nop())
	require.NoError(t, p.Add(remote.logs[0]))
	assert.Equal(t, 1, p.Len())

	known, err := p.Check(row, s.PubKey())
	require.NoError(t, err)
	assert.True(t, known)

	tampered := row
	tampered.Data = `{"id":"s1","lastSequenceNumber":9}`
	known, err = p.Check(tampered, s.PubKey())
	assert.True(t, known)
	assert.ErrorIs(t, err, store.ErrProofMismatch)

	_, err = p.Check(row, other.PubKey())
	assert.ErrorIs(t, err, store.ErrProofSigner)

	known, err = p.Check(store.LocalLog{Key: "s1-commitReady-init"}, s.PubKey())
	require.NoError(t, err)
	assert.False(t, known)
}

func TestProofsAddRejectsBadSignature(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	remote := &fakeRemote{}
	published(t, s, remote, store.OpDone)

	forged := remote.logs[0]
	forged.Hash = "00"

	p := store.NewProofs(log.Nop())
	assert.ErrorIs(t, p.Add(forged), store.ErrProofSignature)

	forged.SignerPubkey = "zz"
	assert.ErrorIs(t, p.Add(forged), store.ErrProofSignature)
	assert.Zero(t, p.Len())
}

func TestProofsFollow(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	remote := &fakeRemote{}
	first := published(t, s, remote, store.OpInit)
	last := published(t, s, remote, store.OpDone)

	bad := remote.logs[0]
	bad.Key, bad.Signature = "s1-other-init", "00"
	remote.logs = append(remote.logs, bad)

	p := store.NewProofs(log.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan error, 1)
	go func() { stopped <- p.Follow(ctx, remote, "gw-b") }()

	assert.Eventually(t, func() bool { return p.Len() == 2 }, time.Second, 5*time.Millisecond)

	for _, row := range []store.LocalLog{first, last} {
		known, err := p.Check(row, s.PubKey())
		require.NoError(t, err)
		assert.True(t, known, row.Key)
	}

	cancel()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestProofsFollowBrokerError(t *testing.T) {
	remote := &fakeRemote{err: assert.AnError}

	err := store.NewProofs(log.Nop()).Follow(context.Background(), remote, "gw-b")
	assert.ErrorIs(t, err, assert.AnError)
}
