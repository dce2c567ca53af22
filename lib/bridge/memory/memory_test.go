package memory

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/satp"
)

var net = satp.NetworkID{ID: "ledger-a", LedgerType: satp.LedgerMemory}

func TestCustodyCycle(t *testing.T) {
	ctx := context.Background()
	l := New(net, satp.ClaimFormatDefault)
	asset := satp.Asset{TokenID: "tok", Owner: "alice", Amount: "100"}

	_, err := l.Wrap(ctx, asset)
	require.NoError(t, err)
	_, err = l.Wrap(ctx, asset)
	assert.ErrorIs(t, err, types.ErrWrapped)

	lock := asset
	lock.Amount = "40"
	r, err := l.Lock(ctx, lock)
	require.NoError(t, err)
	assert.Equal(t, types.TrxSuccess, r.Status)
	assert.Equal(t, "mem-ledger-a-2", r.TxID)

	tok, ok := l.Token("tok")
	require.True(t, ok)
	assert.Equal(t, Token{Owner: "alice", Balance: 60, Locked: 40}, tok)

	_, err = l.Unlock(ctx, lock)
	require.NoError(t, err)
	_, err = l.Unlock(ctx, lock)
	assert.ErrorIs(t, err, types.ErrLocked)

	tooMuch := asset
	tooMuch.Amount = "200"
	_, err = l.Burn(ctx, tooMuch)
	assert.ErrorIs(t, err, types.ErrBalance)

	_, err = l.Lock(ctx, lock)
	require.NoError(t, err)
	_, err = l.Burn(ctx, lock)
	require.NoError(t, err)

	tok, _ = l.Token("tok")
	assert.Equal(t, Token{Owner: "alice", Balance: 60}, tok)

	_, err = l.Unwrap(ctx, asset)
	require.NoError(t, err)
	_, ok = l.Token("tok")
	assert.False(t, ok)

	assert.Len(t, l.History(), 6)
}

func TestMintAssign(t *testing.T) {
	ctx := context.Background()
	l := New(net, satp.ClaimFormatDefault)

	_, err := l.Assign(ctx, satp.Asset{TokenID: "x", Owner: "bob", Amount: "1"})
	assert.ErrorIs(t, err, types.ErrNotWrapped)

	_, err = l.Mint(ctx, satp.Asset{TokenID: "x", Owner: "gateway", Amount: "5"})
	require.NoError(t, err)
	_, err = l.Assign(ctx, satp.Asset{TokenID: "x", Owner: "bob", Amount: "5"})
	require.NoError(t, err)

	tok, _ := l.Token("x")
	assert.Equal(t, Token{Owner: "bob", Balance: 5}, tok)
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	l := New(net, satp.ClaimFormatDefault)
	boom := errors.New("ledger down")

	l.Fail(types.OpMint, boom)
	r, err := l.Mint(ctx, satp.Asset{TokenID: "x", Amount: "1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.TrxFailed, r.Status)
	assert.Empty(t, l.History())

	l.Fail(types.OpMint, nil)
	_, err = l.Mint(ctx, satp.Asset{TokenID: "x", Amount: "1"})
	assert.NoError(t, err)
}

func TestBadInput(t *testing.T) {
	l := New(net, satp.ClaimFormatDefault)

	_, err := l.Mint(context.Background(), satp.Asset{TokenID: "x", Amount: "-1"})
	assert.ErrorIs(t, err, types.ErrAmount)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Mint(ctx, satp.Asset{TokenID: "x", Amount: "1"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = l.ApproveAddress("OTHER")
	assert.ErrorIs(t, err, types.ErrTokenType)

	addr, err := l.ApproveAddress(satp.TokenFungible)
	require.NoError(t, err)
	assert.Equal(t, "memory://ledger-a/escrow", addr)
}
