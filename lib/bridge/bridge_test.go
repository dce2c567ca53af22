package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/lib/bridge/memory"
	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
)

var (
	netA = satp.NetworkID{ID: "ledger-a", LedgerType: satp.LedgerMemory}
	netB = satp.NetworkID{ID: "ledger-b", LedgerType: satp.LedgerMemory}
)

func TestInitDeploysMemoryLeaves(t *testing.T) {
	m := NewManager(log.Nop(), nil, nil, 0)
	defer m.Close()

	err := Init([]config.NetworkConfig{
		{ID: "ledger-b", LedgerType: satp.LedgerMemory},
		{ID: "ledger-a", LedgerType: satp.LedgerMemory},
		{ID: "fabric", LedgerType: satp.LedgerFabric2},
	}, Account{}, m)
	require.NoError(t, err)

	assert.Equal(t, []satp.NetworkID{netA, netB}, m.GetAvailableEndPoints())

	err = Init([]config.NetworkConfig{{ID: "ledger-a", LedgerType: satp.LedgerMemory}}, Account{}, m)
	assert.ErrorIs(t, err, types.ErrLeafExists)

	err = Init([]config.NetworkConfig{{ID: "eth", LedgerType: satp.LedgerEthereum}}, Account{}, m)
	assert.ErrorIs(t, err, types.ErrNoContract)
}

func TestResolve(t *testing.T) {
	m := NewManager(log.Nop(), nil, nil, 0)
	require.NoError(t, m.DeployLeaf(memory.New(netA, satp.ClaimFormatDefault)))

	_, err := m.GetBridgeEndPoint(netB, satp.ClaimFormatDefault)
	assert.ErrorIs(t, err, types.ErrNoBridge)
	assert.ErrorContains(t, err, "no bridge found for network")

	_, err = m.GetSATPExecutionLayer(netA, satp.ClaimFormatBungee)
	assert.ErrorIs(t, err, types.ErrClaimFormat)

	addr, err := m.GetApproveAddress(netA, satp.TokenFungible)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	_, err = m.GetApproveAddress(netB, satp.TokenFungible)
	assert.ErrorIs(t, err, types.ErrNoBridge)
}

func TestExecutionLayerClaims(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	mon, err := monitor.New(monitor.Config{Enabled: true}, log.Nop())
	require.NoError(t, err)

	m := NewManager(log.Nop(), mon, s, 0)
	leaf := memory.New(netA, satp.ClaimFormatDefault)
	require.NoError(t, m.DeployLeaf(leaf))

	el, err := m.GetSATPExecutionLayer(netA, satp.ClaimFormatDefault)
	require.NoError(t, err)

	ctx := context.Background()
	asset := satp.Asset{TokenID: "tok", Owner: "alice", Amount: "10", NetworkID: netA}

	_, err = el.WrapAsset(ctx, asset)
	require.NoError(t, err)

	claim, err := el.LockAsset(ctx, asset)
	require.NoError(t, err)

	var r types.Receipt
	require.NoError(t, json.Unmarshal([]byte(claim.Receipt), &r))
	assert.Equal(t, types.OpLock, r.Operation)
	assert.Equal(t, r.TxID, claim.Proof)

	ok, err := signer.Verify(s.PubKey(), []byte(claim.Receipt), claim.Signature)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(2), mon.CounterValue(monitor.CustodyOperations))

	boom := errors.New("ledger down")
	leaf.Fail(types.OpUnlock, boom)
	_, err = el.UnlockAsset(ctx, asset)
	assert.ErrorIs(t, err, boom)
}
