package rollback_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/gateway/rollback"
	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/bridge/memory"
	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

var (
	netA = satp.NetworkID{ID: "ledger-a", LedgerType: satp.LedgerMemory}
	netB = satp.NetworkID{ID: "ledger-b", LedgerType: satp.LedgerMemory}
)

// completeStages stores a hash for every message of the given stages.
func completeStages(sd *satp.SessionData, stages ...satp.Stage) {
	for t := satp.MsgInitProposal; t <= satp.MsgPreSATPTransferResponse; t++ {
		for _, st := range stages {
			if t.Stage() == st {
				satp.SaveHash(sd, t, "hash-"+t.String())
			}
		}
	}
}

func newSessionData(t *testing.T) *satp.SessionData {
	t.Helper()

	s, err := satp.NewSession(satp.SessionOptions{ContextID: "ctx", Client: true})
	require.NoError(t, err)

	sd, err := s.ClientSessionData()
	require.NoError(t, err)

	return sd
}

func TestCreateStrategy(t *testing.T) {
	f := rollback.NewFactory(bridge.NewManager(log.Nop(), nil, nil, 0), nil, log.Nop())

	tests := []struct {
		name  string
		setup func(sd *satp.SessionData)
		want  rollback.Strategy
		stage satp.Stage
	}{
		{"nothing stored", func(*satp.SessionData) {}, &rollback.Stage0Strategy{}, satp.Stage0},
		{"stage 0 partial", func(sd *satp.SessionData) {
			satp.SaveHash(sd, satp.MsgNewSessionRequest, "h")
		}, &rollback.Stage0Strategy{}, satp.Stage0},
		{"stage 1 partial", func(sd *satp.SessionData) {
			completeStages(sd, satp.Stage0)
			satp.SaveHash(sd, satp.MsgInitProposal, "h")
		}, &rollback.Stage1Strategy{}, satp.Stage1},
		{"stage 2 partial", func(sd *satp.SessionData) {
			completeStages(sd, satp.Stage0, satp.Stage1)
			satp.SaveHash(sd, satp.MsgLockAssert, "h")
		}, &rollback.Stage2Strategy{}, satp.Stage2},
		{"stage 3 partial", func(sd *satp.SessionData) {
			completeStages(sd, satp.Stage0, satp.Stage1, satp.Stage2)
			satp.SaveHash(sd, satp.MsgCommitPrepare, "h")
		}, &rollback.Stage3Strategy{}, satp.Stage3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd := newSessionData(t)
			tt.setup(sd)

			s, err := f.CreateStrategy(sd)
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
			assert.Equal(t, tt.stage, s.Stage())
		})
	}

	t.Run("all stages complete", func(t *testing.T) {
		sd := newSessionData(t)
		completeStages(sd, satp.Stage0, satp.Stage1, satp.Stage2, satp.Stage3)

		_, err := f.CreateStrategy(sd)
		assert.ErrorIs(t, err, rollback.ErrAllStagesComplete)
		assert.EqualError(t, err, "no rollback needed as all stages are complete")
	})

	t.Run("no session data", func(t *testing.T) {
		_, err := f.CreateStrategy(nil)
		assert.ErrorIs(t, err, rollback.ErrNoSessionData)
	})

	t.Run("custody stages need a bridge manager", func(t *testing.T) {
		noBridges := rollback.NewFactory(nil, nil, log.Nop())

		_, err := noBridges.CreateStrategy(newSessionData(t))
		assert.ErrorIs(t, err, rollback.ErrNoBridgeManager)

		sd := newSessionData(t)
		completeStages(sd, satp.Stage0)

		s, err := noBridges.CreateStrategy(sd)
		require.NoError(t, err)
		assert.IsType(t, &rollback.Stage1Strategy{}, s)
	})
}

type fixture struct {
	a, b    *memory.Ledger
	mon     *monitor.Service
	factory *rollback.Factory
	session *satp.Session
}

// newFixture returns a session holding both roles of a 100 unit transfer from ledger-a to ledger-b, each role
// reaching the hashes of stages.
func newFixture(t *testing.T, stages ...satp.Stage) *fixture {
	t.Helper()

	mon, err := monitor.New(monitor.Config{Enabled: true}, log.Nop())
	require.NoError(t, err)

	f := &fixture{
		a:   memory.New(netA, satp.ClaimFormatDefault),
		b:   memory.New(netB, satp.ClaimFormatDefault),
		mon: mon,
	}

	m := bridge.NewManager(log.Nop(), mon, nil, 0)
	require.NoError(t, m.DeployLeaf(f.a))
	require.NoError(t, m.DeployLeaf(f.b))

	f.factory = rollback.NewFactory(m, mon, log.Nop())

	f.session, err = satp.NewSession(satp.SessionOptions{ContextID: "ctx", Client: true, Server: true})
	require.NoError(t, err)

	for _, role := range []satp.Role{satp.RoleClient, satp.RoleServer} {
		sd, err := f.session.SessionData(role)
		require.NoError(t, err)

		sd.SenderGatewayNetworkID = netA.ID
		sd.RecipientGatewayNetworkID = netB.ID
		sd.SenderAsset = &satp.Asset{TokenID: "tok-a", TokenType: satp.TokenFungible, Owner: "alice",
			Amount: "100", NetworkID: netA}
		sd.ReceiverAsset = &satp.Asset{TokenID: "tok-b", TokenType: satp.TokenFungible, Owner: "bob",
			Amount: "100", NetworkID: netB}

		completeStages(sd, stages...)
	}

	return f
}

func (f *fixture) strategy(t *testing.T, role satp.Role) rollback.Strategy {
	t.Helper()

	sd, err := f.session.SessionData(role)
	require.NoError(t, err)

	s, err := f.factory.CreateStrategy(sd)
	require.NoError(t, err)

	return s
}

func (f *fixture) asset(t *testing.T, role satp.Role, sender bool) satp.Asset {
	t.Helper()

	sd, err := f.session.SessionData(role)
	require.NoError(t, err)

	if sender {
		return *sd.SenderAsset
	}

	return *sd.ReceiverAsset
}

func TestStage0Rollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.a.Wrap(ctx, f.asset(t, satp.RoleClient, true))
	require.NoError(t, err)
	_, err = f.b.Wrap(ctx, f.asset(t, satp.RoleServer, false))
	require.NoError(t, err)

	state, err := f.strategy(t, satp.RoleClient).Execute(ctx, f.session, satp.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	assert.Equal(t, satp.Stage0, state.CurrentStage)
	require.Len(t, state.Entries, 1)
	assert.Equal(t, rollback.ActionUnwrap, state.Entries[0].Action)
	assert.Equal(t, rollback.EntrySuccess, state.Entries[0].Status)
	assert.Equal(t, satp.RoleClient, state.Entries[0].Role)

	_, ok := f.a.Token("tok-a")
	assert.False(t, ok)

	state, err = f.strategy(t, satp.RoleServer).Execute(ctx, f.session, satp.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)

	_, ok = f.b.Token("tok-b")
	assert.False(t, ok)

	assert.Equal(t, float64(2), f.mon.CounterValue(monitor.RollbacksTotal))
	assert.Equal(t, float64(0), f.mon.CounterValue(monitor.FailedRollbacks))
}

func TestStage1RollbackNeverTouchesLedgers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, satp.Stage0)

	for role, action := range map[satp.Role]string{
		satp.RoleClient: rollback.ActionNoActionClient,
		satp.RoleServer: rollback.ActionNoActionServer,
	} {
		s := f.strategy(t, role)
		require.IsType(t, &rollback.Stage1Strategy{}, s)

		state, err := s.Execute(ctx, f.session, role)
		require.NoError(t, err)
		assert.Equal(t, rollback.StatusCompleted, state.Status)
		require.Len(t, state.Entries, 1)
		assert.Equal(t, action, state.Entries[0].Action)
		assert.Equal(t, rollback.EntrySuccess, state.Entries[0].Status)
	}

	assert.Empty(t, f.a.History())
	assert.Empty(t, f.b.History())
}

func TestStage2Rollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, satp.Stage0, satp.Stage1)

	_, err := f.a.Wrap(ctx, f.asset(t, satp.RoleClient, true))
	require.NoError(t, err)
	_, err = f.a.Lock(ctx, f.asset(t, satp.RoleClient, true))
	require.NoError(t, err)

	state, err := f.strategy(t, satp.RoleClient).Execute(ctx, f.session, satp.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	require.Len(t, state.Entries, 1)
	assert.Equal(t, rollback.ActionUnlock, state.Entries[0].Action)

	token, ok := f.a.Token("tok-a")
	require.True(t, ok)
	assert.Equal(t, memory.Token{Owner: "alice", Balance: 100}, token)

	state, err = f.strategy(t, satp.RoleServer).Execute(ctx, f.session, satp.RoleServer)
	require.NoError(t, err)
	require.Len(t, state.Entries, 1)
	assert.Equal(t, rollback.ActionNoActionServer, state.Entries[0].Action)
	assert.Empty(t, f.b.History())
}

func TestStage3Rollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, satp.Stage0, satp.Stage1, satp.Stage2)

	sender := f.asset(t, satp.RoleClient, true)
	_, err := f.a.Wrap(ctx, sender)
	require.NoError(t, err)
	_, err = f.a.Lock(ctx, sender)
	require.NoError(t, err)
	_, err = f.a.Burn(ctx, sender)
	require.NoError(t, err)
	_, err = f.b.Mint(ctx, f.asset(t, satp.RoleServer, false))
	require.NoError(t, err)

	state, err := f.strategy(t, satp.RoleClient).Execute(ctx, f.session, satp.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	assert.Equal(t, rollback.ActionMint, state.Entries[0].Action)

	token, ok := f.a.Token("tok-a")
	require.True(t, ok)
	assert.Equal(t, uint64(100), token.Balance)

	state, err = f.strategy(t, satp.RoleServer).Execute(ctx, f.session, satp.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	assert.Equal(t, rollback.ActionBurn, state.Entries[0].Action)

	token, ok = f.b.Token("tok-b")
	require.True(t, ok)
	assert.Equal(t, uint64(0), token.Balance)
}

func TestCustodyFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.a.Fail(types.OpUnwrap, errors.New("ledger down"))

	state, err := f.strategy(t, satp.RoleClient).Execute(ctx, f.session, satp.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusFailed, state.Status)
	require.Len(t, state.Entries, 1)
	assert.Equal(t, rollback.EntryFailed, state.Entries[0].Status)
	assert.Contains(t, state.Entries[0].Details, "ledger down")

	assert.Equal(t, float64(1), f.mon.CounterValue(monitor.RollbacksTotal))
	assert.Equal(t, float64(1), f.mon.CounterValue(monitor.FailedRollbacks))

	// nothing wrapped on ledger-b, the unwrap fails without a failure injected
	state, err = f.strategy(t, satp.RoleServer).Execute(ctx, f.session, satp.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusFailed, state.Status)
	assert.Contains(t, state.Entries[0].Details, types.ErrNotWrapped.Error())
}

func TestStructuralErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.strategy(t, satp.RoleClient)

	_, err := s.Execute(ctx, nil, satp.RoleClient)
	assert.ErrorIs(t, err, rollback.ErrNoSession)

	sd, err := f.session.ClientSessionData()
	require.NoError(t, err)

	sd.SenderGatewayNetworkID, sd.RecipientGatewayNetworkID = "", ""

	_, err = s.Execute(ctx, f.session, satp.RoleClient)
	assert.ErrorIs(t, err, rollback.ErrNoNetwork)
}

func TestRoleWithoutSessionData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	client, err := satp.NewSession(satp.SessionOptions{ContextID: "ctx", Client: true})
	require.NoError(t, err)

	state, err := f.strategy(t, satp.RoleClient).Execute(ctx, client, satp.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	assert.Empty(t, state.Entries)
}

func TestCleanupReturnsState(t *testing.T) {
	f := newFixture(t, satp.Stage0)
	s := f.strategy(t, satp.RoleClient)

	state, err := s.Execute(context.Background(), f.session, satp.RoleClient)
	require.NoError(t, err)

	out, err := s.Cleanup(context.Background(), f.session, state)
	require.NoError(t, err)
	assert.Same(t, state, out)
}

func TestErrorsWrapWithStack(t *testing.T) {
	type stackTracer interface{ StackTrace() errors.StackTrace }

	for _, sentinel := range []error{
		rollback.ErrAllStagesComplete, rollback.ErrNoSessionData, rollback.ErrNoSession, rollback.ErrNoNetwork,
		rollback.ErrNoBridgeManager,
	} {
		_, ok := sentinel.(stackTracer)
		assert.True(t, ok, sentinel.Error())

		wrapped := errors.Wrap(sentinel, "session-1")
		assert.True(t, errors.Is(wrapped, sentinel))
		assert.Equal(t, sentinel, errors.Cause(wrapped))
	}
}
