package crash_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/satp/gateway/crash"
	"github.com/tarancss/satp/gateway/rollback"
	"github.com/tarancss/satp/gateway/rpc"
	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/bridge/memory"
	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/log"
	msgtypes "github.com/tarancss/satp/lib/msg/types"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
	"github.com/tarancss/satp/lib/store"
	storemem "github.com/tarancss/satp/lib/store/memory"
)

var (
	netA = satp.NetworkID{ID: "ledger-a", LedgerType: satp.LedgerMemory}
	netB = satp.NetworkID{ID: "ledger-b", LedgerType: satp.LedgerMemory}
)

type registry struct {
	mu       sync.Mutex
	sessions map[string]*satp.Session
}

func (r *registry) Session(id string) (*satp.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]

	return s, ok
}

func (r *registry) Register(s *satp.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID()] = s

	return nil
}

func (r *registry) Sessions() []*satp.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*satp.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}

	return out
}

type peer struct {
	mu   sync.Mutex
	got  []*rpc.RollbackRequest
	resp rpc.RollbackResponse
}

func (p *peer) Rollback(_ context.Context, req *rpc.RollbackRequest) (*rpc.RollbackResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.got = append(p.got, req)
	resp := p.resp
	resp.SessionID = req.SessionID

	return &resp, nil
}

var errNotServed = errors.New("recovery not served")

func (p *peer) Recover(context.Context, *rpc.RecoverRequest) (*rpc.RecoverResponse, error) {
	return nil, errNotServed
}

func (p *peer) RecoverSuccess(context.Context, *rpc.RecoverSuccessRequest) (*rpc.RecoverSuccessResponse, error) {
	return nil, errNotServed
}

func (p *peer) requests() []*rpc.RollbackRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*rpc.RollbackRequest(nil), p.got...)
}

type peers struct{ n crash.Notifier }

func (ps peers) Notifier(networkID string) (crash.Notifier, error) {
	if networkID != netB.ID {
		return nil, errors.New("no gateway serves " + networkID)
	}

	return ps.n, nil
}

// counterparty answers the recovery exchange with the crash manager of a second gateway.
type counterparty struct {
	*peer
	m *crash.Manager

	mu        sync.Mutex
	successes []*rpc.RecoverSuccessRequest
}

func (c *counterparty) Recover(ctx context.Context, req *rpc.RecoverRequest) (*rpc.RecoverResponse, error) {
	return c.m.HandleRecover(ctx, req)
}

func (c *counterparty) RecoverSuccess(ctx context.Context, req *rpc.RecoverSuccessRequest,
) (*rpc.RecoverSuccessResponse, error) {
	c.mu.Lock()
	c.successes = append(c.successes, req)
	c.mu.Unlock()

	return c.m.HandleRecoverSuccess(ctx, req)
}

func (c *counterparty) closed() []*rpc.RecoverSuccessRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*rpc.RecoverSuccessRequest(nil), c.successes...)
}

type fixture struct {
	repo   *storemem.Memory
	ledger *memory.Ledger
	reg    *registry
	peer   *peer
	m      *crash.Manager
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		repo:   storemem.New(),
		ledger: memory.New(netA, satp.ClaimFormatDefault),
		reg:    &registry{sessions: map[string]*satp.Session{}},
		peer:   &peer{resp: rpc.RollbackResponse{Status: "COMPLETED", Entries: 1}},
	}

	bm := bridge.NewManager(log.Nop(), nil, nil, 0)
	require.NoError(t, bm.DeployLeaf(f.ledger))

	var err error

	f.m, err = crash.New(crash.Options{
		GatewayID:     "gw-a",
		Repository:    f.repo,
		Auditor:       store.NewAuditor("gw-a", f.repo, nil, nil, log.Nop()),
		Factory:       rollback.NewFactory(bm, nil, log.Nop()),
		Sessions:      f.reg,
		Peers:         peers{f.peer},
		Log:           log.Nop(),
		CheckInterval: interval,
		MaxTimeout:    time.Minute,
		MaxRetries:    2,
	})
	require.NoError(t, err)

	return f
}

// session registers a client session that crashed in stage 0 after wrapping tok-a on ledger-a.
func (f *fixture) session(t *testing.T) *satp.Session {
	t.Helper()

	s, err := satp.NewSession(satp.SessionOptions{ContextID: "ctx", Client: true})
	require.NoError(t, err)

	sd, err := s.ClientSessionData()
	require.NoError(t, err)

	sd.SenderGatewayNetworkID = netA.ID
	sd.RecipientGatewayNetworkID = netB.ID
	sd.SenderAsset = &satp.Asset{TokenID: "tok-a", TokenType: satp.TokenFungible, Owner: "alice", Amount: "100",
		NetworkID: netA}
	satp.SaveHash(sd, satp.MsgNewSessionRequest, "h0")

	_, err = f.ledger.Wrap(context.Background(), *sd.SenderAsset)
	require.NoError(t, err)

	require.NoError(t, f.reg.Register(s))

	return s
}

// burnedSession registers a client session that crashed in stage 3 after burning tok-a on ledger-a.
func (f *fixture) burnedSession(t *testing.T) *satp.Session {
	t.Helper()

	ctx := context.Background()

	s, err := satp.NewSession(satp.SessionOptions{ContextID: "ctx", Client: true})
	require.NoError(t, err)

	sd, err := s.ClientSessionData()
	require.NoError(t, err)

	sd.SenderGatewayNetworkID = netA.ID
	sd.RecipientGatewayNetworkID = netB.ID
	sd.SenderAsset = &satp.Asset{TokenID: "tok-a", TokenType: satp.TokenFungible, Owner: "alice", Amount: "100",
		NetworkID: netA}

	for mt := satp.MsgInitProposal; mt <= satp.MsgPreSATPTransferResponse; mt++ {
		if mt.Stage() < satp.Stage3 {
			satp.SaveHash(sd, mt, "hash-"+mt.String())
		}
	}

	_, err = f.ledger.Wrap(ctx, *sd.SenderAsset)
	require.NoError(t, err)
	_, err = f.ledger.Lock(ctx, *sd.SenderAsset)
	require.NoError(t, err)
	_, err = f.ledger.Burn(ctx, *sd.SenderAsset)
	require.NoError(t, err)

	require.NoError(t, f.reg.Register(s))

	return s
}

// logStep writes a log row holding the current client data of s, age old.
func (f *fixture) logStep(t *testing.T, s *satp.Session, op string, age time.Duration) {
	t.Helper()

	data, err := s.Snapshot(satp.RoleClient)
	require.NoError(t, err)

	f.logRaw(t, s.ID(), op, string(data), age)
}

func (f *fixture) logRaw(t *testing.T, id, op, data string, age time.Duration) {
	t.Helper()

	require.NoError(t, f.repo.Create(context.Background(), store.LocalLog{
		Key:       store.LogKey(id, "newSessionRequest", op),
		SessionID: id,
		Type:      "newSessionRequest",
		Operation: op,
		Timestamp: strconv.FormatInt(time.Now().Add(-age).UnixMilli(), 10),
		Data:      data,
	}))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := crash.New(crash.Options{Log: log.Nop()})
	assert.ErrorIs(t, err, crash.ErrNoRepository)

	_, err = crash.New(crash.Options{Repository: storemem.New(), Log: log.Nop()})
	assert.ErrorIs(t, err, crash.ErrNoFactory)
}

func TestRecoverSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)

	src, err := satp.NewSession(satp.SessionOptions{ContextID: "ctx", Server: true})
	require.NoError(t, err)

	sd, err := src.ServerSessionData()
	require.NoError(t, err)

	sd.LastSequenceNumber = 4

	data, err := src.Snapshot(satp.RoleServer)
	require.NoError(t, err)

	f.logRaw(t, src.ID(), store.OpDone, string(data), 0)
	f.logRaw(t, "broken", store.OpExec, "{}", 0)

	n, err := f.m.RecoverSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := f.reg.Session(src.ID())
	require.True(t, ok)
	assert.False(t, got.HasClientSessionData())

	gotSD, err := got.ServerSessionData()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), gotSD.LastSequenceNumber)

	_, ok = f.reg.Session("broken")
	assert.False(t, ok)

	n, err = f.m.RecoverSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckCrash(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		op   string
		age  time.Duration
		want crash.Status
	}{
		{"step not finished", store.OpExec, 0, crash.StatusRecovery},
		{"step failed", store.OpFail, 0, crash.StatusRecovery},
		{"fresh", store.OpDone, 0, crash.StatusIdle},
		{"timed out", store.OpDone, time.Hour, crash.StatusRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Hour)
			s := f.session(t)
			f.logStep(t, s, tt.op, tt.age)

			got, err := f.m.CheckCrash(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("completed sessions are idle", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		s := f.session(t)
		f.logStep(t, s, store.OpExec, time.Hour)
		require.NoError(t, s.MarkState(satp.RoleClient, satp.StateCompleted))

		got, err := f.m.CheckCrash(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, crash.StatusIdle, got)
	})

	t.Run("no logs", func(t *testing.T) {
		f := newFixture(t, time.Hour)

		got, err := f.m.CheckCrash(ctx, f.session(t))
		assert.ErrorIs(t, err, store.ErrLogNotFound)
		assert.Equal(t, crash.StatusError, got)
	})
}

func TestCheckAndResolveCrashRecovers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	s := f.session(t)

	sd, err := s.ClientSessionData()
	require.NoError(t, err)

	sd.LastSequenceNumber = 3
	f.logStep(t, s, store.OpExec, 0)
	sd.LastSequenceNumber = 9

	require.NoError(t, f.m.CheckAndResolveCrash(ctx, s))

	restored, err := s.ClientSessionData()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), restored.LastSequenceNumber)

	last, err := f.repo.ReadLastestLog(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, crash.LogRecover, last.Type)
	assert.Equal(t, store.OpDone, last.Operation)

	status, err := f.m.CheckCrash(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, crash.StatusIdle, status)

	_, rolledBack := f.m.RollbackState(s.ID())
	assert.False(t, rolledBack)
}

func TestCheckAndResolveCrashRollsBackAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	s := f.session(t)
	f.logRaw(t, s.ID(), store.OpExec, "not json", 0)

	require.NoError(t, f.m.CheckAndResolveCrash(ctx, s))

	_, ok := f.ledger.Token("tok-a")
	assert.False(t, ok, "wrapped asset is unwrapped")

	state, ok := f.m.RollbackState(s.ID())
	require.True(t, ok)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
	assert.Equal(t, satp.Stage0, state.CurrentStage)
	require.Len(t, state.Entries, 1)
	assert.Equal(t, rollback.ActionUnwrap, state.Entries[0].Action)

	reqs := f.peer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gw-a", reqs[0].GatewayID)
	assert.Equal(t, satp.Stage0, reqs[0].Stage)

	last, err := f.repo.ReadLastestLog(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, crash.LogRollback, last.Type)

	status, err := f.m.CheckCrash(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, crash.StatusRolledBack, status)

	require.NoError(t, f.m.CheckAndResolveCrash(ctx, s))
	assert.Len(t, f.peer.requests(), 1)
}

// exchange wires the client gateway of f to a server gateway holding the same session one step ahead.
type exchange struct {
	f       *fixture
	session *satp.Session
	client  *signer.Signer
	server  *signer.Signer
	cp      *counterparty
	proofs  *store.Proofs
	ahead   store.LocalLog
	regB    *registry
	repoB   *storemem.Memory
}

func newExchange(t *testing.T) *exchange {
	t.Helper()

	ctx := context.Background()
	x := &exchange{f: newFixture(t, time.Hour), proofs: store.NewProofs(log.Nop())}

	var err error

	x.client, err = signer.Generate()
	require.NoError(t, err)
	x.server, err = signer.Generate()
	require.NoError(t, err)

	x.session = x.f.session(t)

	sd, err := x.session.ClientSessionData()
	require.NoError(t, err)

	sd.ClientGatewayPubkey, sd.ServerGatewayPubkey = x.client.PubKey(), x.server.PubKey()
	sd.LastSequenceNumber = 3
	satp.SaveHash(sd, satp.MsgInitProposal, "proposal")
	x.f.logStep(t, x.session, store.OpExec, 0)

	served, err := satp.NewSession(satp.SessionOptions{SessionID: x.session.ID(), ContextID: "ctx", Server: true})
	require.NoError(t, err)

	ssd, err := served.ServerSessionData()
	require.NoError(t, err)

	ssd.ClientGatewayPubkey, ssd.ServerGatewayPubkey = x.client.PubKey(), x.server.PubKey()
	ssd.SenderGatewayNetworkID, ssd.RecipientGatewayNetworkID = netA.ID, netB.ID
	satp.SaveHash(ssd, satp.MsgInitProposal, "proposal")
	satp.SaveHash(ssd, satp.MsgInitReceipt, "receipt")
	satp.SaveSignature(ssd, satp.MsgInitReceipt, "receipt-sig")
	ssd.LastSequenceNumber = 4

	data, err := served.Snapshot(satp.RoleServer)
	require.NoError(t, err)

	x.repoB = storemem.New()
	auditB := store.NewAuditor("gw-b", x.repoB, nil, nil, log.Nop())
	auditB.Persist(ctx, store.Entry{SessionID: served.ID(), Type: "newSessionResponse", Operation: store.OpDone,
		Data: data, SequenceNumber: 2})
	x.ahead = auditB.Persist(ctx, store.Entry{SessionID: served.ID(), Type: "transferProposalResponse",
		Operation: store.OpDone, Data: data, SequenceNumber: 4})

	x.regB = &registry{sessions: map[string]*satp.Session{served.ID(): served}}
	x.cp = &counterparty{peer: x.f.peer, m: x.serverManager(t, x.server)}

	return x
}

// serverManager returns the crash manager of gw-b, signing with s.
func (x *exchange) serverManager(t *testing.T, s *signer.Signer) *crash.Manager {
	t.Helper()

	m, err := crash.New(crash.Options{
		GatewayID:  "gw-b",
		Repository: x.repoB,
		Factory:    rollback.NewFactory(nil, nil, log.Nop()),
		Sessions:   x.regB,
		Signer:     s,
		Log:        log.Nop(),
	})
	require.NoError(t, err)

	return m
}

// publish adds the proof gw-b publishes for row, signed by s.
func (x *exchange) publish(t *testing.T, s *signer.Signer, row store.LocalLog) {
	t.Helper()

	hash, err := store.ProofHash(row)
	require.NoError(t, err)

	sig, err := s.Sign([]byte(hash))
	require.NoError(t, err)

	require.NoError(t, x.proofs.Add(msgtypes.RemoteLog{Key: row.Key, SessionID: row.SessionID, Hash: hash,
		Signature: sig, SignerPubkey: s.PubKey()}))
}

// manager returns the crash manager of gw-a, recovering through the counterparty.
func (x *exchange) manager(t *testing.T) *crash.Manager {
	t.Helper()

	bm := bridge.NewManager(log.Nop(), nil, nil, 0)
	require.NoError(t, bm.DeployLeaf(x.f.ledger))

	m, err := crash.New(crash.Options{
		GatewayID:     "gw-a",
		Repository:    x.f.repo,
		Auditor:       store.NewAuditor("gw-a", x.f.repo, nil, nil, log.Nop()),
		Factory:       rollback.NewFactory(bm, nil, log.Nop()),
		Sessions:      x.f.reg,
		Peers:         peers{x.cp},
		Signer:        x.client,
		Proofs:        x.proofs,
		Log:           log.Nop(),
		CheckInterval: time.Hour,
		MaxTimeout:    time.Minute,
		MaxRetries:    2,
	})
	require.NoError(t, err)

	return m
}

func TestRecoverFromCounterparty(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t)
	x.publish(t, x.server, x.ahead)

	m := x.manager(t)
	require.NoError(t, m.CheckAndResolveCrash(ctx, x.session))

	sd, err := x.session.ClientSessionData()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), sd.LastSequenceNumber)
	assert.Equal(t, "proposal", satp.GetMessageHash(sd, satp.MsgInitProposal))
	assert.Equal(t, "receipt", satp.GetMessageHash(sd, satp.MsgInitReceipt))
	assert.Equal(t, "receipt-sig", satp.GetMessageSignature(sd, satp.MsgInitReceipt))

	last, err := x.f.repo.ReadLastestLog(ctx, x.session.ID())
	require.NoError(t, err)
	assert.Equal(t, crash.LogRecover, last.Type)
	assert.Equal(t, uint64(4), last.SequenceNumber)

	kept, err := x.f.repo.ReadByID(ctx, store.LogKey(x.session.ID(), crash.LogPeer+"-transferProposalResponse",
		store.OpDone))
	require.NoError(t, err)
	assert.Equal(t, x.ahead.Data, kept.Data)

	_, err = x.f.repo.ReadByID(ctx, store.LogKey(x.session.ID(), crash.LogPeer+"-newSessionResponse", store.OpDone))
	assert.ErrorIs(t, err, store.ErrLogNotFound, "rows the client already holds are not handed over")

	closed := x.cp.closed()
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Success)
	assert.Equal(t, []string{satp.MsgInitReceipt.String()}, closed[0].EntriesChanged)
	assert.NoError(t, rpc.Open(x.client.PubKey(), closed[0]))

	_, rolledBack := m.RollbackState(x.session.ID())
	assert.False(t, rolledBack)
	assert.Empty(t, x.f.peer.requests())
}

func TestRecoverRejectsCounterpartyLogs(t *testing.T) {
	ctx := context.Background()

	other, err := signer.Generate()
	require.NoError(t, err)

	tests := []struct {
		name  string
		setup func(t *testing.T, x *exchange)
	}{
		{"row differs from its proof", func(t *testing.T, x *exchange) {
			forged := x.ahead
			forged.Data = `{"id":"forged"}`
			x.publish(t, x.server, forged)
		}},
		{"proof signed by another gateway", func(t *testing.T, x *exchange) {
			x.publish(t, other, x.ahead)
		}},
		{"update signed by another gateway", func(t *testing.T, x *exchange) {
			x.publish(t, x.server, x.ahead)
			x.cp.m = x.serverManager(t, other)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newExchange(t)
			tt.setup(t, x)

			m := x.manager(t)
			require.NoError(t, m.CheckAndResolveCrash(ctx, x.session))

			sd, err := x.session.ClientSessionData()
			require.NoError(t, err)
			assert.Empty(t, satp.GetMessageHash(sd, satp.MsgInitReceipt))

			_, err = x.f.repo.ReadByID(ctx, store.LogKey(x.session.ID(), crash.LogPeer+"-transferProposalResponse",
				store.OpDone))
			assert.ErrorIs(t, err, store.ErrLogNotFound)
			assert.Empty(t, x.cp.closed())

			state, ok := m.RollbackState(x.session.ID())
			require.True(t, ok, "exhausted recoveries roll back")
			assert.Equal(t, rollback.StatusCompleted, state.Status)
		})
	}
}

func TestHandleRecover(t *testing.T) {
	ctx := context.Background()
	x := newExchange(t)

	req := &rpc.RecoverRequest{SessionID: x.session.ID(), MessageType: rpc.MsgRecover, GatewayID: "gw-a",
		SequenceNumber: 3}

	_, err := x.cp.m.HandleRecover(ctx, req)
	assert.ErrorIs(t, err, rpc.ErrUnsigned)

	require.NoError(t, rpc.Seal(x.client, req))

	resp, err := x.cp.m.HandleRecover(ctx, req)
	require.NoError(t, err)
	require.NoError(t, rpc.Open(x.server.PubKey(), resp))
	assert.Equal(t, rpc.MsgRecoverUpdate, resp.MessageType)
	require.Len(t, resp.RecoveredLogs, 1)
	assert.Equal(t, x.ahead, resp.RecoveredLogs[0])

	hash, err := satp.Hash(req)
	require.NoError(t, err)
	assert.Equal(t, hash, resp.Hash)

	req.SequenceNumber = 4
	require.NoError(t, rpc.Seal(x.client, req))

	resp, err = x.cp.m.HandleRecover(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, resp.RecoveredLogs)

	missing := &rpc.RecoverRequest{SessionID: "missing"}
	require.NoError(t, rpc.Seal(x.client, missing))
	_, err = x.cp.m.HandleRecover(ctx, missing)
	assert.ErrorIs(t, err, crash.ErrNoSession)

	_, err = x.f.m.HandleRecoverSuccess(ctx, &rpc.RecoverSuccessRequest{SessionID: x.session.ID()})
	assert.ErrorIs(t, err, crash.ErrNoSigner)
}

func TestInitiateRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("not needed without force", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		s := f.session(t)
		f.logStep(t, s, store.OpDone, 0)

		_, err := f.m.InitiateRollback(ctx, s, false)
		assert.ErrorIs(t, err, crash.ErrRollbackNotNeeded)
	})

	t.Run("timed out without force", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		s := f.session(t)
		f.logStep(t, s, store.OpDone, time.Hour)

		state, err := f.m.InitiateRollback(ctx, s, false)
		require.NoError(t, err)
		assert.Equal(t, rollback.StatusCompleted, state.Status)
	})

	t.Run("counterparty refuses", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.peer.resp = rpc.RollbackResponse{Error: true, Message: "busy"}

		_, err := f.m.InitiateRollback(ctx, f.session(t), true)
		assert.ErrorIs(t, err, crash.ErrCounterparty)
	})

	t.Run("failed rollback is not notified", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.ledger.Fail(types.OpUnwrap, errors.New("ledger down"))

		state, err := f.m.InitiateRollback(ctx, f.session(t), true)
		require.NoError(t, err)
		assert.Equal(t, rollback.StatusFailed, state.Status)
		assert.Empty(t, f.peer.requests())
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, time.Hour)

		_, err := f.m.InitiateRollback(ctx, nil, true)
		assert.ErrorIs(t, err, crash.ErrNoSession)
	})
}

func TestConcurrentRollbacksRunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	s := f.burnedSession(t)

	type result struct {
		state *rollback.State
		err   error
	}

	results := make(chan result, 2)

	// both callers pass the rolled back check before either gets the session
	s.Lock()

	for i := 0; i < 2; i++ {
		go func() {
			state, err := f.m.InitiateRollback(ctx, s, true)
			results <- result{state, err}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	s.Unlock()

	var completed, already int

	for i := 0; i < 2; i++ {
		r := <-results

		switch {
		case r.err == nil:
			completed++
			assert.Equal(t, rollback.StatusCompleted, r.state.Status)
			assert.Equal(t, satp.Stage3, r.state.CurrentStage)
		case errors.Is(r.err, crash.ErrAlreadyRolledBack):
			already++
			require.NotNil(t, r.state)
			assert.Equal(t, rollback.StatusCompleted, r.state.Status)
		default:
			t.Fatalf("unexpected rollback error: %v", r.err)
		}
	}

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, already)

	token, ok := f.ledger.Token("tok-a")
	require.True(t, ok)
	assert.Equal(t, uint64(100), token.Balance, "minted back once")

	mints := 0

	for _, op := range f.ledger.History() {
		if op.Operation == types.OpMint {
			mints++
		}
	}

	assert.Equal(t, 1, mints)
	assert.Len(t, f.peer.requests(), 1)
}

func TestHandleRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	s := f.session(t)

	resp, err := f.m.HandleRollback(ctx, &rpc.RollbackRequest{SessionID: s.ID(), GatewayID: "gw-b"})
	require.NoError(t, err)
	assert.False(t, resp.Error)
	assert.Equal(t, string(rollback.StatusCompleted), resp.Status)
	assert.Equal(t, 1, resp.Entries)
	assert.Empty(t, f.peer.requests())

	resp, err = f.m.HandleRollback(ctx, &rpc.RollbackRequest{SessionID: s.ID()})
	require.NoError(t, err)
	assert.True(t, resp.Error)
	assert.Contains(t, resp.Message, crash.ErrAlreadyRolledBack.Error())

	_, err = f.m.HandleRollback(ctx, &rpc.RollbackRequest{SessionID: "missing"})
	assert.ErrorIs(t, err, crash.ErrNoSession)
}

func TestSchedulerPauseResume(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	s := f.session(t)
	f.logStep(t, s, store.OpDone, time.Hour)

	f.m.Pause()
	assert.True(t, f.m.Paused())

	f.m.Start(context.Background())
	defer f.m.Stop()

	time.Sleep(50 * time.Millisecond)

	_, ok := f.m.RollbackState(s.ID())
	assert.False(t, ok)

	f.m.Resume()

	assert.Eventually(t, func() bool {
		_, ok := f.m.RollbackState(s.ID())

		return ok
	}, time.Second, 10*time.Millisecond)
}
