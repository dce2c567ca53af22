package gateway_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tarancss/satp/gateway"
	"github.com/tarancss/satp/gateway/rollback"
	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/bridge/memory"
	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	msgtypes "github.com/tarancss/satp/lib/msg/types"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
	"github.com/tarancss/satp/lib/store"
)

var (
	netA = satp.NetworkID{ID: "ledger-a", LedgerType: satp.LedgerMemory}
	netB = satp.NetworkID{ID: "ledger-b", LedgerType: satp.LedgerMemory}
)

type node struct {
	gw     *gateway.Gateway
	ledger *memory.Ledger
	signer *signer.Signer
	lis    *bufconn.Listener
}

// pair returns gateway gw-a serving ledger-a and gateway gw-b serving ledger-b, both serving SATP over bufconn and
// configured as each other's counterparty.
func pair(t *testing.T) (a, b *node) {
	t.Helper()

	a, b = &node{}, &node{}

	for _, n := range []*node{a, b} {
		s, err := signer.Generate()
		require.NoError(t, err)

		n.signer, n.lis = s, bufconn.Listen(1<<20)
	}

	listeners := map[string]*bufconn.Listener{"gw-a": a.lis, "gw-b": b.lis}
	dial := grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		lis, ok := listeners[addr]
		if !ok {
			return nil, errors.New("unknown address " + addr)
		}

		return lis.DialContext(ctx)
	})

	build := func(n *node, id string, net satp.NetworkID, peer *node, peerID string, peerNet satp.NetworkID) {
		n.ledger = memory.New(net, satp.ClaimFormatDefault)

		m := bridge.NewManager(log.Nop(), nil, n.signer, 0)
		require.NoError(t, m.DeployLeaf(n.ledger))

		cfg := config.Default()
		cfg.ID, cfg.Name, cfg.Version = id, id, "test"
		cfg.CheckInterval = config.Duration(time.Hour)
		cfg.Gateways = []config.GatewayIdentity{{
			ID:       peerID,
			Address:  peerID,
			Pubkey:   peer.signer.PubKey(),
			Networks: []string{peerNet.ID},
		}}

		gw, err := gateway.New(gateway.Options{
			Config:      cfg,
			Signer:      n.signer,
			Bridges:     m,
			Log:         log.Nop(),
			DialOptions: []grpc.DialOption{dial},
		})
		require.NoError(t, err)

		n.gw = gw
	}

	build(a, "gw-a", netA, b, "gw-b", netB)
	build(b, "gw-b", netB, a, "gw-a", netA)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)

	for _, n := range []*node{a, b} {
		n := n
		go func() { done <- n.gw.Serve(ctx, gateway.Listeners{GRPC: n.lis}) }()
	}

	t.Cleanup(func() {
		cancel()

		for i := 0; i < 2; i++ {
			assert.NoError(t, <-done)
		}

		a.gw.Close()
		b.gw.Close()
	})

	return a, b
}

func transactRequest() *gateway.TransactRequest {
	return &gateway.TransactRequest{
		ContextID:         "ctx-1",
		FromDLTNetworkID:  netA.ID,
		ToDLTNetworkID:    netB.ID,
		FromAmount:        "7",
		ToAmount:          "7",
		OriginatorPubkey:  "alice-pk",
		BeneficiaryPubkey: "bob-pk",
		SourceAsset:       &satp.Asset{TokenID: "tok-a", TokenType: satp.TokenFungible, Owner: "alice"},
		ReceiverAsset: &satp.Asset{TokenID: "tok-b", TokenType: satp.TokenFungible, Owner: "bob",
			NetworkID: satp.NetworkID{LedgerType: satp.LedgerMemory}},
	}
}

func TestRegistry(t *testing.T) {
	r := gateway.NewRegistry()

	s1, err := satp.NewSession(satp.SessionOptions{SessionID: "b", ContextID: "ctx", Client: true})
	require.NoError(t, err)
	s2, err := satp.NewSession(satp.SessionOptions{SessionID: "a", ContextID: "ctx", Server: true})
	require.NoError(t, err)
	dup, err := satp.NewSession(satp.SessionOptions{SessionID: "a", ContextID: "ctx", Server: true})
	require.NoError(t, err)

	require.NoError(t, r.Register(s1))
	require.NoError(t, r.Register(s2))
	require.NoError(t, r.Register(s2))

	err = r.Register(dup)
	assert.ErrorIs(t, err, satp.ErrSessionExists)

	got, ok := r.Session("a")
	require.True(t, ok)
	assert.Same(t, s2, got)

	_, ok = r.Session("c")
	assert.False(t, ok)

	assert.Equal(t, 2, r.Len())

	ids := []string{}
	for _, s := range r.Sessions() {
		ids = append(ids, s.ID())
	}

	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := gateway.New(gateway.Options{Log: log.Nop()})
	assert.Equal(t, gateway.ErrNoSigner, err)

	s, err := signer.Generate()
	require.NoError(t, err)

	_, err = gateway.New(gateway.Options{Signer: s, Log: log.Nop()})
	assert.Equal(t, gateway.ErrNoBridges, err)
}

func TestTransact(t *testing.T) {
	a, b := pair(t)

	st, err := a.gw.Transact(context.Background(), transactRequest())
	require.NoError(t, err)

	assert.Equal(t, satp.StateCompleted, st.State)
	assert.Equal(t, "ctx-1", st.ContextID)
	assert.Equal(t, []string{string(satp.RoleClient)}, st.Roles)
	assert.Equal(t, satp.Stage3, st.Stage)
	assert.Empty(t, st.Rollback)

	token, ok := b.ledger.Token("tok-b")
	require.True(t, ok)
	assert.Equal(t, memory.Token{Owner: "bob", Balance: 7}, token)

	served, err := b.gw.Status(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, satp.StateCompleted, served.State)
	assert.Equal(t, []string{string(satp.RoleServer)}, served.Roles)

	session, ok := a.gw.Sessions().Session(st.SessionID)
	require.True(t, ok)

	sd, err := session.ClientSessionData()
	require.NoError(t, err)
	assert.Equal(t, "gw-a", sd.SenderGatewayOwnerID)
	assert.Equal(t, "gw-b", sd.ReceiverGatewayOwnerID)
	assert.Equal(t, b.signer.PubKey(), sd.ServerGatewayPubkey)
	assert.Equal(t, "7", sd.SenderAsset.Amount)
	assert.Equal(t, netA, sd.SenderAsset.NetworkID)
	assert.Equal(t, netB, sd.ReceiverAsset.NetworkID)
}

func TestTransactErrors(t *testing.T) {
	a, _ := pair(t)

	req := transactRequest()
	req.SourceAsset = nil

	_, err := a.gw.Transact(context.Background(), req)
	assert.True(t, errors.Is(err, gateway.ErrBadRequest))

	req = transactRequest()
	req.ReceiverAsset.NetworkID.LedgerType = ""

	_, err = a.gw.Transact(context.Background(), req)
	assert.True(t, errors.Is(err, gateway.ErrBadRequest))

	req = transactRequest()
	req.ToDLTNetworkID = "ledger-z"

	_, err = a.gw.Transact(context.Background(), req)
	assert.True(t, errors.Is(err, gateway.ErrNoCounterparty))
	assert.Zero(t, a.gw.Sessions().Len())
}

func TestTransactFailureRollsBack(t *testing.T) {
	a, _ := pair(t)

	a.ledger.Fail(types.OpWrap, errors.New("ledger down"))

	st, err := a.gw.Transact(context.Background(), transactRequest())
	require.Error(t, err)
	require.NotNil(t, st)

	// the wrap never happened, so the unwrap compensation fails and the session waits for an operator
	assert.Equal(t, string(rollback.StatusFailed), st.Rollback)

	state, ok := a.gw.CrashManager().RollbackState(st.SessionID)
	require.True(t, ok)
	assert.Equal(t, satp.Stage0, state.CurrentStage)
}

func TestStatusUnknownSession(t *testing.T) {
	a, _ := pair(t)

	_, err := a.gw.Status("nope")
	assert.True(t, errors.Is(err, gateway.ErrNoSession))
}

func call(t *testing.T, h http.Handler, method, uri, body string) (int, gateway.Response) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, uri, strings.NewReader(body)))

	var res gateway.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "application/json;charset=utf8", rec.Header().Get("Content-Type"))

	return rec.Code, res
}

func TestAdminAPI(t *testing.T) {
	a, b := pair(t)
	h := a.gw.AdminHandler()

	code, res := call(t, h, "GET", "/healthcheck", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"OK","id":"gw-a","version":"test"}`, res.Body)

	code, res = call(t, h, "GET", "/networks", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":"ledger-a","ledgerType":"MEMORY"}]`, res.Body)

	code, res = call(t, h, "GET", "/integrations", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, res.Body, `"gw-b"`)

	code, res = call(t, h, "GET", "/approve-address?networkId=ledger-a&ledgerType=MEMORY&tokenType="+
		string(satp.TokenFungible), "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"approveAddress":"memory://ledger-a/escrow"}`, res.Body)

	code, res = call(t, h, "GET", "/approve-address?networkId=ledger-a", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, gateway.ErrMissingQuery.Error(), res.Error)

	code, res = call(t, h, "POST", "/transact", "{")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, res.Error)

	body, err := json.Marshal(transactRequest())
	require.NoError(t, err)

	code, res = call(t, h, "POST", "/transact", string(body))
	require.Equal(t, http.StatusOK, code, res.Error)

	var st gateway.SessionStatus
	require.NoError(t, json.Unmarshal([]byte(res.Body), &st))
	assert.Equal(t, satp.StateCompleted, st.State)

	code, res = call(t, h, "GET", "/status/"+st.SessionID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, res.Body, `"state":"COMPLETED"`)

	code, _ = call(t, h, "GET", "/status/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, res = call(t, h, "GET", "/sessions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, res.Body, st.SessionID)

	code, res = call(t, h, "POST", "/crash/pause", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"paused":true}`, res.Body)
	assert.True(t, a.gw.CrashManager().Paused())

	code, _ = call(t, h, "POST", "/crash/resume", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, a.gw.CrashManager().Paused())

	code, _ = call(t, h, "POST", "/crash/explode", "")
	assert.Equal(t, http.StatusBadRequest, code)

	// a forced rollback of a finished transfer only records no-op entries on both sides
	code, res = call(t, h, "POST", "/rollback/"+st.SessionID, "")
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Contains(t, res.Body, `"status":"COMPLETED"`)

	remote, ok := b.gw.CrashManager().RollbackState(st.SessionID)
	require.True(t, ok)
	assert.Equal(t, rollback.StatusCompleted, remote.Status)

	code, _ = call(t, h, "POST", "/rollback/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminLogs(t *testing.T) {
	a, _ := pair(t)
	h := a.gw.AdminHandler()

	st, err := a.gw.Transact(context.Background(), transactRequest())
	require.NoError(t, err)

	code, res := call(t, h, "GET", "/logs/"+st.SessionID, "")
	require.Equal(t, http.StatusOK, code, res.Error)

	var logs []store.LocalLog
	require.NoError(t, json.Unmarshal([]byte(res.Body), &logs))
	require.NotEmpty(t, logs)

	for _, l := range logs {
		assert.Equal(t, st.SessionID, l.SessionID)
	}

	code, res = call(t, h, "GET", "/logs/"+st.SessionID+"/"+logs[0].Key, "")
	require.Equal(t, http.StatusOK, code, res.Error)

	var row store.LocalLog
	require.NoError(t, json.Unmarshal([]byte(res.Body), &row))
	assert.Equal(t, logs[0], row)

	// a key of another session is not served under this one
	code, _ = call(t, h, "GET", "/logs/nope/"+logs[0].Key, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, "GET", "/logs/"+st.SessionID+"/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, "GET", "/logs/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

// broker hands out empty log streams and records which gateways were followed.
type broker struct {
	followed chan string
}

func (b *broker) Setup() error                                          { return nil }
func (b *broker) Close() error                                          { return nil }
func (b *broker) PublishLog(string, msgtypes.RemoteLog) error           { return nil }
func (b *broker) PublishRollback(string, msgtypes.RollbackNotice) error { return nil }

func (b *broker) GetLogs(ctx context.Context, gateway string, _ *sync.Mutex,
) (<-chan msgtypes.RemoteLog, <-chan error, error) {
	b.followed <- gateway

	logs, errs := make(chan msgtypes.RemoteLog), make(chan error)

	go func() {
		<-ctx.Done()
		close(logs)
		close(errs)
	}()

	return logs, errs, nil
}

func TestServeFollowsCounterpartyProofs(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ID, cfg.Version = "gw-a", "test"
	cfg.CheckInterval = config.Duration(time.Hour)
	cfg.Gateways = []config.GatewayIdentity{{ID: "gw-b", Address: "gw-b", Pubkey: s.PubKey()}, {ID: "gw-a"}}

	b := &broker{followed: make(chan string, 4)}

	gw, err := gateway.New(gateway.Options{
		Config:  cfg,
		Signer:  s,
		Bridges: bridge.NewManager(log.Nop(), nil, s, 0),
		Remote:  b,
		Log:     log.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- gw.Serve(ctx, gateway.Listeners{}) }()

	select {
	case id := <-b.followed:
		assert.Equal(t, "gw-b", id)
	case <-time.After(5 * time.Second):
		t.Fatal("counterparty proofs were not followed")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, b.followed, "own gateway must not be followed")

	gw.Close()
}
