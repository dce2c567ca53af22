// Package crash implements the crash manager of a gateway. It rebuilds sessions from the audit log after a restart,
// scans them periodically and, for every session left mid-step, first tries to recover it from its latest log row and
// then, once the retries are exhausted or the session timed out, rolls it back and notifies the counterparty.
package crash

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/gateway/rollback"
	"github.com/tarancss/satp/gateway/rpc"
	"github.com/tarancss/satp/gateway/stage"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/msg/types"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/store"
)

// Status is the crash status of a session.
type Status string

// Crash statuses.
const (
	StatusIdle       Status = "IDLE"
	StatusRecovery   Status = "IN_RECOVERY"
	StatusRollback   Status = "IN_ROLLBACK"
	StatusError      Status = "ERROR"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Audit row types written by the manager. Rows handed over by the counterparty during a recovery are stored with
// their type prefixed by LogPeer.
const (
	LogRecover  = "recover"
	LogRollback = "rollback"
	LogPeer     = "peer"
)

// Errors returned by the package.
var (
	ErrNoSession         = errors.New("session not found")
	ErrNoRepository      = errors.New("crash manager has no log repository")
	ErrNoFactory         = errors.New("crash manager has no rollback factory")
	ErrRollbackNotNeeded = errors.New("session does not need a rollback")
	ErrCounterparty      = errors.New("counterparty refused the rollback")
	ErrBadLog            = errors.New("log row does not hold session data")
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
	ErrAlreadyRolledBack = errors.New("session already rolled back")
	ErrNoSigner          = errors.New("crash manager has no signer")
	ErrRecoverHash       = errors.New("recovery update does not answer the request")
	ErrRecoverRefused    = errors.New("counterparty did not acknowledge the recovery")
	ErrForeignLog        = errors.New("recovered log belongs to another session")
)

// Registry holds the sessions of a gateway.
type Registry interface {
	rpc.Registry
	Sessions() []*satp.Session
}

// Notifier carries the crash service calls to a counterparty. *rpc.Client implements it.
type Notifier interface {
	Rollback(ctx context.Context, req *rpc.RollbackRequest) (*rpc.RollbackResponse, error)
	Recover(ctx context.Context, req *rpc.RecoverRequest) (*rpc.RecoverResponse, error)
	RecoverSuccess(ctx context.Context, req *rpc.RecoverSuccessRequest) (*rpc.RecoverSuccessResponse, error)
}

// Peers resolves the counterparty gateway serving a network.
type Peers interface {
	Notifier(networkID string) (Notifier, error)
}

// Options of a Manager. Zero timings take the config package defaults. Without Signer and Peers sessions are
// recovered from the local log only. Proofs, when set, checks the rows handed over by the counterparty.
type Options struct {
	GatewayID     string
	Repository    store.LogRepository
	Auditor       *store.Auditor
	Factory       *rollback.Factory
	Sessions      Registry
	Peers         Peers
	Signer        stage.Signer
	Proofs        *store.Proofs
	Monitor       *monitor.Service
	Log           log.Logger
	CheckInterval time.Duration
	MaxTimeout    time.Duration
	MaxRetries    int
}

// Manager is the crash manager of a gateway.
type Manager struct {
	o   Options
	log log.Logger

	paused atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	rolledBack map[string]*rollback.State
}

// New returns a stopped manager.
func New(o Options) (*Manager, error) {
	if o.Repository == nil {
		return nil, ErrNoRepository
	}

	if o.Factory == nil {
		return nil, ErrNoFactory
	}

	if o.Monitor == nil {
		o.Monitor = monitor.Disabled()
	}

	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Duration(config.CheckIntervalDefault)
	}

	if o.MaxTimeout <= 0 {
		o.MaxTimeout = time.Duration(config.MaxTimeoutDefault)
	}

	if o.MaxRetries <= 0 {
		o.MaxRetries = config.MaxRetriesDefault
	}

	return &Manager{o: o, log: o.Log.Module("crash"), rolledBack: map[string]*rollback.State{}}, nil
}

// RecoverSessions registers a session rebuilt from the latest log row of every logged session not registered yet.
// Sessions whose row cannot be decoded are logged and skipped. It returns the number of sessions recovered.
func (m *Manager) RecoverSessions(ctx context.Context) (int, error) {
	ids, err := m.o.Repository.FetchSessionIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fetching session ids")
	}

	n := 0

	for _, id := range ids {
		if _, ok := m.o.Sessions.Session(id); ok {
			continue
		}

		last, err := m.o.Repository.ReadLastestLog(ctx, id)
		if err != nil {
			m.log.Error().Err(err).Str("session_id", id).Msg("cannot read latest log")

			continue
		}

		sd, err := decode(last)
		if err != nil {
			m.log.Error().Err(err).Str("session_id", id).Msg("cannot decode latest log")

			continue
		}

		session, err := satp.RecreateSession(sd, m.o.Monitor)
		if err != nil {
			m.log.Error().Err(err).Str("session_id", id).Msg("cannot recreate session")

			continue
		}

		if err = m.o.Sessions.Register(session); err != nil {
			m.log.Error().Err(err).Str("session_id", id).Msg("cannot register session")

			continue
		}

		n++

		m.log.Info().Str("session_id", id).Str("role", string(sd.Role)).Stringer("state", sd.State).
			Msg("session recovered from logs")
	}

	return n, nil
}

func decode(l store.LocalLog) (*satp.SessionData, error) {
	var sd satp.SessionData

	if err := json.Unmarshal([]byte(l.Data), &sd); err != nil {
		return nil, errors.Wrap(ErrBadLog, err.Error())
	}

	if sd.ID == "" || sd.ID != l.SessionID {
		return nil, errors.Wrap(ErrBadLog, l.Key)
	}

	return &sd, nil
}

// CheckCrash classifies a session from its latest log row: IN_RECOVERY when the last step did not finish, IN_ROLLBACK
// when the last row is older than MaxTimeout and IDLE otherwise. Terminal sessions are always IDLE.
func (m *Manager) CheckCrash(ctx context.Context, session *satp.Session) (Status, error) {
	if session == nil {
		return StatusError, ErrNoSession
	}

	m.mu.Lock()
	_, done := m.rolledBack[session.ID()]
	m.mu.Unlock()

	if done {
		return StatusRolledBack, nil
	}

	session.Lock()
	st := session.State()
	session.Unlock()

	if st == satp.StateCompleted || st == satp.StateRejected {
		return StatusIdle, nil
	}

	last, err := m.o.Repository.ReadLastestLog(ctx, session.ID())
	if err != nil {
		return StatusError, errors.Wrapf(err, "reading latest log of %s", session.ID())
	}

	if last.Operation != store.OpDone {
		return StatusRecovery, nil
	}

	if age := time.Since(logTime(last)); age > m.o.MaxTimeout {
		m.log.Warn().Str("session_id", session.ID()).Dur("age", age).Msg("session timed out")

		return StatusRollback, nil
	}

	return StatusIdle, nil
}

// logTime reads the unix millisecond timestamp of a row, falling back to the SATP timestamp format.
func logTime(l store.LocalLog) time.Time {
	if ms, err := strconv.ParseInt(l.Timestamp, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}

	t, _ := satp.ParseTimestamp(l.Timestamp)

	return t
}

// CheckAndResolveCrash recovers a crashed session, retrying up to MaxRetries times, and rolls it back when it timed
// out or every recovery attempt failed.
func (m *Manager) CheckAndResolveCrash(ctx context.Context, session *satp.Session) error {
	for attempt := 1; attempt <= m.o.MaxRetries; attempt++ {
		status, err := m.CheckCrash(ctx, session)

		switch status {
		case StatusIdle, StatusRolledBack:
			return nil
		case StatusRollback:
			_, err = m.InitiateRollback(ctx, session, true)

			return err
		case StatusRecovery:
			if err = m.recover(ctx, session); err == nil {
				m.log.Info().Str("session_id", session.ID()).Int("attempt", attempt).Msg("session recovered")

				return nil
			}

			m.log.Warn().Err(err).Str("session_id", session.ID()).Int("attempt", attempt).Msg("recovery failed")
		default:
			return err
		}
	}

	m.log.Warn().Str("session_id", session.ID()).Msg("recovery attempts exhausted, rolling back")

	if _, err := m.InitiateRollback(ctx, session, true); err != nil {
		return errors.Wrap(ErrRecoveryExhausted, err.Error())
	}

	return nil
}

// recovery is a recovery in progress.
type recovery struct {
	role    satp.Role
	req     *rpc.RecoverRequest
	peerKey string
	network string
}

// recover restores the role data of the session from its latest log row, brings it up to date with the rows of the
// counterparty and closes the interrupted step with a recover row. The session is not locked while the counterparty
// is called.
func (m *Manager) recover(ctx context.Context, session *satp.Session) error {
	session.Lock()
	rc, err := m.restore(ctx, session)
	session.Unlock()

	if err != nil || rc == nil {
		return err
	}

	var (
		peer   Notifier
		update *rpc.RecoverResponse
	)

	if rc.req != nil {
		if peer, update, err = m.fetch(ctx, rc); err != nil {
			return err
		}
	}

	session.Lock()
	changed, err := m.merge(ctx, session, rc, update)
	session.Unlock()

	if err != nil || peer == nil {
		return err
	}

	return m.closeRecovery(ctx, peer, rc, update, changed)
}

// restore loads the latest log row of an interrupted step into the session. It returns nil when the last step
// finished.
func (m *Manager) restore(ctx context.Context, session *satp.Session) (*recovery, error) {
	last, err := m.o.Repository.ReadLastestLog(ctx, session.ID())
	if err != nil {
		return nil, errors.Wrap(err, "reading latest log")
	}

	if last.Operation == store.OpDone {
		return nil, nil
	}

	sd, err := decode(last)
	if err != nil {
		return nil, err
	}

	if err = session.Restore(sd); err != nil {
		return nil, err
	}

	rc := &recovery{role: sd.Role}

	if m.o.Peers == nil || m.o.Signer == nil {
		m.log.Debug().Str("session_id", session.ID()).Msg("recovering from the local log only")

		return rc, nil
	}

	rc.peerKey, rc.network = counterpartyKey(sd), counterpartyNetwork(session)
	rc.req = &rpc.RecoverRequest{
		SessionID:          session.ID(),
		MessageType:        rpc.MsgRecover,
		GatewayID:          m.o.GatewayID,
		Stage:              satp.CurrentStage(sd),
		SequenceNumber:     sd.LastSequenceNumber,
		LastEntryTimestamp: last.Timestamp,
	}

	if err = rpc.Seal(m.o.Signer, rc.req); err != nil {
		return nil, err
	}

	return rc, nil
}

// fetch asks the counterparty for the rows the session misses and checks its answer.
func (m *Manager) fetch(ctx context.Context, rc *recovery) (Notifier, *rpc.RecoverResponse, error) {
	peer, err := m.o.Peers.Notifier(rc.network)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "resolving counterparty of %s", rc.network)
	}

	update, err := peer.Recover(ctx, rc.req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "requesting counterparty logs")
	}

	if err = rpc.Open(rc.peerKey, update); err != nil {
		return nil, nil, errors.Wrap(err, "checking recovery update")
	}

	want, err := satp.Hash(rc.req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hashing recovery request")
	}

	if update.Hash != want {
		return nil, nil, ErrRecoverHash
	}

	for _, row := range update.RecoveredLogs {
		if row.SessionID != rc.req.SessionID {
			return nil, nil, errors.Wrap(ErrForeignLog, row.Key)
		}

		if m.o.Proofs == nil {
			continue
		}

		if _, err = m.o.Proofs.Check(row, rc.peerKey); err != nil {
			return nil, nil, err
		}
	}

	m.log.Info().Str("session_id", rc.req.SessionID).Int("rows", len(update.RecoveredLogs)).
		Msg("counterparty logs received")

	return peer, update, nil
}

// merge stores the rows of the counterparty, copies the records they hold into the session and writes the recover
// row. It returns the message types copied.
func (m *Manager) merge(ctx context.Context, session *satp.Session, rc *recovery, update *rpc.RecoverResponse,
) ([]string, error) {
	sd, err := session.SessionData(rc.role)
	if err != nil {
		return nil, err
	}

	changed := []string{}

	if update != nil {
		for _, row := range update.RecoveredLogs {
			if peerSD, err := decode(row); err == nil {
				for _, t := range satp.MergeRecords(sd, peerSD) {
					changed = append(changed, t.String())
				}
			}

			row.Type = LogPeer + "-" + row.Type
			row.Key = store.LogKey(row.SessionID, row.Type, row.Operation)

			if err = m.o.Repository.Create(ctx, row); err != nil {
				return nil, errors.Wrap(err, "writing counterparty log")
			}
		}
	}

	data, err := session.Snapshot(rc.role)
	if err != nil {
		return nil, err
	}

	l := store.LocalLog{
		Key:            store.LogKey(session.ID(), LogRecover, store.OpDone),
		SessionID:      session.ID(),
		Type:           LogRecover,
		Operation:      store.OpDone,
		Timestamp:      strconv.FormatInt(time.Now().UnixMilli(), 10),
		Data:           string(data),
		SequenceNumber: sd.LastSequenceNumber,
	}

	return changed, errors.Wrap(m.o.Repository.Create(ctx, l), "writing recover log")
}

// closeRecovery tells the counterparty the recovery is over.
func (m *Manager) closeRecovery(ctx context.Context, peer Notifier, rc *recovery, update *rpc.RecoverResponse,
	changed []string,
) error {
	hash, err := satp.Hash(update)
	if err != nil {
		return errors.Wrap(err, "hashing recovery update")
	}

	req := &rpc.RecoverSuccessRequest{
		SessionID:      rc.req.SessionID,
		MessageType:    rpc.MsgRecoverSuccess,
		Hash:           hash,
		Success:        true,
		EntriesChanged: changed,
	}

	if err = rpc.Seal(m.o.Signer, req); err != nil {
		return err
	}

	resp, err := peer.RecoverSuccess(ctx, req)
	if err != nil {
		return errors.Wrap(err, "sending recover success")
	}

	if err = rpc.Open(rc.peerKey, resp); err != nil {
		return errors.Wrap(err, "checking recover success response")
	}

	if !resp.Received {
		return ErrRecoverRefused
	}

	return nil
}

// HandleRecover answers the recovery request of the counterparty with the rows of the session written after the
// sequence number it holds.
func (m *Manager) HandleRecover(ctx context.Context, req *rpc.RecoverRequest) (*rpc.RecoverResponse, error) {
	if err := m.verify(req.SessionID, req); err != nil {
		return nil, err
	}

	rows, err := m.o.Repository.ReadLogsBySession(ctx, req.SessionID)
	if err != nil && !errors.Is(err, store.ErrLogNotFound) {
		return nil, errors.Wrap(err, "reading session logs")
	}

	resp := &rpc.RecoverResponse{SessionID: req.SessionID, MessageType: rpc.MsgRecoverUpdate,
		RecoveredLogs: []store.LocalLog{}}

	for _, row := range rows {
		if row.SequenceNumber > req.SequenceNumber && !strings.HasPrefix(row.Type, LogPeer) {
			resp.RecoveredLogs = append(resp.RecoveredLogs, row)
		}
	}

	if resp.Hash, err = satp.Hash(req); err != nil {
		return nil, errors.Wrap(err, "hashing recovery request")
	}

	if err = rpc.Seal(m.o.Signer, resp); err != nil {
		return nil, err
	}

	m.log.Info().Str("session_id", req.SessionID).Str("gateway", req.GatewayID).Int("rows", len(resp.RecoveredLogs)).
		Msg("logs handed to recovering counterparty")

	return resp, nil
}

// HandleRecoverSuccess acknowledges the end of a recovery of the counterparty.
func (m *Manager) HandleRecoverSuccess(_ context.Context, req *rpc.RecoverSuccessRequest,
) (*rpc.RecoverSuccessResponse, error) {
	if err := m.verify(req.SessionID, req); err != nil {
		return nil, err
	}

	m.log.Info().Str("session_id", req.SessionID).Bool("success", req.Success).Strs("entries", req.EntriesChanged).
		Msg("counterparty recovered")

	resp := &rpc.RecoverSuccessResponse{SessionID: req.SessionID, MessageType: rpc.MsgRecoverSuccessResponse,
		Received: true}

	if err := rpc.Seal(m.o.Signer, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// verify checks a recovery message of the counterparty of session id against the key the session holds for it.
func (m *Manager) verify(id string, msg rpc.Sealed) error {
	if m.o.Signer == nil {
		return ErrNoSigner
	}

	session, ok := m.o.Sessions.Session(id)
	if !ok {
		return errors.Wrap(ErrNoSession, id)
	}

	session.Lock()
	key := ""

	if sd := roleData(session); sd != nil {
		key = counterpartyKey(sd)
	}
	session.Unlock()

	return errors.Wrap(rpc.Open(key, msg), "checking recovery message")
}

// roleData returns the client data of the session, or its server data.
func roleData(session *satp.Session) *satp.SessionData {
	if sd, err := session.ClientSessionData(); err == nil {
		return sd
	}

	if sd, err := session.ServerSessionData(); err == nil {
		return sd
	}

	return nil
}

// counterpartyKey returns the public key of the gateway on the other side of sd.
func counterpartyKey(sd *satp.SessionData) string {
	if sd.Role == satp.RoleClient {
		return sd.ServerGatewayPubkey
	}

	return sd.ClientGatewayPubkey
}

// counterpartyNetwork returns the network served by the gateway on the other side of the session.
func counterpartyNetwork(session *satp.Session) string {
	if sd, err := session.ClientSessionData(); err == nil {
		return sd.RecipientGatewayNetworkID
	}

	if sd, err := session.ServerSessionData(); err == nil {
		return sd.SenderGatewayNetworkID
	}

	return ""
}

// InitiateRollback rolls the session back and notifies the counterparty once the rollback completed. Without force
// the rollback only runs for sessions classified IN_ROLLBACK. A FAILED rollback is returned without error and needs
// an operator.
func (m *Manager) InitiateRollback(ctx context.Context, session *satp.Session, force bool) (*rollback.State, error) {
	if session == nil {
		return nil, ErrNoSession
	}

	if !force {
		status, err := m.CheckCrash(ctx, session)
		if err != nil {
			return nil, err
		}

		if status != StatusRollback {
			return nil, errors.Wrap(ErrRollbackNotNeeded, string(status))
		}
	}

	state, err := m.rollback(ctx, session)
	if err != nil {
		return nil, err
	}

	if state.Status != rollback.StatusCompleted {
		m.log.Error().Str("session_id", session.ID()).Msg("rollback failed, manual intervention required")

		return state, nil
	}

	return state, m.notify(ctx, session, state)
}

// HandleRollback runs the local rollback requested by the counterparty. It never notifies back.
func (m *Manager) HandleRollback(ctx context.Context, req *rpc.RollbackRequest) (*rpc.RollbackResponse, error) {
	session, ok := m.o.Sessions.Session(req.SessionID)
	if !ok {
		return nil, errors.Wrap(ErrNoSession, req.SessionID)
	}

	resp := &rpc.RollbackResponse{SessionID: req.SessionID}

	state, err := m.rollback(ctx, session)
	if err != nil {
		resp.Error, resp.Message = true, err.Error()

		return resp, nil
	}

	resp.Status, resp.Entries = string(state.Status), len(state.Entries)

	return resp, nil
}

// rollback runs the strategy of every role of the session, merges their states and records the outcome.
func (m *Manager) rollback(ctx context.Context, session *satp.Session) (*rollback.State, error) {
	if prev, done := m.RollbackState(session.ID()); done {
		return prev, errors.Wrap(ErrAlreadyRolledBack, session.ID())
	}

	session.Lock()
	defer session.Unlock()

	// a rollback holding the session lock may have finished while this one waited for it
	if prev, done := m.RollbackState(session.ID()); done {
		return prev, errors.Wrap(ErrAlreadyRolledBack, session.ID())
	}

	merged := &rollback.State{SessionID: session.ID(), Status: rollback.StatusCompleted}

	for _, role := range []satp.Role{satp.RoleClient, satp.RoleServer} {
		sd, err := session.SessionData(role)
		if err != nil {
			continue
		}

		strategy, err := m.o.Factory.CreateStrategy(sd)
		if err != nil {
			return nil, err
		}

		state, err := strategy.Execute(ctx, session, role)
		if err != nil {
			return nil, err
		}

		if state.Status == rollback.StatusCompleted {
			if state, err = strategy.Cleanup(ctx, session, state); err != nil {
				m.log.Error().Err(err).Str("session_id", session.ID()).Msg("rollback cleanup failed")
			}
		}

		if len(merged.Entries) == 0 {
			merged.CurrentStage = state.CurrentStage
		}

		merged.Entries = append(merged.Entries, state.Entries...)
		if state.Status == rollback.StatusFailed {
			merged.Status = rollback.StatusFailed
		}
	}

	m.mu.Lock()
	m.rolledBack[session.ID()] = merged
	m.mu.Unlock()

	data, err := json.Marshal(merged)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID()).Msg("cannot encode rollback state")
	}

	m.o.Auditor.Persist(ctx, store.Entry{SessionID: session.ID(), Type: LogRollback, Operation: store.OpDone,
		Data: data})
	m.o.Auditor.Rollback(types.RollbackNotice{
		SessionID: session.ID(),
		Stage:     merged.CurrentStage.String(),
		Status:    string(merged.Status),
		Entries:   len(merged.Entries),
	})

	m.log.Info().Str("session_id", session.ID()).Str("status", string(merged.Status)).Stringer("stage",
		merged.CurrentStage).Msg("rollback done")

	return merged, nil
}

// notify sends the rollback notice to the gateway on the other side of the session.
func (m *Manager) notify(ctx context.Context, session *satp.Session, state *rollback.State) error {
	if m.o.Peers == nil {
		return nil
	}

	network := counterpartyNetwork(session)

	peer, err := m.o.Peers.Notifier(network)
	if err != nil {
		return errors.Wrapf(err, "resolving counterparty of %s", network)
	}

	resp, err := peer.Rollback(ctx, &rpc.RollbackRequest{
		SessionID: session.ID(),
		GatewayID: m.o.GatewayID,
		Stage:     state.CurrentStage,
		Timestamp: satp.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "sending rollback notice")
	}

	if resp.Error {
		return errors.Wrap(ErrCounterparty, resp.Message)
	}

	m.log.Info().Str("session_id", session.ID()).Str("status", resp.Status).Msg("counterparty rolled back")

	return nil
}

// RollbackState returns the outcome of the rollback of a session, if any.
func (m *Manager) RollbackState(id string) (*rollback.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rolledBack[id]

	return s, ok
}

// Scan checks and resolves every registered session.
func (m *Manager) Scan(ctx context.Context) {
	for _, session := range m.o.Sessions.Sessions() {
		if err := m.CheckAndResolveCrash(ctx, session); err != nil {
			m.log.Error().Err(err).Str("session_id", session.ID()).Msg("crash resolution failed")
		}
	}
}

// Start launches the periodic scan. It is a no-op when already running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)

	m.log.Info().Dur("interval", m.o.CheckInterval).Msg("crash detection started")
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(m.o.CheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.paused.Load() {
				m.log.Debug().Msg("crash detection paused, skipping scan")

				continue
			}

			m.Scan(ctx)
		}
	}
}

// Stop ends the periodic scan and waits for a running scan to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		m.log.Warn().Msg("no crash detection to stop")

		return
	}

	cancel()
	<-done

	m.log.Info().Msg("crash detection stopped")
}

// Pause makes the periodic scan skip its runs until Resume.
func (m *Manager) Pause() {
	if !m.paused.Swap(true) {
		m.log.Info().Msg("crash detection paused")
	}
}

// Resume restarts the scans skipped by Pause.
func (m *Manager) Resume() {
	if m.paused.Swap(false) {
		m.log.Info().Msg("crash detection resumed")
	}
}

// Paused reports whether scans are paused.
func (m *Manager) Paused() bool { return m.paused.Load() }
