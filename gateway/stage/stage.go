// Package stage implements the SATP stage 0 to 3 client and server services. Builders construct, sign and record the
// next protocol message; checkers validate an inbound message against the session before any session field changes.
//
// Callers hold the session lock for the whole check and build sequence of one message.
package stage

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/store"
)

// Signer signs SATP messages with the gateway key.
type Signer interface {
	Sign(data []byte) (string, error)
	PubKey() string
}

// Options are the collaborators shared by every stage service.
type Options struct {
	Signer  Signer
	Bridges bridge.ClientInterface
	Auditor *store.Auditor
	Monitor *monitor.Service
	Log     log.Logger
}

// Errors returned by the package.
var (
	ErrNoSigner = errors.New("stage service has no signer")
	ErrRemote   = errors.New("counterparty returned an error response")
)

// service holds what the client and server services of every stage share.
type service struct {
	name    string
	stage   satp.Stage
	role    satp.Role
	signer  Signer
	bridges bridge.ClientInterface
	audit   *store.Auditor
	mon     *monitor.Service
	log     log.Logger
}

func newService(name string, st satp.Stage, role satp.Role, o Options) service {
	mon := o.Monitor
	if mon == nil {
		mon = monitor.Disabled()
	}

	return service{
		name:    name,
		stage:   st,
		role:    role,
		signer:  o.Signer,
		bridges: o.Bridges,
		audit:   o.Auditor,
		mon:     mon,
		log:     o.Log.Module(name),
	}
}

// Name returns the service name, also used as log module.
func (s *service) Name() string { return s.name }

// Stage returns the SATP stage served.
func (s *service) Stage() satp.Stage { return s.stage }

// Role returns the role the service plays.
func (s *service) Role() satp.Role { return s.role }

func (s *service) tag(op string) string { return s.name + "#" + op }

func (s *service) pubkey() string {
	if s.signer == nil {
		return ""
	}

	return s.signer.PubKey()
}

// sign fills the signature slot of m with the signature of its canonical encoding without signature.
func (s *service) sign(tag string, m satp.Signed) error {
	if s.signer == nil {
		return satp.NewError(tag, satp.KindFailedToCreateMessage, "", ErrNoSigner)
	}

	f := m.SignatureField()
	*f = ""

	b, err := satp.Canonical(m)
	if err != nil {
		return satp.NewError(tag, satp.KindFailedToCreateMessage, "encoding", err)
	}

	sig, err := s.signer.Sign(b)
	if err != nil {
		return satp.NewError(tag, satp.KindFailedToCreateMessage, "signing", err)
	}

	*f = sig

	return nil
}

// record saves the signature, hash, timestamp and canonical encoding of m into sd.
func record(tag string, sd *satp.SessionData, m satp.Signed, kind satp.TimestampKind) error {
	hash, err := satp.Hash(m)
	if err != nil {
		return satp.NewError(tag, satp.KindFailedToProcess, "hashing", err)
	}

	if err = satp.SaveMessage(sd, m); err != nil {
		return satp.NewError(tag, satp.KindFailedToProcess, "saving message", err)
	}

	satp.SaveSignature(sd, m.Type(), *m.SignatureField())
	satp.SaveHash(sd, m.Type(), hash)
	satp.SaveTimestamp(sd, m.Type(), kind, satp.Now())

	return nil
}

// remoteFailure converts an error response of the counterparty into an error.
func remoteFailure(tag string, m satp.Message) error {
	if failed, code := m.Failure(); failed {
		return satp.NewError(tag, satp.KindFailedToProcess, fmt.Sprintf("%s error code %d", m.Type(), code), ErrRemote)
	}

	return nil
}

// step traces and audits one builder or checker run: init on creation, exec once validated, then done or fail.
type step struct {
	s       *service
	ctx     context.Context
	span    trace.Span
	typ     string
	session string
	sd      *satp.SessionData
	log     log.Logger
}

func (s *service) begin(ctx context.Context, typ string, session *satp.Session) *step {
	var sd *satp.SessionData
	if session != nil {
		sd, _ = session.SessionData(s.role)
	}

	id := ""
	if session != nil {
		id = session.ID()
	}

	ctx, span := s.mon.StartSpan(ctx, s.tag(typ), attribute.String("session_id", id))

	st := &step{s: s, ctx: ctx, span: span, typ: typ, session: id, sd: sd, log: s.log.Session(id)}
	st.persist(store.OpInit)

	return st
}

// attach binds the step to a session created while it ran.
func (st *step) attach(session *satp.Session) {
	st.session = session.ID()
	st.sd, _ = session.SessionData(st.s.role)
	st.log = st.s.log.Session(st.session)
}

func (st *step) exec() {
	st.persist(store.OpExec)
}

func (st *step) done() {
	st.persist(store.OpDone)
	st.log.Info().Str("step", st.typ).Uint64("seq", st.seq()).Msg("done")
	st.span.End()
}

// fail audits and logs err, then returns it unchanged.
func (st *step) fail(err error) error {
	st.persist(store.OpFail)
	st.log.Error().Err(err).Str("step", st.typ).Uint64("seq", st.seq()).Msg("fail-" + st.typ)
	st.s.mon.RecordError(st.span, err)
	st.span.End()

	return err
}

func (st *step) seq() uint64 {
	if st.sd == nil {
		return 0
	}

	return st.sd.LastSequenceNumber
}

func (st *step) persist(op string) {
	if op != store.OpDone {
		st.log.Debug().Str("step", st.typ).Msg(op + "-" + st.typ)
	}

	if st.s.audit == nil || st.session == "" {
		return
	}

	data := []byte("{}")

	if st.sd != nil {
		if b, err := satp.Canonical(st.sd); err == nil {
			data = b
		}
	}

	st.s.audit.Persist(st.ctx, store.Entry{
		SessionID:      st.session,
		Type:           st.typ,
		Operation:      op,
		Data:           data,
		SequenceNumber: st.seq(),
	})
}

// errorCommon returns the envelope of an error response of type t for err.
func errorCommon(t satp.MessageType, err error, sessionID string) *satp.CommonSatp {
	c := &satp.CommonSatp{
		Version:     satp.SATPVersion,
		MessageType: t,
		Error:       true,
		ErrorCode:   satp.CodeOf(err),
	}

	if !errors.Is(err, satp.ErrSessionNotFound) {
		c.SessionID = sessionID
	}

	return c
}

// executionLayer resolves the custody layer of a network.
func (s *service) executionLayer(tag string, id satp.NetworkID, format satp.ClaimFormat) (bridge.ExecutionLayer, error) {
	if s.bridges == nil {
		return nil, satp.NewError(tag, satp.KindMissingBridgeManager, "", nil)
	}

	el, err := s.bridges.GetSATPExecutionLayer(id, format)
	if err != nil {
		return nil, satp.NewError(tag, satp.KindDLTNotSupported, id.Key(), err)
	}

	return el, nil
}

// serves reports whether the bridge manager has a leaf for the network id.
func (s *service) serves(networkID string) bool {
	if s.bridges == nil {
		return false
	}

	for _, n := range s.bridges.GetAvailableEndPoints() {
		if n.ID == networkID {
			return true
		}
	}

	return false
}

// emit signs m, advances the sequence number when m carries an envelope and records m as processed.
func (s *service) emit(tag string, sd *satp.SessionData, m satp.Signed, c *satp.CommonSatp) error {
	if err := s.sign(tag, m); err != nil {
		return err
	}

	if c != nil {
		sd.LastSequenceNumber = c.SequenceNumber
	}

	return record(tag, sd, m, satp.TimestampProcessed)
}

// accept records a verified inbound message as received and advances the sequence number.
func accept(tag string, sd *satp.SessionData, m satp.Signed, c *satp.CommonSatp) error {
	if c != nil {
		sd.LastSequenceNumber = c.SequenceNumber
	}

	return record(tag, sd, m, satp.TimestampReceived)
}

// signedError signs an error response. Signing failures are logged: the error response is still returned.
func (s *service) signedError(tag string, m satp.Signed) {
	if err := s.sign(tag, m); err != nil {
		s.log.Error().Err(err).Str("type", m.Type().String()).Msg("cannot sign error response")
	}
}

// peerKey returns the stored pubkey, or the claimed one on first contact.
func peerKey(stored, claimed string) string {
	if stored != "" {
		return stored
	}

	return claimed
}
