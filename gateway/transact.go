package gateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/gateway/crash"
	"github.com/tarancss/satp/gateway/stage"
	"github.com/tarancss/satp/lib/satp"
)

// Transfer defaults proposed by the client gateway.
var (
	LockExpirationDefault    uint64 = 60
	LoggingProfileDefault           = "default"
	AccessControlDefault            = "default"
	CredentialProfileDefault        = satp.CredentialProfileX509
)

// TransactRequest asks the gateway to move an asset from one of its networks to a network served by a counterparty.
// The ledger type of the receiver asset network must be given, as only the counterparty knows its networks.
type TransactRequest struct {
	ContextID         string      `json:"contextID"`
	FromDLTNetworkID  string      `json:"fromDLTNetworkID"`
	ToDLTNetworkID    string      `json:"toDLTNetworkID"`
	FromAmount        string      `json:"fromAmount"`
	ToAmount          string      `json:"toAmount"`
	OriginatorPubkey  string      `json:"originatorPubkey"`
	BeneficiaryPubkey string      `json:"beneficiaryPubkey"`
	SourceAsset       *satp.Asset `json:"sourceAsset"`
	ReceiverAsset     *satp.Asset `json:"receiverAsset"`
}

func (r *TransactRequest) check() error {
	switch {
	case r.ContextID == "":
		return errors.Wrap(ErrBadRequest, "missing contextID")
	case r.FromDLTNetworkID == "" || r.ToDLTNetworkID == "":
		return errors.Wrap(ErrBadRequest, "missing network ids")
	case r.SourceAsset == nil || r.SourceAsset.TokenID == "":
		return errors.Wrap(ErrBadRequest, "missing source asset")
	case r.ReceiverAsset == nil || r.ReceiverAsset.TokenID == "":
		return errors.Wrap(ErrBadRequest, "missing receiver asset")
	case r.ReceiverAsset.NetworkID.LedgerType == "":
		return errors.Wrap(ErrBadRequest, "missing receiver asset ledger type")
	}

	return nil
}

// SessionStatus reports the progress of a session.
type SessionStatus struct {
	SessionID      string     `json:"sessionId"`
	ContextID      string     `json:"contextId"`
	Roles          []string   `json:"roles"`
	State          satp.State `json:"state"`
	Stage          satp.Stage `json:"stage"`
	SequenceNumber uint64     `json:"sequenceNumber"`
	Crash          string     `json:"crash,omitempty"`
	Rollback       string     `json:"rollback,omitempty"`
}

// Transact runs stages 0 to 3 of a transfer as client gateway and returns the status of the session. The session
// stays registered whatever the outcome, so a failed transfer is left to the crash manager.
func (g *Gateway) Transact(ctx context.Context, req *TransactRequest) (*SessionStatus, error) {
	if err := req.check(); err != nil {
		return nil, err
	}

	peer, remote, err := g.counterparty(req.ToDLTNetworkID)
	if err != nil {
		return nil, err
	}

	session, err := satp.NewSession(satp.SessionOptions{ContextID: req.ContextID, Client: true, Monitor: g.mon})
	if err != nil {
		return nil, err
	}

	sd, _ := session.ClientSessionData()
	g.propose(sd, req, peer.ID, peer.Pubkey)

	if err = g.sessions.Register(session); err != nil {
		return nil, err
	}

	l := g.log.Session(session.ID())
	l.Info().Str("from", req.FromDLTNetworkID).Str("to", req.ToDLTNetworkID).Str("peer", peer.ID).
		Msg("starting transfer")

	c0, c1 := stage.NewStage0Client(g.opts), stage.NewStage1Client(g.opts)
	c2, c3 := stage.NewStage2Client(g.opts), stage.NewStage3Client(g.opts)

	err = g.run(ctx, session,
		func() error {
			return exchange(ctx, session, c0.NewSessionRequest, remote.NewSession, c0.CheckNewSessionResponse)
		},
		func() error { return locked(session, func() error { return c0.WrapToken(ctx, session) }) },
		func() error {
			return exchange(ctx, session, c0.PreSATPTransferRequest, remote.PreSATPTransfer,
				c0.CheckPreSATPTransferResponse)
		},
		func() error {
			return exchange(ctx, session, c1.TransferProposalRequest, remote.TransferProposal,
				c1.CheckTransferProposalResponse)
		},
		func() error {
			return exchange(ctx, session, c1.TransferCommenceRequest, remote.TransferCommence,
				c1.CheckTransferCommenceResponse)
		},
		func() error { return locked(session, func() error { return c2.LockAsset(ctx, session) }) },
		func() error {
			return exchange(ctx, session, c2.LockAssertionRequest, remote.LockAssertion,
				c2.CheckLockAssertionReceipt)
		},
		func() error {
			return exchange(ctx, session, c3.CommitPreparation, remote.CommitPreparation, c3.CheckCommitReady)
		},
		func() error { return locked(session, func() error { return c3.BurnAsset(ctx, session) }) },
		func() error {
			return exchange(ctx, session, c3.CommitFinalAssertion, remote.CommitFinalAssertion,
				c3.CheckCommitFinalAcknowledgementReceipt)
		},
		func() error {
			return exchange(ctx, session, c3.TransferComplete, remote.TransferComplete,
				c3.CheckTransferCompleteResponse)
		},
	)

	st := g.status(session)
	if err != nil {
		l.Error().Err(err).Stringer("state", st.State).Msg("transfer failed")

		return st, err
	}

	l.Info().Msg("transfer completed")

	return st, nil
}

// propose fills the client session data with the transfer parameters.
func (g *Gateway) propose(sd *satp.SessionData, req *TransactRequest, peerID, peerPubkey string) {
	source, receiver := *req.SourceAsset, *req.ReceiverAsset

	if source.Amount == "" {
		source.Amount = req.FromAmount
	}

	if receiver.Amount == "" {
		receiver.Amount = req.ToAmount
	}

	if source.NetworkID.ID == "" {
		source.NetworkID = g.network(req.FromDLTNetworkID)
	}

	if receiver.NetworkID.ID == "" {
		receiver.NetworkID.ID = req.ToDLTNetworkID
	}

	sd.DigitalAssetID = source.TokenID
	sd.OriginatorPubkey = req.OriginatorPubkey
	sd.BeneficiaryPubkey = req.BeneficiaryPubkey
	sd.VerifiedOriginatorEntityID = req.OriginatorPubkey
	sd.VerifiedBeneficiaryEntityID = req.BeneficiaryPubkey
	sd.SenderGatewayNetworkID = req.FromDLTNetworkID
	sd.RecipientGatewayNetworkID = req.ToDLTNetworkID
	sd.ClientGatewayPubkey = g.signer.PubKey()
	sd.ServerGatewayPubkey = peerPubkey
	sd.SenderGatewayOwnerID = g.cfg.ID
	sd.ReceiverGatewayOwnerID = peerID
	sd.SignatureAlgorithm = satp.SignatureAlgorithmECDSA
	sd.LockType = satp.LockTypeFaucet
	sd.LockExpirationTime = LockExpirationDefault
	sd.CredentialProfile = CredentialProfileDefault
	sd.LoggingProfile = LoggingProfileDefault
	sd.AccessControlProfile = AccessControlDefault
	sd.SenderAsset = &source
	sd.ReceiverAsset = &receiver
}

// network returns the configured id of a local network, with its ledger type.
func (g *Gateway) network(id string) satp.NetworkID {
	for _, n := range g.cfg.Networks {
		if n.ID == id {
			return n.NetworkID()
		}
	}

	return satp.NetworkID{ID: id, LedgerType: satp.LedgerMemory}
}

// run executes the steps in order. A failure of the local ledger or the counterparty leaves the session to the crash
// manager, which rolls it back right away when the context allows it.
func (g *Gateway) run(ctx context.Context, session *satp.Session, steps ...func() error) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := step(); err != nil {
			if _, rerr := g.crash.InitiateRollback(ctx, session, true); rerr != nil &&
				!errors.Is(rerr, crash.ErrRollbackNotNeeded) && !errors.Is(rerr, crash.ErrAlreadyRolledBack) {
				l := g.log.Session(session.ID())
				l.Error().Err(rerr).Msg("rolling back failed transfer")
			}

			return err
		}
	}

	return nil
}

// exchange builds a request under the session lock, sends it without holding the lock and checks the response under
// the lock again.
func exchange[Req, Resp any](ctx context.Context, session *satp.Session,
	build func(context.Context, *satp.Session) (*Req, error),
	send func(context.Context, *Req) (*Resp, error),
	check func(context.Context, *Resp, *satp.Session) error,
) error {
	var req *Req

	if err := locked(session, func() (err error) {
		req, err = build(ctx, session)

		return err
	}); err != nil {
		return err
	}

	resp, err := send(ctx, req)
	if err != nil {
		return err
	}

	return locked(session, func() error { return check(ctx, resp, session) })
}

func locked(session *satp.Session, f func() error) error {
	session.Lock()
	defer session.Unlock()

	return f()
}

// Status returns the status of session id.
func (g *Gateway) Status(id string) (*SessionStatus, error) {
	session, ok := g.sessions.Session(id)
	if !ok {
		return nil, errors.Wrap(ErrNoSession, id)
	}

	return g.status(session), nil
}

// List returns the status of every session.
func (g *Gateway) List() []*SessionStatus {
	sessions := g.sessions.Sessions()

	out := make([]*SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, g.status(s))
	}

	return out
}

func (g *Gateway) status(session *satp.Session) *SessionStatus {
	st := &SessionStatus{SessionID: session.ID()}

	session.Lock()
	st.State = session.State()

	for _, role := range []satp.Role{satp.RoleServer, satp.RoleClient} {
		sd, err := session.SessionData(role)
		if err != nil {
			continue
		}

		st.Roles = append(st.Roles, string(role))

		if st.ContextID == "" {
			st.ContextID = sd.TransferContextID
			st.Stage = satp.CurrentStage(sd)
			st.SequenceNumber = sd.LastSequenceNumber
		}
	}
	session.Unlock()

	if c, err := g.crash.CheckCrash(context.Background(), session); err == nil {
		st.Crash = string(c)
	}

	if rb, ok := g.crash.RollbackState(session.ID()); ok {
		st.Rollback = string(rb.Status)
	}

	return st
}
