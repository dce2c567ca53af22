package stage

import (
	"context"
	"time"

	"github.com/tarancss/satp/lib/satp"
)

// Stage2Client locks the sender asset and asserts the lock to the server gateway.
type Stage2Client struct {
	service
}

// NewStage2Client returns the stage 2 client service.
func NewStage2Client(o Options) *Stage2Client {
	return &Stage2Client{newService("stage2-client", satp.Stage2, satp.RoleClient, o)}
}

// LockAsset locks the sender asset on the sender network and keeps the lock assertion claim. The lock expires
// LockExpirationTime seconds from now.
func (s *Stage2Client) LockAsset(ctx context.Context, session *satp.Session) error {
	tag := s.tag("LockAsset")
	st := s.begin(ctx, "lockAsset", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = checkAsset(tag, sd.SenderAsset); err != nil {
		return st.fail(err)
	}

	el, err := s.executionLayer(tag, sd.SenderNetwork(), sd.TransferClaimsFormat)
	if err != nil {
		return st.fail(err)
	}

	st.exec()

	claim, err := el.LockAsset(st.ctx, *sd.SenderAsset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindLockAssertionClaim, "", err))
	}

	sd.LockAssertionClaim = claim
	sd.LockAssertionClaimFormat = sd.TransferClaimsFormat
	sd.LockAssertionExpiration = uint64(time.Now().Add(time.Duration(sd.LockExpirationTime) * time.Second).UnixMilli())

	st.done()

	return nil
}

// LockAssertionRequest builds the LOCK_ASSERT message.
func (s *Stage2Client) LockAssertionRequest(ctx context.Context, session *satp.Session,
) (*satp.LockAssertionRequest, error) {
	tag := s.tag("LockAssertionRequest")
	st := s.begin(ctx, "lockAssertionRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	if sd.LockAssertionClaim == nil {
		return nil, st.fail(satp.NewError(tag, satp.KindLockAssertionClaim, "", nil))
	}

	st.exec()

	m := &satp.LockAssertionRequest{
		Common:                   builderCommon(sd, satp.MsgLockAssert),
		LockAssertionClaim:       sd.LockAssertionClaim,
		LockAssertionClaimFormat: sd.LockAssertionClaimFormat,
		LockAssertionExpiration:  sd.LockAssertionExpiration,
		ClientTransferNumber:     sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckLockAssertionReceipt validates the ASSERTION_RECEIPT.
func (s *Stage2Client) CheckLockAssertionReceipt(ctx context.Context, resp *satp.LockAssertionReceipt,
	session *satp.Session,
) error {
	tag := s.tag("CheckLockAssertionReceipt")
	st := s.begin(ctx, "checkLockAssertionReceipt", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgAssertionReceipt); err != nil {
		return st.fail(err)
	}

	if err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	if resp.ServerTransferNumber != "" {
		sd.ServerTransferNumber = resp.ServerTransferNumber
	}

	if err = accept(tag, sd, resp, resp.Common); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// Stage2Server acknowledges lock assertions.
type Stage2Server struct {
	service
}

// NewStage2Server returns the stage 2 server service.
func NewStage2Server(o Options) *Stage2Server {
	return &Stage2Server{newService("stage2-server", satp.Stage2, satp.RoleServer, o)}
}

// CheckLockAssertionRequest validates the LOCK_ASSERT. An expired lock is refused.
func (s *Stage2Server) CheckLockAssertionRequest(ctx context.Context, req *satp.LockAssertionRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckLockAssertionRequest")
	st := s.begin(ctx, "checkLockAssertionRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, req.Common, sd, satp.MsgLockAssert); err != nil {
		return st.fail(err)
	}

	switch {
	case req.LockAssertionClaim == nil:
		err = satp.NewError(tag, satp.KindLockAssertionClaim, "", nil)
	case req.LockAssertionExpiration <= uint64(time.Now().UnixMilli()):
		err = satp.Errorf(tag, satp.KindLockAssertionExpiration, "expired at %d", req.LockAssertionExpiration)
	default:
		err = signatureVerifier(tag, req, sd.ClientGatewayPubkey)
	}

	if err != nil {
		return st.fail(err)
	}

	st.exec()

	sd.LockAssertionClaim = req.LockAssertionClaim
	sd.LockAssertionClaimFormat = req.LockAssertionClaimFormat
	sd.LockAssertionExpiration = req.LockAssertionExpiration

	if req.ClientTransferNumber != "" {
		sd.ClientTransferNumber = req.ClientTransferNumber
	}

	if err = accept(tag, sd, req, req.Common); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// LockAssertionResponse builds the ASSERTION_RECEIPT.
func (s *Stage2Server) LockAssertionResponse(ctx context.Context, session *satp.Session,
) (*satp.LockAssertionReceipt, error) {
	tag := s.tag("LockAssertionResponse")
	st := s.begin(ctx, "lockAssertionResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.LockAssertionReceipt{
		Common:               builderCommon(sd, satp.MsgAssertionReceipt),
		ServerTransferNumber: sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// LockAssertionErrorResponse builds the signed error response of a failed LOCK_ASSERT.
func (s *Stage2Server) LockAssertionErrorResponse(err error, sessionID string) *satp.LockAssertionReceipt {
	m := &satp.LockAssertionReceipt{Common: errorCommon(satp.MsgAssertionReceipt, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("LockAssertionErrorResponse"), m)

	return m
}
