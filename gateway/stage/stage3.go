package stage

import (
	"context"

	"github.com/tarancss/satp/lib/satp"
)

// Stage3Client burns the sender asset and closes the transfer.
type Stage3Client struct {
	service
}

// NewStage3Client returns the stage 3 client service.
func NewStage3Client(o Options) *Stage3Client {
	return &Stage3Client{newService("stage3-client", satp.Stage3, satp.RoleClient, o)}
}

// CommitPreparation builds the COMMIT_PREPARE message.
func (s *Stage3Client) CommitPreparation(ctx context.Context, session *satp.Session,
) (*satp.CommitPreparationRequest, error) {
	tag := s.tag("CommitPreparation")
	st := s.begin(ctx, "commitPreparation", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.CommitPreparationRequest{
		Common:               builderCommon(sd, satp.MsgCommitPrepare),
		ClientTransferNumber: sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckCommitReady validates the COMMIT_READY and keeps the mint assertion claim.
func (s *Stage3Client) CheckCommitReady(ctx context.Context, resp *satp.CommitReadyResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckCommitReady")
	st := s.begin(ctx, "checkCommitReady", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgCommitReady); err != nil {
		return st.fail(err)
	}

	if resp.MintAssertionClaim == nil {
		return st.fail(satp.NewError(tag, satp.KindMintAssertionClaim, "", nil))
	}

	if err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	sd.MintAssertionClaim = resp.MintAssertionClaim
	sd.MintAssertionClaimFormat = resp.MintAssertionClaimFormat

	if err = accept(tag, sd, resp, resp.Common); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// BurnAsset burns the locked sender asset on the sender network and keeps the burn assertion claim.
func (s *Stage3Client) BurnAsset(ctx context.Context, session *satp.Session) error {
	tag := s.tag("BurnAsset")
	st := s.begin(ctx, "burnAsset", session)

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

	claim, err := el.BurnAsset(st.ctx, *sd.SenderAsset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindBurnAssertionClaim, "", err))
	}

	sd.BurnAssertionClaim = claim
	sd.BurnAssertionClaimFormat = sd.TransferClaimsFormat

	st.done()

	return nil
}

// CommitFinalAssertion builds the COMMIT_FINAL message carrying the burn assertion claim.
func (s *Stage3Client) CommitFinalAssertion(ctx context.Context, session *satp.Session,
) (*satp.CommitFinalAssertionRequest, error) {
	tag := s.tag("CommitFinalAssertion")
	st := s.begin(ctx, "commitFinalAssertion", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	if sd.BurnAssertionClaim == nil {
		return nil, st.fail(satp.NewError(tag, satp.KindBurnAssertionClaim, "", nil))
	}

	st.exec()

	m := &satp.CommitFinalAssertionRequest{
		Common:                   builderCommon(sd, satp.MsgCommitFinal),
		BurnAssertionClaim:       sd.BurnAssertionClaim,
		BurnAssertionClaimFormat: sd.BurnAssertionClaimFormat,
		ClientTransferNumber:     sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckCommitFinalAcknowledgementReceipt validates the ACK_COMMIT_FINAL and keeps the assignment assertion claim.
func (s *Stage3Client) CheckCommitFinalAcknowledgementReceipt(ctx context.Context,
	resp *satp.CommitFinalAcknowledgementReceiptResponse, session *satp.Session,
) error {
	tag := s.tag("CheckCommitFinalAcknowledgementReceipt")
	st := s.begin(ctx, "checkCommitFinalAcknowledgementReceipt", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgAckCommitFinal); err != nil {
		return st.fail(err)
	}

	if resp.AssignmentAssertionClaim == nil {
		return st.fail(satp.NewError(tag, satp.KindAssignmentAssertionClaim, "", nil))
	}

	if err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	sd.AssignmentAssertionClaim = resp.AssignmentAssertionClaim
	sd.AssignmentAssertionClaimFormat = resp.AssignmentAssertionClaimFormat

	if err = accept(tag, sd, resp, resp.Common); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// TransferComplete builds the COMMIT_TRANSFER_COMPLETE message. hashTransferCommence is the hash of the
// TRANSFER_COMMENCE_REQUEST sent in stage 1.
func (s *Stage3Client) TransferComplete(ctx context.Context, session *satp.Session,
) (*satp.TransferCompleteRequest, error) {
	tag := s.tag("TransferComplete")
	st := s.begin(ctx, "transferComplete", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	commence := satp.GetMessageHash(sd, satp.MsgTransferCommenceRequest)
	if commence == "" {
		return nil, st.fail(satp.Errorf(tag, satp.KindHash, "%s", satp.MsgTransferCommenceRequest))
	}

	st.exec()

	m := &satp.TransferCompleteRequest{
		Common:               builderCommon(sd, satp.MsgCommitTransferComplete),
		HashTransferCommence: commence,
		ClientTransferNumber: sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckTransferCompleteResponse validates the COMMIT_TRANSFER_COMPLETE_RESPONSE and completes the session.
func (s *Stage3Client) CheckTransferCompleteResponse(ctx context.Context, resp *satp.TransferCompleteResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferCompleteResponse")
	st := s.begin(ctx, "checkTransferCompleteResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgCommitTransferCompleteResponse); err != nil {
		return st.fail(err)
	}

	if err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	if err = accept(tag, sd, resp, resp.Common); err != nil {
		return st.fail(err)
	}

	if err = session.MarkState(s.role, satp.StateCompleted); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// Stage3Server mints and assigns the receiver asset.
type Stage3Server struct {
	service
}

// NewStage3Server returns the stage 3 server service.
func NewStage3Server(o Options) *Stage3Server {
	return &Stage3Server{newService("stage3-server", satp.Stage3, satp.RoleServer, o)}
}

// CheckCommitPreparationRequest validates the COMMIT_PREPARE.
func (s *Stage3Server) CheckCommitPreparationRequest(ctx context.Context, req *satp.CommitPreparationRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckCommitPreparationRequest")

	return s.checkRequest(ctx, tag, "checkCommitPreparationRequest", req, req.Common, session, satp.MsgCommitPrepare,
		nil)
}

// MintAsset mints the receiver asset on the recipient network and keeps the mint assertion claim.
func (s *Stage3Server) MintAsset(ctx context.Context, session *satp.Session) error {
	tag := s.tag("MintAsset")
	st := s.begin(ctx, "mintAsset", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = checkAsset(tag, sd.ReceiverAsset); err != nil {
		return st.fail(err)
	}

	el, err := s.executionLayer(tag, sd.RecipientNetwork(), sd.TransferClaimsFormat)
	if err != nil {
		return st.fail(err)
	}

	st.exec()

	claim, err := el.MintAsset(st.ctx, *sd.ReceiverAsset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindMintAssertionClaim, "", err))
	}

	sd.MintAssertionClaim = claim
	sd.MintAssertionClaimFormat = sd.TransferClaimsFormat

	st.done()

	return nil
}

// CommitReady builds the COMMIT_READY message carrying the mint assertion claim.
func (s *Stage3Server) CommitReady(ctx context.Context, session *satp.Session) (*satp.CommitReadyResponse, error) {
	tag := s.tag("CommitReady")
	st := s.begin(ctx, "commitReady", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	if sd.MintAssertionClaim == nil {
		return nil, st.fail(satp.NewError(tag, satp.KindMintAssertionClaim, "", nil))
	}

	st.exec()

	m := &satp.CommitReadyResponse{
		Common:                   builderCommon(sd, satp.MsgCommitReady),
		MintAssertionClaim:       sd.MintAssertionClaim,
		MintAssertionClaimFormat: sd.MintAssertionClaimFormat,
		ServerTransferNumber:     sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CommitReadyErrorResponse builds the signed error response of a failed COMMIT_PREPARE.
func (s *Stage3Server) CommitReadyErrorResponse(err error, sessionID string) *satp.CommitReadyResponse {
	m := &satp.CommitReadyResponse{Common: errorCommon(satp.MsgCommitReady, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("CommitReadyErrorResponse"), m)

	return m
}

// CheckCommitFinalAssertionRequest validates the COMMIT_FINAL and keeps the burn assertion claim.
func (s *Stage3Server) CheckCommitFinalAssertionRequest(ctx context.Context, req *satp.CommitFinalAssertionRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckCommitFinalAssertionRequest")

	return s.checkRequest(ctx, tag, "checkCommitFinalAssertionRequest", req, req.Common, session, satp.MsgCommitFinal,
		func(sd *satp.SessionData) error {
			if req.BurnAssertionClaim == nil {
				return satp.NewError(tag, satp.KindBurnAssertionClaim, "", nil)
			}

			sd.BurnAssertionClaim = req.BurnAssertionClaim
			sd.BurnAssertionClaimFormat = req.BurnAssertionClaimFormat

			return nil
		})
}

// AssignAsset assigns the minted receiver asset to its owner and keeps the assignment assertion claim.
func (s *Stage3Server) AssignAsset(ctx context.Context, session *satp.Session) error {
	tag := s.tag("AssignAsset")
	st := s.begin(ctx, "assignAsset", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = checkAsset(tag, sd.ReceiverAsset); err != nil {
		return st.fail(err)
	}

	el, err := s.executionLayer(tag, sd.RecipientNetwork(), sd.TransferClaimsFormat)
	if err != nil {
		return st.fail(err)
	}

	st.exec()

	claim, err := el.AssignAsset(st.ctx, *sd.ReceiverAsset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindAssignmentAssertionClaim, "", err))
	}

	sd.AssignmentAssertionClaim = claim
	sd.AssignmentAssertionClaimFormat = sd.TransferClaimsFormat

	st.done()

	return nil
}

// CommitFinalAcknowledgementReceiptResponse builds the ACK_COMMIT_FINAL message carrying the assignment claim.
func (s *Stage3Server) CommitFinalAcknowledgementReceiptResponse(ctx context.Context, session *satp.Session,
) (*satp.CommitFinalAcknowledgementReceiptResponse, error) {
	tag := s.tag("CommitFinalAcknowledgementReceiptResponse")
	st := s.begin(ctx, "commitFinalAcknowledgementReceiptResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	if sd.AssignmentAssertionClaim == nil {
		return nil, st.fail(satp.NewError(tag, satp.KindAssignmentAssertionClaim, "", nil))
	}

	st.exec()

	m := &satp.CommitFinalAcknowledgementReceiptResponse{
		Common:                         builderCommon(sd, satp.MsgAckCommitFinal),
		AssignmentAssertionClaim:       sd.AssignmentAssertionClaim,
		AssignmentAssertionClaimFormat: sd.AssignmentAssertionClaimFormat,
		ServerTransferNumber:           sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CommitFinalAcknowledgementErrorResponse builds the signed error response of a failed COMMIT_FINAL.
func (s *Stage3Server) CommitFinalAcknowledgementErrorResponse(err error, sessionID string,
) *satp.CommitFinalAcknowledgementReceiptResponse {
	m := &satp.CommitFinalAcknowledgementReceiptResponse{Common: errorCommon(satp.MsgAckCommitFinal, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("CommitFinalAcknowledgementErrorResponse"), m)

	return m
}

// CheckTransferCompleteRequest validates the COMMIT_TRANSFER_COMPLETE and completes the session.
func (s *Stage3Server) CheckTransferCompleteRequest(ctx context.Context, req *satp.TransferCompleteRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferCompleteRequest")

	err := s.checkRequest(ctx, tag, "checkTransferCompleteRequest", req, req.Common, session,
		satp.MsgCommitTransferComplete, func(sd *satp.SessionData) error {
			if req.HashTransferCommence != satp.GetMessageHash(sd, satp.MsgTransferCommenceRequest) {
				return satp.Errorf(tag, satp.KindHash, "%s", satp.MsgTransferCommenceRequest)
			}

			return nil
		})
	if err != nil {
		return err
	}

	return session.MarkState(s.role, satp.StateCompleted)
}

// TransferCompleteResponse builds the COMMIT_TRANSFER_COMPLETE_RESPONSE.
func (s *Stage3Server) TransferCompleteResponse(ctx context.Context, session *satp.Session,
) (*satp.TransferCompleteResponse, error) {
	tag := s.tag("TransferCompleteResponse")
	st := s.begin(ctx, "transferCompleteResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{Completed: true}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.TransferCompleteResponse{
		Common:               builderCommon(sd, satp.MsgCommitTransferCompleteResponse),
		ServerTransferNumber: sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// TransferCompleteErrorResponse builds the signed error response of a failed COMMIT_TRANSFER_COMPLETE.
func (s *Stage3Server) TransferCompleteErrorResponse(err error, sessionID string) *satp.TransferCompleteResponse {
	m := &satp.TransferCompleteResponse{Common: errorCommon(satp.MsgCommitTransferCompleteResponse, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("TransferCompleteErrorResponse"), m)

	return m
}

// checkRequest runs the checks every stage 3 request shares. extra runs last, after the signature check, and may
// fail or copy fields of the request into sd. Nothing is written to sd before extra runs.
func (s *Stage3Server) checkRequest(ctx context.Context, tag, typ string, req satp.Signed, c *satp.CommonSatp,
	session *satp.Session, t satp.MessageType, extra func(sd *satp.SessionData) error,
) error {
	st := s.begin(ctx, typ, session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, c, sd, t); err != nil {
		return st.fail(err)
	}

	if err = signatureVerifier(tag, req, sd.ClientGatewayPubkey); err != nil {
		return st.fail(err)
	}

	if extra != nil {
		if err = extra(sd); err != nil {
			return st.fail(err)
		}
	}

	st.exec()

	if err = accept(tag, sd, req, c); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}
