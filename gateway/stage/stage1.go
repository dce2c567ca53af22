package stage

import (
	"context"

	"github.com/tarancss/satp/lib/satp"
)

// transferClaims returns the transfer initialization claims of the session.
func transferClaims(sd *satp.SessionData) *satp.TransferClaims {
	return &satp.TransferClaims{
		DigitalAssetID:              sd.DigitalAssetID,
		AssetProfileID:              sd.AssetProfileID,
		VerifiedOriginatorEntityID:  sd.VerifiedOriginatorEntityID,
		VerifiedBeneficiaryEntityID: sd.VerifiedBeneficiaryEntityID,
		OriginatorPubkey:            sd.OriginatorPubkey,
		BeneficiaryPubkey:           sd.BeneficiaryPubkey,
		SenderGatewayNetworkID:      sd.SenderGatewayNetworkID,
		RecipientGatewayNetworkID:   sd.RecipientGatewayNetworkID,
		ClientGatewayPubkey:         sd.ClientGatewayPubkey,
		ServerGatewayPubkey:         sd.ServerGatewayPubkey,
		SenderGatewayOwnerID:        sd.SenderGatewayOwnerID,
		ReceiverGatewayOwnerID:      sd.ReceiverGatewayOwnerID,
	}
}

func networkCapabilities(sd *satp.SessionData) *satp.NetworkCapabilities {
	return &satp.NetworkCapabilities{
		SenderGatewayNetworkID: sd.SenderGatewayNetworkID,
		SignatureAlgorithm:     sd.SignatureAlgorithm,
		LockType:               sd.LockType,
		LockExpirationTime:     sd.LockExpirationTime,
		CredentialProfile:      sd.CredentialProfile,
		LoggingProfile:         sd.LoggingProfile,
		AccessControlProfile:   sd.AccessControlProfile,
		Permissions:            sd.Permissions,
		DeveloperURN:           sd.DeveloperURN,
		ApplicationProfile:     sd.ApplicationProfile,
		SubsequentCalls:        sd.SubsequentCalls,
		History:                sd.History,
	}
}

// Stage1Client proposes the transfer and commences it once accepted.
type Stage1Client struct {
	service
}

// NewStage1Client returns the stage 1 client service.
func NewStage1Client(o Options) *Stage1Client {
	return &Stage1Client{newService("stage1-client", satp.Stage1, satp.RoleClient, o)}
}

// TransferProposalRequest builds the INIT_PROPOSAL message. Its hashPreviousMessage is the stage 0 response hash,
// empty when stage 0 was skipped.
func (s *Stage1Client) TransferProposalRequest(ctx context.Context, session *satp.Session,
) (*satp.TransferProposalRequest, error) {
	tag := s.tag("TransferProposalRequest")
	st := s.begin(ctx, "transferProposalRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	claims := transferClaims(sd)

	hash, err := satp.Hash(claims)
	if err != nil {
		return nil, st.fail(satp.NewError(tag, satp.KindTransferInitClaims, "", err))
	}

	st.exec()

	m := &satp.TransferProposalRequest{
		Common:                   builderCommon(sd, satp.MsgInitProposal),
		TransferInitClaims:       claims,
		NetworkCapabilities:      networkCapabilities(sd),
		TransferInitClaimsFormat: sd.TransferClaimsFormat,
		MultipleClaimsAllowed:    sd.MultipleClaimsAllowed,
		MultipleCancelsAllowed:   sd.MultipleCancelsAllowed,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	sd.HashTransferInitClaims = hash

	st.done()

	return m, nil
}

// CheckTransferProposalResponse validates the INIT_RECEIPT or INIT_REJECT. A reject is recorded, rejects the session
// and is returned as a KindSessionRejected error.
func (s *Stage1Client) CheckTransferProposalResponse(ctx context.Context, resp *satp.TransferProposalResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferProposalResponse")
	st := s.begin(ctx, "checkTransferProposalResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgInitReceipt, satp.MsgInitReject); err != nil {
		return st.fail(err)
	}

	if resp.HashTransferInitClaims != sd.HashTransferInitClaims {
		return st.fail(satp.NewError(tag, satp.KindTransferInitClaimsHash, "", nil))
	}

	if err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	if err = accept(tag, sd, resp, resp.Common); err != nil {
		return st.fail(err)
	}

	if resp.Common.MessageType == satp.MsgInitReject {
		if err = session.MarkState(s.role, satp.StateRejected); err != nil {
			return st.fail(err)
		}

		return st.fail(satp.Errorf(tag, satp.KindSessionRejected, "transfer proposal rejected"))
	}

	st.done()

	return nil
}

// TransferCommenceRequest builds the TRANSFER_COMMENCE_REQUEST message.
func (s *Stage1Client) TransferCommenceRequest(ctx context.Context, session *satp.Session,
) (*satp.TransferCommenceRequest, error) {
	tag := s.tag("TransferCommenceRequest")
	st := s.begin(ctx, "transferCommenceRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	if sd.HashTransferInitClaims == "" {
		return nil, st.fail(satp.NewError(tag, satp.KindTransferInitClaimsHash, "", nil))
	}

	st.exec()

	m := &satp.TransferCommenceRequest{
		Common:                 builderCommon(sd, satp.MsgTransferCommenceRequest),
		HashTransferInitClaims: sd.HashTransferInitClaims,
		ClientTransferNumber:   sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckTransferCommenceResponse validates the TRANSFER_COMMENCE_RESPONSE.
func (s *Stage1Client) CheckTransferCommenceResponse(ctx context.Context, resp *satp.TransferCommenceResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferCommenceResponse")
	st := s.begin(ctx, "checkTransferCommenceResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, resp.Common, sd, satp.MsgTransferCommenceResponse); err != nil {
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

// Stage1Server evaluates transfer proposals.
type Stage1Server struct {
	service
}

// NewStage1Server returns the stage 1 server service.
func NewStage1Server(o Options) *Stage1Server {
	return &Stage1Server{newService("stage1-server", satp.Stage1, satp.RoleServer, o)}
}

// CheckTransferProposalRequest validates the INIT_PROPOSAL and adopts its claims and capabilities. A proposal for a
// recipient network this gateway does not serve is accepted as a message but rejects the session, so the response
// is an INIT_REJECT.
func (s *Stage1Server) CheckTransferProposalRequest(ctx context.Context, req *satp.TransferProposalRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferProposalRequest")
	st := s.begin(ctx, "checkTransferProposalRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if sd.State != satp.StateOngoing {
		return st.fail(satp.Errorf(tag, satp.KindSessionRejected, "session is %s", sd.State))
	}

	if err = commonBodyVerifier(tag, req.Common, sd, satp.MsgInitProposal); err != nil {
		return st.fail(err)
	}

	if err = s.checkProposal(tag, req); err != nil {
		return st.fail(err)
	}

	hash, err := satp.Hash(req.TransferInitClaims)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindTransferInitClaims, "", err))
	}

	if err = signatureVerifier(tag, req, peerKey(sd.ClientGatewayPubkey, req.Common.ClientGatewayPubkey)); err != nil {
		return st.fail(err)
	}

	st.exec()

	adoptProposal(sd, req)
	sd.HashTransferInitClaims = hash
	sd.ServerGatewayPubkey = s.pubkey()

	if err = accept(tag, sd, req, req.Common); err != nil {
		return st.fail(err)
	}

	if !s.serves(req.TransferInitClaims.RecipientGatewayNetworkID) {
		st.log.Warn().Str("network", req.TransferInitClaims.RecipientGatewayNetworkID).Msg("recipient network not served")

		if err = session.MarkState(s.role, satp.StateRejected); err != nil {
			return st.fail(err)
		}
	}

	st.done()

	return nil
}

func (s *Stage1Server) checkProposal(tag string, req *satp.TransferProposalRequest) error {
	c, n := req.TransferInitClaims, req.NetworkCapabilities

	switch {
	case c == nil:
		return satp.NewError(tag, satp.KindTransferInitClaims, "", nil)
	case c.DigitalAssetID == "":
		return satp.NewError(tag, satp.KindDigitalAssetID, "", nil)
	case c.SenderGatewayNetworkID == "" || c.RecipientGatewayNetworkID == "":
		return satp.NewError(tag, satp.KindGatewayNetworkID, "", nil)
	case c.SenderGatewayOwnerID == "" || c.ReceiverGatewayOwnerID == "":
		return satp.NewError(tag, satp.KindOwnerID, "", nil)
	case c.ClientGatewayPubkey != req.Common.ClientGatewayPubkey:
		return satp.Errorf(tag, satp.KindClientGatewayPubkey, "transferInitClaims")
	case c.ServerGatewayPubkey != s.pubkey() || req.Common.ServerGatewayPubkey != s.pubkey():
		return satp.NewError(tag, satp.KindServerGatewayPubkey, "", nil)
	case n == nil:
		return satp.NewError(tag, satp.KindNetworkCapabilities, "", nil)
	case n.SignatureAlgorithm == satp.SignatureAlgorithmUnspecified:
		return satp.NewError(tag, satp.KindSignatureAlgorithm, "", nil)
	case n.LockType == satp.LockTypeUnspecified:
		return satp.NewError(tag, satp.KindLockType, "", nil)
	case n.LockExpirationTime == 0:
		return satp.NewError(tag, satp.KindLockExpirationTime, "", nil)
	case n.CredentialProfile == satp.CredentialProfileUnspecified:
		return satp.NewError(tag, satp.KindCredentialProfile, "", nil)
	case n.LoggingProfile == "":
		return satp.NewError(tag, satp.KindLoggingProfile, "", nil)
	case n.AccessControlProfile == "":
		return satp.NewError(tag, satp.KindAccessControlProfile, "", nil)
	}

	return nil
}

func adoptProposal(sd *satp.SessionData, req *satp.TransferProposalRequest) {
	c, n := req.TransferInitClaims, req.NetworkCapabilities

	sd.DigitalAssetID = c.DigitalAssetID
	sd.AssetProfileID = c.AssetProfileID
	sd.VerifiedOriginatorEntityID = c.VerifiedOriginatorEntityID
	sd.VerifiedBeneficiaryEntityID = c.VerifiedBeneficiaryEntityID
	sd.OriginatorPubkey = c.OriginatorPubkey
	sd.BeneficiaryPubkey = c.BeneficiaryPubkey
	sd.SenderGatewayNetworkID = c.SenderGatewayNetworkID
	sd.RecipientGatewayNetworkID = c.RecipientGatewayNetworkID
	sd.ClientGatewayPubkey = c.ClientGatewayPubkey
	sd.SenderGatewayOwnerID = c.SenderGatewayOwnerID
	sd.ReceiverGatewayOwnerID = c.ReceiverGatewayOwnerID

	sd.SignatureAlgorithm = n.SignatureAlgorithm
	sd.LockType = n.LockType
	sd.LockExpirationTime = n.LockExpirationTime
	sd.CredentialProfile = n.CredentialProfile
	sd.LoggingProfile = n.LoggingProfile
	sd.AccessControlProfile = n.AccessControlProfile
	sd.Permissions = n.Permissions
	sd.DeveloperURN = n.DeveloperURN
	sd.ApplicationProfile = n.ApplicationProfile
	sd.SubsequentCalls = n.SubsequentCalls
	sd.History = n.History

	sd.TransferClaimsFormat = req.TransferInitClaimsFormat
	sd.MultipleClaimsAllowed = req.MultipleClaimsAllowed
	sd.MultipleCancelsAllowed = req.MultipleCancelsAllowed
	sd.ResourceURL = req.Common.ResourceURL

	if sd.TransferContextID == "" {
		sd.TransferContextID = req.Common.TransferContextID
	}
}

// TransferProposalResponse builds the INIT_RECEIPT, or the INIT_REJECT when the session was rejected.
func (s *Stage1Server) TransferProposalResponse(ctx context.Context, session *satp.Session,
) (*satp.TransferProposalResponse, error) {
	tag := s.tag("TransferProposalResponse")
	st := s.begin(ctx, "transferProposalResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	rejected := sd.State == satp.StateRejected

	if err = session.Verify(tag, s.role, satp.VerifyFlags{Rejected: rejected}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	t := satp.MsgInitReceipt
	if rejected {
		t = satp.MsgInitReject
	}

	m := &satp.TransferProposalResponse{
		Common:                 builderCommon(sd, t),
		HashTransferInitClaims: sd.HashTransferInitClaims,
		Timestamp:              satp.Now(),
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// TransferProposalErrorResponse builds the signed error response of a failed INIT_PROPOSAL.
func (s *Stage1Server) TransferProposalErrorResponse(err error, sessionID string) *satp.TransferProposalResponse {
	m := &satp.TransferProposalResponse{Common: errorCommon(satp.MsgInitReject, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("TransferProposalErrorResponse"), m)

	return m
}

// CheckTransferCommenceRequest validates the TRANSFER_COMMENCE_REQUEST.
func (s *Stage1Server) CheckTransferCommenceRequest(ctx context.Context, req *satp.TransferCommenceRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckTransferCommenceRequest")
	st := s.begin(ctx, "checkTransferCommenceRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return st.fail(err)
	}

	if err = commonBodyVerifier(tag, req.Common, sd, satp.MsgTransferCommenceRequest); err != nil {
		return st.fail(err)
	}

	if req.HashTransferInitClaims != sd.HashTransferInitClaims {
		return st.fail(satp.NewError(tag, satp.KindTransferInitClaimsHash, "", nil))
	}

	if err = signatureVerifier(tag, req, sd.ClientGatewayPubkey); err != nil {
		return st.fail(err)
	}

	st.exec()

	if req.ClientTransferNumber != "" {
		sd.ClientTransferNumber = req.ClientTransferNumber
	}

	if err = accept(tag, sd, req, req.Common); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// TransferCommenceResponse builds the TRANSFER_COMMENCE_RESPONSE.
func (s *Stage1Server) TransferCommenceResponse(ctx context.Context, session *satp.Session,
) (*satp.TransferCommenceResponse, error) {
	tag := s.tag("TransferCommenceResponse")
	st := s.begin(ctx, "transferCommenceResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.TransferCommenceResponse{
		Common:               builderCommon(sd, satp.MsgTransferCommenceResponse),
		ServerTransferNumber: sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, m.Common); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// TransferCommenceErrorResponse builds the signed error response of a failed TRANSFER_COMMENCE_REQUEST.
func (s *Stage1Server) TransferCommenceErrorResponse(err error, sessionID string) *satp.TransferCommenceResponse {
	m := &satp.TransferCommenceResponse{Common: errorCommon(satp.MsgTransferCommenceResponse, err, sessionID)}
	m.Common.ServerGatewayPubkey = s.pubkey()
	s.signedError(s.tag("TransferCommenceErrorResponse"), m)

	return m
}
