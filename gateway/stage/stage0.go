package stage

import (
	"context"

	"github.com/tarancss/satp/lib/satp"
)

// Stage0Client opens the session and wraps the sender asset.
type Stage0Client struct {
	service
}

// NewStage0Client returns the stage 0 client service.
func NewStage0Client(o Options) *Stage0Client {
	return &Stage0Client{newService("stage0-client", satp.Stage0, satp.RoleClient, o)}
}

// NewSessionRequest builds the NEW_SESSION_REQUEST message.
func (s *Stage0Client) NewSessionRequest(ctx context.Context, session *satp.Session) (*satp.NewSessionRequest, error) {
	tag := s.tag("NewSessionRequest")
	st := s.begin(ctx, "newSessionRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{Stage0: true}); err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.NewSessionRequest{
		SessionID:                 sd.ID,
		ContextID:                 sd.TransferContextID,
		MessageType:               satp.MsgNewSessionRequest,
		SenderGatewayNetworkID:    sd.SenderGatewayNetworkID,
		RecipientGatewayNetworkID: sd.RecipientGatewayNetworkID,
		ClientGatewayPubkey:       sd.ClientGatewayPubkey,
		ClientTransferNumber:      sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, nil); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckNewSessionResponse validates the NEW_SESSION_RESPONSE. A REJECTED status rejects the session.
func (s *Stage0Client) CheckNewSessionResponse(ctx context.Context, resp *satp.NewSessionResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckNewSessionResponse")
	st := s.begin(ctx, "checkNewSessionResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	switch {
	case resp.MessageType != satp.MsgNewSessionResponse:
		err = satp.Errorf(tag, satp.KindMessageType, "%s", resp.MessageType)
	case resp.SessionID != sd.ID:
		err = satp.Errorf(tag, satp.KindSessionID, "got %q, want %q", resp.SessionID, sd.ID)
	case resp.ServerGatewayPubkey != "" && resp.ServerGatewayPubkey != sd.ServerGatewayPubkey:
		err = satp.NewError(tag, satp.KindServerGatewayPubkey, "", nil)
	case resp.HashPreviousMessage != satp.GetMessageHash(sd, satp.MsgNewSessionRequest):
		err = satp.Errorf(tag, satp.KindHash, "%s", satp.MsgNewSessionRequest)
	default:
		err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey)
	}

	if err != nil {
		return st.fail(err)
	}

	st.exec()

	if resp.ServerTransferNumber != "" {
		sd.ServerTransferNumber = resp.ServerTransferNumber
	}

	if err = accept(tag, sd, resp, nil); err != nil {
		return st.fail(err)
	}

	if resp.Status == satp.StatusRejected {
		if err = session.MarkState(s.role, satp.StateRejected); err != nil {
			return st.fail(err)
		}

		return st.fail(satp.Errorf(tag, satp.KindSessionRejected, "new session rejected by server gateway"))
	}

	st.done()

	return nil
}

// WrapToken wraps the sender asset on the sender network and keeps the wrap assertion claim.
func (s *Stage0Client) WrapToken(ctx context.Context, session *satp.Session) error {
	tag := s.tag("WrapToken")
	st := s.begin(ctx, "wrapToken", session)

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

	claim, err := el.WrapAsset(st.ctx, *sd.SenderAsset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindWrapAssertionClaim, "", err))
	}

	sd.WrapAssertionClaim = claim

	st.done()

	return nil
}

// PreSATPTransferRequest builds the PRE_SATP_TRANSFER_REQUEST message.
func (s *Stage0Client) PreSATPTransferRequest(ctx context.Context, session *satp.Session,
) (*satp.PreSATPTransferRequest, error) {
	tag := s.tag("PreSATPTransferRequest")
	st := s.begin(ctx, "preSATPTransferRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	if err = session.Verify(tag, s.role, satp.VerifyFlags{Stage0: true}); err != nil {
		return nil, st.fail(err)
	}

	switch {
	case sd.SenderAsset == nil || sd.ReceiverAsset == nil:
		err = satp.NewError(tag, satp.KindAssetMissing, "", nil)
	case sd.WrapAssertionClaim == nil:
		err = satp.NewError(tag, satp.KindWrapAssertionClaim, "", nil)
	case satp.GetMessageHash(sd, satp.MsgNewSessionResponse) == "":
		err = satp.Errorf(tag, satp.KindHash, "%s", satp.MsgNewSessionResponse)
	}

	if err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	sender, receiver := *sd.SenderAsset, *sd.ReceiverAsset

	m := &satp.PreSATPTransferRequest{
		SessionID:                 sd.ID,
		ContextID:                 sd.TransferContextID,
		MessageType:               satp.MsgPreSATPTransferRequest,
		SenderGatewayNetworkID:    sd.SenderGatewayNetworkID,
		RecipientGatewayNetworkID: sd.RecipientGatewayNetworkID,
		SenderAsset:               &sender,
		ReceiverAsset:             &receiver,
		WrapAssertionClaim:        sd.WrapAssertionClaim,
		HashPreviousMessage:       satp.GetMessageHash(sd, satp.MsgNewSessionResponse),
		ClientTransferNumber:      sd.ClientTransferNumber,
	}

	if err = s.emit(tag, sd, m, nil); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// CheckPreSATPTransferResponse validates the PRE_SATP_TRANSFER_RESPONSE and keeps the receiver wrap claim.
func (s *Stage0Client) CheckPreSATPTransferResponse(ctx context.Context, resp *satp.PreSATPTransferResponse,
	session *satp.Session,
) error {
	tag := s.tag("CheckPreSATPTransferResponse")
	st := s.begin(ctx, "checkPreSATPTransferResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	if err = remoteFailure(tag, resp); err != nil {
		return st.fail(err)
	}

	switch {
	case resp.MessageType != satp.MsgPreSATPTransferResponse:
		err = satp.Errorf(tag, satp.KindMessageType, "%s", resp.MessageType)
	case resp.SessionID != sd.ID:
		err = satp.Errorf(tag, satp.KindSessionID, "got %q, want %q", resp.SessionID, sd.ID)
	case resp.HashPreviousMessage != satp.GetMessageHash(sd, satp.MsgPreSATPTransferRequest):
		err = satp.Errorf(tag, satp.KindHash, "%s", satp.MsgPreSATPTransferRequest)
	case resp.WrapAssertionClaim == nil:
		err = satp.NewError(tag, satp.KindWrapAssertionClaim, "", nil)
	default:
		err = signatureVerifier(tag, resp, sd.ServerGatewayPubkey)
	}

	if err != nil {
		return st.fail(err)
	}

	st.exec()

	sd.ReceiverWrapAssertionClaim = resp.WrapAssertionClaim

	if resp.RecipientTokenID != "" && sd.ReceiverAsset != nil {
		receiver := *sd.ReceiverAsset
		receiver.TokenID = resp.RecipientTokenID
		sd.ReceiverAsset = &receiver
	}

	if resp.ServerTransferNumber != "" {
		sd.ServerTransferNumber = resp.ServerTransferNumber
	}

	if err = accept(tag, sd, resp, nil); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// Stage0Server accepts sessions and wraps the receiver asset.
type Stage0Server struct {
	service
}

// NewStage0Server returns the stage 0 server service.
func NewStage0Server(o Options) *Stage0Server {
	return &Stage0Server{newService("stage0-server", satp.Stage0, satp.RoleServer, o)}
}

// CheckNewSessionRequest validates the NEW_SESSION_REQUEST and returns the session serving it. A nil session is
// created with the requested id. A session that already has server data is never reused: a new session with a fresh
// id is returned and the response will reject the request.
func (s *Stage0Server) CheckNewSessionRequest(ctx context.Context, req *satp.NewSessionRequest,
	session *satp.Session,
) (*satp.Session, error) {
	tag := s.tag("CheckNewSessionRequest")
	st := s.begin(ctx, "checkNewSessionRequest", nil)

	var err error

	switch {
	case req == nil:
		err = satp.NewError(tag, satp.KindCommonBody, "", nil)
	case req.ClientSignature == "":
		err = satp.NewError(tag, satp.KindSignatureMissing, "", nil)
	case req.SessionID == "":
		err = satp.NewError(tag, satp.KindSessionID, "", nil)
	case req.MessageType != satp.MsgNewSessionRequest:
		err = satp.Errorf(tag, satp.KindMessageType, "%s", req.MessageType)
	case req.ClientGatewayPubkey == "":
		err = satp.NewError(tag, satp.KindClientGatewayPubkey, "", nil)
	default:
		err = signatureVerifier(tag, req, req.ClientGatewayPubkey)
	}

	if err != nil {
		return nil, st.fail(err)
	}

	switch {
	case session == nil:
		session, err = satp.NewSession(satp.SessionOptions{
			SessionID: req.SessionID, ContextID: req.ContextID, Server: true, Monitor: s.mon,
		})
	case !session.HasServerSessionData():
		err = session.CreateSessionData(satp.RoleServer, req.SessionID, req.ContextID)
	default:
		session, err = satp.NewSession(satp.SessionOptions{ContextID: req.ContextID, Server: true, Monitor: s.mon})
	}

	if err != nil {
		return nil, st.fail(err)
	}

	st.attach(session)
	st.exec()

	sd, err := session.ServerSessionData()
	if err != nil {
		return nil, st.fail(err)
	}

	sd.ClientGatewayPubkey = req.ClientGatewayPubkey
	sd.ServerGatewayPubkey = s.pubkey()
	sd.SenderGatewayNetworkID = req.SenderGatewayNetworkID
	sd.RecipientGatewayNetworkID = req.RecipientGatewayNetworkID
	sd.ClientTransferNumber = req.ClientTransferNumber

	if err = accept(tag, sd, req, nil); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return session, nil
}

// NewSessionResponse builds the NEW_SESSION_RESPONSE. The session is rejected when its id differs from the requested
// one or when this gateway does not serve the recipient network.
func (s *Stage0Server) NewSessionResponse(ctx context.Context, req *satp.NewSessionRequest, session *satp.Session,
) (*satp.NewSessionResponse, error) {
	tag := s.tag("NewSessionResponse")
	st := s.begin(ctx, "newSessionResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	status := satp.StatusAccepted

	if sd.ID != req.SessionID || !s.serves(req.RecipientGatewayNetworkID) {
		status = satp.StatusRejected

		if err = session.MarkState(s.role, satp.StateRejected); err != nil {
			return nil, st.fail(err)
		}
	}

	m := &satp.NewSessionResponse{
		SessionID:                 sd.ID,
		ContextID:                 sd.TransferContextID,
		MessageType:               satp.MsgNewSessionResponse,
		Status:                    status,
		SenderGatewayNetworkID:    sd.SenderGatewayNetworkID,
		RecipientGatewayNetworkID: sd.RecipientGatewayNetworkID,
		ServerGatewayPubkey:       sd.ServerGatewayPubkey,
		HashPreviousMessage:       satp.GetMessageHash(sd, satp.MsgNewSessionRequest),
		ServerTransferNumber:      sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, nil); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// NewSessionErrorResponse builds the signed error response of a failed NEW_SESSION_REQUEST.
func (s *Stage0Server) NewSessionErrorResponse(err error, sessionID string) *satp.NewSessionResponse {
	c := errorCommon(satp.MsgNewSessionResponse, err, sessionID)
	m := &satp.NewSessionResponse{
		SessionID:           c.SessionID,
		MessageType:         c.MessageType,
		Status:              satp.StatusRejected,
		ServerGatewayPubkey: s.pubkey(),
		Error:               true,
		ErrorCode:           c.ErrorCode,
	}

	s.signedError(s.tag("NewSessionErrorResponse"), m)

	return m
}

// CheckPreSATPTransferRequest validates the PRE_SATP_TRANSFER_REQUEST and keeps the assets and the sender wrap claim.
func (s *Stage0Server) CheckPreSATPTransferRequest(ctx context.Context, req *satp.PreSATPTransferRequest,
	session *satp.Session,
) error {
	tag := s.tag("CheckPreSATPTransferRequest")
	st := s.begin(ctx, "checkPreSATPTransferRequest", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return st.fail(err)
	}

	switch {
	case sd.State == satp.StateRejected:
		err = satp.NewError(tag, satp.KindSessionRejected, "", nil)
	case req.SessionID != sd.ID:
		err = satp.Errorf(tag, satp.KindSessionID, "got %q, want %q", req.SessionID, sd.ID)
	case req.SenderGatewayNetworkID == "":
		err = satp.Errorf(tag, satp.KindGatewayNetworkID, "senderGatewayNetworkId")
	case req.SenderAsset == nil:
		err = satp.Errorf(tag, satp.KindAssetMissing, "senderAsset")
	case req.ReceiverAsset == nil:
		err = satp.Errorf(tag, satp.KindAssetMissing, "receiverAsset")
	case req.MessageType != satp.MsgPreSATPTransferRequest:
		err = satp.Errorf(tag, satp.KindMessageType, "%s", req.MessageType)
	case req.HashPreviousMessage != satp.GetMessageHash(sd, satp.MsgNewSessionResponse):
		err = satp.Errorf(tag, satp.KindHash, "%s", satp.MsgNewSessionResponse)
	default:
		err = signatureVerifier(tag, req, sd.ClientGatewayPubkey)
	}

	if err == nil && req.WrapAssertionClaim == nil {
		err = satp.NewError(tag, satp.KindWrapAssertionClaim, "", nil)
	}

	if err != nil {
		return st.fail(err)
	}

	st.exec()

	sender, receiver := *req.SenderAsset, *req.ReceiverAsset

	sd.SenderGatewayNetworkID = req.SenderGatewayNetworkID
	sd.SenderAsset = &sender
	sd.ReceiverAsset = &receiver
	sd.WrapAssertionClaim = req.WrapAssertionClaim

	if req.ClientTransferNumber != "" {
		sd.ClientTransferNumber = req.ClientTransferNumber
	}

	if err = accept(tag, sd, req, nil); err != nil {
		return st.fail(err)
	}

	st.done()

	return nil
}

// WrapToken registers the receiver asset on the recipient network with no balance: the amount arrives by mint in
// stage 3.
func (s *Stage0Server) WrapToken(ctx context.Context, session *satp.Session) error {
	tag := s.tag("WrapToken")
	st := s.begin(ctx, "wrapToken", session)

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

	asset := *sd.ReceiverAsset
	asset.Amount = ""

	claim, err := el.WrapAsset(st.ctx, asset)
	if err != nil {
		return st.fail(satp.NewError(tag, satp.KindWrapAssertionClaim, "", err))
	}

	sd.ReceiverWrapAssertionClaim = claim

	st.done()

	return nil
}

// PreSATPTransferResponse builds the PRE_SATP_TRANSFER_RESPONSE.
func (s *Stage0Server) PreSATPTransferResponse(ctx context.Context, session *satp.Session,
) (*satp.PreSATPTransferResponse, error) {
	tag := s.tag("PreSATPTransferResponse")
	st := s.begin(ctx, "preSATPTransferResponse", session)

	sd, err := sessionData(tag, session, s.role)
	if err != nil {
		return nil, st.fail(err)
	}

	switch {
	case sd.ReceiverAsset == nil:
		err = satp.Errorf(tag, satp.KindAssetMissing, "receiverAsset")
	case sd.ReceiverWrapAssertionClaim == nil:
		err = satp.NewError(tag, satp.KindWrapAssertionClaim, "", nil)
	}

	if err != nil {
		return nil, st.fail(err)
	}

	st.exec()

	m := &satp.PreSATPTransferResponse{
		SessionID:                 sd.ID,
		ContextID:                 sd.TransferContextID,
		MessageType:               satp.MsgPreSATPTransferResponse,
		HashPreviousMessage:       satp.GetMessageHash(sd, satp.MsgPreSATPTransferRequest),
		RecipientGatewayNetworkID: sd.RecipientGatewayNetworkID,
		RecipientTokenID:          sd.ReceiverAsset.TokenID,
		WrapAssertionClaim:        sd.ReceiverWrapAssertionClaim,
		ServerTransferNumber:      sd.ServerTransferNumber,
	}

	if err = s.emit(tag, sd, m, nil); err != nil {
		return nil, st.fail(err)
	}

	st.done()

	return m, nil
}

// PreSATPTransferErrorResponse builds the signed error response of a failed PRE_SATP_TRANSFER_REQUEST.
func (s *Stage0Server) PreSATPTransferErrorResponse(err error, sessionID string) *satp.PreSATPTransferResponse {
	c := errorCommon(satp.MsgPreSATPTransferResponse, err, sessionID)
	m := &satp.PreSATPTransferResponse{
		SessionID:   c.SessionID,
		MessageType: c.MessageType,
		Error:       true,
		ErrorCode:   c.ErrorCode,
	}

	s.signedError(s.tag("PreSATPTransferErrorResponse"), m)

	return m
}

// checkAsset requires an asset with a token id and an amount.
func checkAsset(tag string, a *satp.Asset) error {
	switch {
	case a == nil:
		return satp.NewError(tag, satp.KindAssetMissing, "", nil)
	case a.TokenID == "":
		return satp.NewError(tag, satp.KindTokenIDMissing, "", nil)
	case a.Amount == "":
		return satp.NewError(tag, satp.KindAmountMissing, "", nil)
	}

	return nil
}
