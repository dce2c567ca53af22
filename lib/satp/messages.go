package satp

// CommonSatp is the envelope carried by every stage 1-3 message.
type CommonSatp struct {
	Version             string      `json:"version,omitempty"`
	MessageType         MessageType `json:"messageType"`
	SessionID           string      `json:"sessionId,omitempty"`
	SequenceNumber      uint64      `json:"sequenceNumber,omitempty"`
	ResourceURL         string      `json:"resourceUrl,omitempty"`
	ClientGatewayPubkey string      `json:"clientGatewayPubkey,omitempty"`
	ServerGatewayPubkey string      `json:"serverGatewayPubkey,omitempty"`
	HashPreviousMessage string      `json:"hashPreviousMessage,omitempty"`
	TransferContextID   string      `json:"transferContextId,omitempty"`
	Error               bool        `json:"error,omitempty"`
	ErrorCode           int         `json:"errorCode,omitempty"`
}

// Message is implemented by every SATP message.
type Message interface {
	Type() MessageType
	// Failure reports whether the message is an error response and its code.
	Failure() (bool, int)
}

// Stage 0.

// Status of a new session response.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// NewSessionRequest opens a session with the server gateway.
type NewSessionRequest struct {
	SessionID                 string      `json:"sessionId"`
	ContextID                 string      `json:"contextId"`
	MessageType               MessageType `json:"messageType"`
	SenderGatewayNetworkID    string      `json:"senderGatewayNetworkId"`
	RecipientGatewayNetworkID string      `json:"recipientGatewayNetworkId"`
	ClientGatewayPubkey       string      `json:"clientGatewayPubkey"`
	HashPreviousMessage       string      `json:"hashPreviousMessage,omitempty"`
	ClientTransferNumber      string      `json:"clientTransferNumber,omitempty"`
	ClientSignature           string      `json:"clientSignature,omitempty"`
}

// NewSessionResponse accepts or rejects a new session.
type NewSessionResponse struct {
	SessionID                 string      `json:"sessionId,omitempty"`
	ContextID                 string      `json:"contextId,omitempty"`
	MessageType               MessageType `json:"messageType"`
	Status                    Status      `json:"status,omitempty"`
	SenderGatewayNetworkID    string      `json:"senderGatewayNetworkId,omitempty"`
	RecipientGatewayNetworkID string      `json:"recipientGatewayNetworkId,omitempty"`
	ServerGatewayPubkey       string      `json:"serverGatewayPubkey,omitempty"`
	HashPreviousMessage       string      `json:"hashPreviousMessage,omitempty"`
	ServerTransferNumber      string      `json:"serverTransferNumber,omitempty"`
	Error                     bool        `json:"error,omitempty"`
	ErrorCode                 int         `json:"errorCode,omitempty"`
	ServerSignature           string      `json:"serverSignature,omitempty"`
}

// PreSATPTransferRequest carries the wrapped sender asset and the receiver asset description.
type PreSATPTransferRequest struct {
	SessionID                 string          `json:"sessionId"`
	ContextID                 string          `json:"contextId"`
	MessageType               MessageType     `json:"messageType"`
	SenderGatewayNetworkID    string          `json:"senderGatewayNetworkId"`
	RecipientGatewayNetworkID string          `json:"recipientGatewayNetworkId"`
	SenderAsset               *Asset          `json:"senderAsset,omitempty"`
	ReceiverAsset             *Asset          `json:"receiverAsset,omitempty"`
	WrapAssertionClaim        *AssertionClaim `json:"wrapAssertionClaim,omitempty"`
	HashPreviousMessage       string          `json:"hashPreviousMessage"`
	ClientTransferNumber      string          `json:"clientTransferNumber,omitempty"`
	ClientSignature           string          `json:"clientSignature,omitempty"`
}

// PreSATPTransferResponse returns the token wrapped by the server gateway.
type PreSATPTransferResponse struct {
	SessionID                 string          `json:"sessionId,omitempty"`
	ContextID                 string          `json:"contextId,omitempty"`
	MessageType               MessageType     `json:"messageType"`
	HashPreviousMessage       string          `json:"hashPreviousMessage,omitempty"`
	RecipientGatewayNetworkID string          `json:"recipientGatewayNetworkId,omitempty"`
	RecipientTokenID          string          `json:"recipientTokenId,omitempty"`
	WrapAssertionClaim        *AssertionClaim `json:"wrapAssertionClaim,omitempty"`
	ServerTransferNumber      string          `json:"serverTransferNumber,omitempty"`
	Error                     bool            `json:"error,omitempty"`
	ErrorCode                 int             `json:"errorCode,omitempty"`
	ServerSignature           string          `json:"serverSignature,omitempty"`
}

// Stage 1.

// TransferProposalRequest is the INIT_PROPOSAL message.
type TransferProposalRequest struct {
	Common                   *CommonSatp          `json:"common"`
	TransferInitClaims       *TransferClaims      `json:"transferInitClaims,omitempty"`
	NetworkCapabilities      *NetworkCapabilities `json:"networkCapabilities,omitempty"`
	TransferInitClaimsFormat ClaimFormat          `json:"transferInitClaimsFormat"`
	MultipleClaimsAllowed    bool                 `json:"multipleClaimsAllowed,omitempty"`
	MultipleCancelsAllowed   bool                 `json:"multipleCancelsAllowed,omitempty"`
	ClientSignature          string               `json:"clientSignature,omitempty"`
}

// TransferProposalResponse is the INIT_RECEIPT or INIT_REJECT message.
type TransferProposalResponse struct {
	Common                 *CommonSatp `json:"common"`
	HashTransferInitClaims string      `json:"hashTransferInitClaims,omitempty"`
	Timestamp              string      `json:"timestamp,omitempty"`
	ServerSignature        string      `json:"serverSignature,omitempty"`
}

// TransferCommenceRequest is the TRANSFER_COMMENCE_REQUEST message.
type TransferCommenceRequest struct {
	Common                 *CommonSatp `json:"common"`
	HashTransferInitClaims string      `json:"hashTransferInitClaims"`
	ClientTransferNumber   string      `json:"clientTransferNumber,omitempty"`
	ClientSignature        string      `json:"clientSignature,omitempty"`
}

// TransferCommenceResponse is the TRANSFER_COMMENCE_RESPONSE message.
type TransferCommenceResponse struct {
	Common               *CommonSatp `json:"common"`
	ServerTransferNumber string      `json:"serverTransferNumber,omitempty"`
	ServerSignature      string      `json:"serverSignature,omitempty"`
}

// Stage 2.

// LockAssertionRequest is the LOCK_ASSERT message.
type LockAssertionRequest struct {
	Common                   *CommonSatp     `json:"common"`
	LockAssertionClaim       *AssertionClaim `json:"lockAssertionClaim,omitempty"`
	LockAssertionClaimFormat ClaimFormat     `json:"lockAssertionClaimFormat"`
	LockAssertionExpiration  uint64          `json:"lockAssertionExpiration"`
	ClientTransferNumber     string          `json:"clientTransferNumber,omitempty"`
	ClientSignature          string          `json:"clientSignature,omitempty"`
}

// LockAssertionReceipt is the ASSERTION_RECEIPT message.
type LockAssertionReceipt struct {
	Common               *CommonSatp `json:"common"`
	ServerTransferNumber string      `json:"serverTransferNumber,omitempty"`
	ServerSignature      string      `json:"serverSignature,omitempty"`
}

// Stage 3.

// CommitPreparationRequest is the COMMIT_PREPARE message.
type CommitPreparationRequest struct {
	Common               *CommonSatp `json:"common"`
	ClientTransferNumber string      `json:"clientTransferNumber,omitempty"`
	ClientSignature      string      `json:"clientSignature,omitempty"`
}

// CommitReadyResponse is the COMMIT_READY message.
type CommitReadyResponse struct {
	Common                   *CommonSatp     `json:"common"`
	MintAssertionClaim       *AssertionClaim `json:"mintAssertionClaim,omitempty"`
	MintAssertionClaimFormat ClaimFormat     `json:"mintAssertionClaimFormat"`
	ServerTransferNumber     string          `json:"serverTransferNumber,omitempty"`
	ServerSignature          string          `json:"serverSignature,omitempty"`
}

// CommitFinalAssertionRequest is the COMMIT_FINAL message.
type CommitFinalAssertionRequest struct {
	Common                   *CommonSatp     `json:"common"`
	BurnAssertionClaim       *AssertionClaim `json:"burnAssertionClaim,omitempty"`
	BurnAssertionClaimFormat ClaimFormat     `json:"burnAssertionClaimFormat"`
	ClientTransferNumber     string          `json:"clientTransferNumber,omitempty"`
	ClientSignature          string          `json:"clientSignature,omitempty"`
}

// CommitFinalAcknowledgementReceiptResponse is the ACK_COMMIT_FINAL message.
type CommitFinalAcknowledgementReceiptResponse struct {
	Common                         *CommonSatp     `json:"common"`
	AssignmentAssertionClaim       *AssertionClaim `json:"assignmentAssertionClaim,omitempty"`
	AssignmentAssertionClaimFormat ClaimFormat     `json:"assignmentAssertionClaimFormat"`
	ServerTransferNumber           string          `json:"serverTransferNumber,omitempty"`
	ServerSignature                string          `json:"serverSignature,omitempty"`
}

// TransferCompleteRequest is the COMMIT_TRANSFER_COMPLETE message.
type TransferCompleteRequest struct {
	Common               *CommonSatp `json:"common"`
	HashTransferCommence string      `json:"hashTransferCommence,omitempty"`
	ClientTransferNumber string      `json:"clientTransferNumber,omitempty"`
	ClientSignature      string      `json:"clientSignature,omitempty"`
}

// TransferCompleteResponse is the COMMIT_TRANSFER_COMPLETE_RESPONSE message.
type TransferCompleteResponse struct {
	Common               *CommonSatp `json:"common"`
	ServerTransferNumber string      `json:"serverTransferNumber,omitempty"`
	ServerSignature      string      `json:"serverSignature,omitempty"`
}

func (m *NewSessionRequest) Type() MessageType        { return m.MessageType }
func (m *NewSessionResponse) Type() MessageType       { return m.MessageType }
func (m *PreSATPTransferRequest) Type() MessageType   { return m.MessageType }
func (m *PreSATPTransferResponse) Type() MessageType  { return m.MessageType }
func (m *TransferProposalRequest) Type() MessageType  { return commonType(m.Common) }
func (m *TransferProposalResponse) Type() MessageType { return commonType(m.Common) }
func (m *TransferCommenceRequest) Type() MessageType  { return commonType(m.Common) }
func (m *TransferCommenceResponse) Type() MessageType { return commonType(m.Common) }
func (m *LockAssertionRequest) Type() MessageType     { return commonType(m.Common) }
func (m *LockAssertionReceipt) Type() MessageType     { return commonType(m.Common) }
func (m *CommitPreparationRequest) Type() MessageType { return commonType(m.Common) }
func (m *CommitReadyResponse) Type() MessageType      { return commonType(m.Common) }
func (m *CommitFinalAssertionRequest) Type() MessageType {
	return commonType(m.Common)
}
func (m *CommitFinalAcknowledgementReceiptResponse) Type() MessageType {
	return commonType(m.Common)
}
func (m *TransferCompleteRequest) Type() MessageType  { return commonType(m.Common) }
func (m *TransferCompleteResponse) Type() MessageType { return commonType(m.Common) }

func (m *NewSessionRequest) Failure() (bool, int)        { return false, 0 }
func (m *NewSessionResponse) Failure() (bool, int)       { return m.Error, m.ErrorCode }
func (m *PreSATPTransferRequest) Failure() (bool, int)   { return false, 0 }
func (m *PreSATPTransferResponse) Failure() (bool, int)  { return m.Error, m.ErrorCode }
func (m *TransferProposalRequest) Failure() (bool, int)  { return commonFailure(m.Common) }
func (m *TransferProposalResponse) Failure() (bool, int) { return commonFailure(m.Common) }
func (m *TransferCommenceRequest) Failure() (bool, int)  { return commonFailure(m.Common) }
func (m *TransferCommenceResponse) Failure() (bool, int) { return commonFailure(m.Common) }
func (m *LockAssertionRequest) Failure() (bool, int)     { return commonFailure(m.Common) }
func (m *LockAssertionReceipt) Failure() (bool, int)     { return commonFailure(m.Common) }
func (m *CommitPreparationRequest) Failure() (bool, int) { return commonFailure(m.Common) }
func (m *CommitReadyResponse) Failure() (bool, int)      { return commonFailure(m.Common) }
func (m *CommitFinalAssertionRequest) Failure() (bool, int) {
	return commonFailure(m.Common)
}
func (m *CommitFinalAcknowledgementReceiptResponse) Failure() (bool, int) {
	return commonFailure(m.Common)
}
func (m *TransferCompleteRequest) Failure() (bool, int)  { return commonFailure(m.Common) }
func (m *TransferCompleteResponse) Failure() (bool, int) { return commonFailure(m.Common) }

func commonType(c *CommonSatp) MessageType {
	if c == nil {
		return MsgUnspecified
	}

	return c.MessageType
}

func commonFailure(c *CommonSatp) (bool, int) {
	if c == nil {
		return false, 0
	}

	return c.Error, c.ErrorCode
}

// Signed is a message carrying the signature of its sender.
type Signed interface {
	Message
	// SignatureField returns the client or server signature slot of the message.
	SignatureField() *string
}

func (m *NewSessionRequest) SignatureField() *string        { return &m.ClientSignature }
func (m *NewSessionResponse) SignatureField() *string       { return &m.ServerSignature }
func (m *PreSATPTransferRequest) SignatureField() *string   { return &m.ClientSignature }
func (m *PreSATPTransferResponse) SignatureField() *string  { return &m.ServerSignature }
func (m *TransferProposalRequest) SignatureField() *string  { return &m.ClientSignature }
func (m *TransferProposalResponse) SignatureField() *string { return &m.ServerSignature }
func (m *TransferCommenceRequest) SignatureField() *string  { return &m.ClientSignature }
func (m *TransferCommenceResponse) SignatureField() *string { return &m.ServerSignature }
func (m *LockAssertionRequest) SignatureField() *string     { return &m.ClientSignature }
func (m *LockAssertionReceipt) SignatureField() *string     { return &m.ServerSignature }
func (m *CommitPreparationRequest) SignatureField() *string { return &m.ClientSignature }
func (m *CommitReadyResponse) SignatureField() *string      { return &m.ServerSignature }
func (m *CommitFinalAssertionRequest) SignatureField() *string {
	return &m.ClientSignature
}
func (m *CommitFinalAcknowledgementReceiptResponse) SignatureField() *string {
	return &m.ServerSignature
}
func (m *TransferCompleteRequest) SignatureField() *string  { return &m.ClientSignature }
func (m *TransferCompleteResponse) SignatureField() *string { return &m.ServerSignature }
