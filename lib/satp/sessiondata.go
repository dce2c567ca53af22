package satp

import (
	"encoding/json"
)

// Stage0Record holds one value per stage 0 message.
type Stage0Record[T any] struct {
	NewSessionRequestMessage       T `json:"newSessionRequestMessage"`
	NewSessionResponseMessage      T `json:"newSessionResponseMessage"`
	PreSatpTransferRequestMessage  T `json:"preSatpTransferRequestMessage"`
	PreSatpTransferResponseMessage T `json:"preSatpTransferResponseMessage"`
}

// Stage1Record holds one value per stage 1 message.
type Stage1Record[T any] struct {
	TransferProposalRequestMessage  T `json:"transferProposalRequestMessage"`
	TransferProposalReceiptMessage  T `json:"transferProposalReceiptMessage"`
	TransferProposalRejectMessage   T `json:"transferProposalRejectMessage"`
	TransferCommenceRequestMessage  T `json:"transferCommenceRequestMessage"`
	TransferCommenceResponseMessage T `json:"transferCommenceResponseMessage"`
}

// Stage2Record holds one value per stage 2 message.
type Stage2Record[T any] struct {
	LockAssertionRequestMessage T `json:"lockAssertionRequestMessage"`
	LockAssertionReceiptMessage T `json:"lockAssertionReceiptMessage"`
}

// Stage3Record holds one value per stage 3 message.
type Stage3Record[T any] struct {
	CommitPreparationRequestMessage                  T `json:"commitPreparationRequestMessage"`
	CommitReadyResponseMessage                       T `json:"commitReadyResponseMessage"`
	CommitFinalAssertionRequestMessage               T `json:"commitFinalAssertionRequestMessage"`
	CommitFinalAcknowledgementReceiptResponseMessage T `json:"commitFinalAcknowledgementReceiptResponseMessage"`
	TransferCompleteMessage                          T `json:"transferCompleteMessage"`
	TransferCompleteResponseMessage                  T `json:"transferCompleteResponseMessage"`
}

// MessageStages groups the per-stage records of one kind (hashes, signatures, timestamps or messages).
type MessageStages[T any] struct {
	Stage0 *Stage0Record[T] `json:"stage0"`
	Stage1 *Stage1Record[T] `json:"stage1"`
	Stage2 *Stage2Record[T] `json:"stage2"`
	Stage3 *Stage3Record[T] `json:"stage3"`
}

func newMessageStages[T any]() *MessageStages[T] {
	return &MessageStages[T]{
		Stage0: &Stage0Record[T]{},
		Stage1: &Stage1Record[T]{},
		Stage2: &Stage2Record[T]{},
		Stage3: &Stage3Record[T]{},
	}
}

// Field returns the slot of the message type, or nil when the type has none or the stage record is missing.
func (m *MessageStages[T]) Field(t MessageType) *T {
	if m == nil {
		return nil
	}

	switch t.Stage() {
	case Stage0:
		if m.Stage0 == nil {
			return nil
		}
	case Stage1:
		if m.Stage1 == nil {
			return nil
		}
	case Stage2:
		if m.Stage2 == nil {
			return nil
		}
	case Stage3:
		if m.Stage3 == nil {
			return nil
		}
	default:
		return nil
	}

	switch t {
	case MsgNewSessionRequest:
		return &m.Stage0.NewSessionRequestMessage
	case MsgNewSessionResponse:
		return &m.Stage0.NewSessionResponseMessage
	case MsgPreSATPTransferRequest:
		return &m.Stage0.PreSatpTransferRequestMessage
	case MsgPreSATPTransferResponse:
		return &m.Stage0.PreSatpTransferResponseMessage
	case MsgInitProposal:
		return &m.Stage1.TransferProposalRequestMessage
	case MsgInitReceipt:
		return &m.Stage1.TransferProposalReceiptMessage
	case MsgInitReject:
		return &m.Stage1.TransferProposalRejectMessage
	case MsgTransferCommenceRequest:
		return &m.Stage1.TransferCommenceRequestMessage
	case MsgTransferCommenceResponse:
		return &m.Stage1.TransferCommenceResponseMessage
	case MsgLockAssert:
		return &m.Stage2.LockAssertionRequestMessage
	case MsgAssertionReceipt:
		return &m.Stage2.LockAssertionReceiptMessage
	case MsgCommitPrepare:
		return &m.Stage3.CommitPreparationRequestMessage
	case MsgCommitReady:
		return &m.Stage3.CommitReadyResponseMessage
	case MsgCommitFinal:
		return &m.Stage3.CommitFinalAssertionRequestMessage
	case MsgAckCommitFinal:
		return &m.Stage3.CommitFinalAcknowledgementReceiptResponseMessage
	case MsgCommitTransferComplete:
		return &m.Stage3.TransferCompleteMessage
	case MsgCommitTransferCompleteResponse:
		return &m.Stage3.TransferCompleteResponseMessage
	}

	return nil
}

// SessionData is the state one gateway keeps for one role of one transfer.
type SessionData struct {
	ID                 string `json:"id"`
	Version            string `json:"version"`
	Role               Role   `json:"role"`
	TransferContextID  string `json:"transferContextId"`
	State              State  `json:"state"`
	LastSequenceNumber uint64 `json:"lastSequenceNumber"`
	ResourceURL        string `json:"resourceUrl"`

	DigitalAssetID              string `json:"digitalAssetId"`
	AssetProfileID              string `json:"assetProfileId,omitempty"`
	VerifiedOriginatorEntityID  string `json:"verifiedOriginatorEntityId"`
	VerifiedBeneficiaryEntityID string `json:"verifiedBeneficiaryEntityId"`
	OriginatorPubkey            string `json:"originatorPubkey,omitempty"`
	BeneficiaryPubkey           string `json:"beneficiaryPubkey,omitempty"`
	SenderGatewayNetworkID      string `json:"senderGatewayNetworkId"`
	RecipientGatewayNetworkID   string `json:"recipientGatewayNetworkId"`
	ClientGatewayPubkey         string `json:"clientGatewayPubkey"`
	ServerGatewayPubkey         string `json:"serverGatewayPubkey"`
	SenderGatewayOwnerID        string `json:"senderGatewayOwnerId"`
	ReceiverGatewayOwnerID      string `json:"receiverGatewayOwnerId"`

	SignatureAlgorithm     SignatureAlgorithm `json:"signatureAlgorithm"`
	LockType               LockType           `json:"lockType"`
	LockExpirationTime     uint64             `json:"lockExpirationTime"`
	CredentialProfile      CredentialProfile  `json:"credentialProfile"`
	LoggingProfile         string             `json:"loggingProfile"`
	AccessControlProfile   string             `json:"accessControlProfile"`
	Permissions            []string           `json:"permissions,omitempty"`
	DeveloperURN           string             `json:"developerUrn,omitempty"`
	ApplicationProfile     string             `json:"applicationProfile,omitempty"`
	SubsequentCalls        bool               `json:"subsequentCalls,omitempty"`
	History                []string           `json:"history,omitempty"`
	MultipleClaimsAllowed  bool               `json:"multipleClaimsAllowed,omitempty"`
	MultipleCancelsAllowed bool               `json:"multipleCancelsAllowed,omitempty"`
	TransferClaimsFormat   ClaimFormat        `json:"transferClaimsFormat"`

	SenderAsset            *Asset `json:"senderAsset,omitempty"`
	ReceiverAsset          *Asset `json:"receiverAsset,omitempty"`
	HashTransferInitClaims string `json:"hashTransferInitClaims,omitempty"`
	ClientTransferNumber   string `json:"clientTransferNumber,omitempty"`
	ServerTransferNumber   string `json:"serverTransferNumber,omitempty"`

	WrapAssertionClaim             *AssertionClaim `json:"wrapAssertionClaim,omitempty"`
	ReceiverWrapAssertionClaim     *AssertionClaim `json:"receiverWrapAssertionClaim,omitempty"`
	LockAssertionClaim             *AssertionClaim `json:"lockAssertionClaim,omitempty"`
	LockAssertionClaimFormat       ClaimFormat     `json:"lockAssertionClaimFormat"`
	LockAssertionExpiration        uint64          `json:"lockAssertionExpiration,omitempty"`
	MintAssertionClaim             *AssertionClaim `json:"mintAssertionClaim,omitempty"`
	MintAssertionClaimFormat       ClaimFormat     `json:"mintAssertionClaimFormat"`
	BurnAssertionClaim             *AssertionClaim `json:"burnAssertionClaim,omitempty"`
	BurnAssertionClaimFormat       ClaimFormat     `json:"burnAssertionClaimFormat"`
	AssignmentAssertionClaim       *AssertionClaim `json:"assignmentAssertionClaim,omitempty"`
	AssignmentAssertionClaimFormat ClaimFormat     `json:"assignmentAssertionClaimFormat"`

	Hashes              *MessageStages[string]          `json:"hashes"`
	Signatures          *MessageStages[string]          `json:"signatures"`
	ProcessedTimestamps *MessageStages[string]          `json:"processedTimestamps"`
	ReceivedTimestamps  *MessageStages[string]          `json:"receivedTimestamps"`
	SatpMessages        *MessageStages[json.RawMessage] `json:"satpMessages"`

	LastMessageReceivedTimestamp string `json:"lastMessageReceivedTimestamp,omitempty"`
}

// initialize populates every per-stage record with empty defaults and marks the session ONGOING.
func (sd *SessionData) initialize() {
	sd.Hashes = newMessageStages[string]()
	sd.Signatures = newMessageStages[string]()
	sd.ProcessedTimestamps = newMessageStages[string]()
	sd.ReceivedTimestamps = newMessageStages[string]()
	sd.SatpMessages = newMessageStages[json.RawMessage]()
	sd.State = StateOngoing
}

// SenderNetwork returns the network of the sender asset, falling back to the sender gateway network id.
func (sd *SessionData) SenderNetwork() NetworkID {
	if sd.SenderAsset != nil && sd.SenderAsset.NetworkID.ID != "" {
		return sd.SenderAsset.NetworkID
	}

	return NetworkID{ID: sd.SenderGatewayNetworkID}
}

// RecipientNetwork returns the network of the receiver asset, falling back to the recipient gateway network id.
func (sd *SessionData) RecipientNetwork() NetworkID {
	if sd.ReceiverAsset != nil && sd.ReceiverAsset.NetworkID.ID != "" {
		return sd.ReceiverAsset.NetworkID
	}

	return NetworkID{ID: sd.RecipientGatewayNetworkID}
}
