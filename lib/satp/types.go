// Package satp defines the Secure Asset Transfer Protocol data model: message envelopes, per-stage messages, session
// data and the helpers that keep a session's hash chain, signatures and timestamps.
package satp

import (
	"fmt"
)

// SATPVersion is the protocol version every message and session must carry.
const SATPVersion = "v02"

// enum is the text representation shared by the integer enums of this package.
type enum struct {
	kind  string
	names []string
}

func (e enum) name(v int) string {
	if v < 0 || v >= len(e.names) {
		return fmt.Sprintf("%s(%d)", e.kind, v)
	}

	return e.names[v]
}

func (e enum) parse(s string) (int, error) {
	for i, n := range e.names {
		if n == s {
			return i, nil
		}
	}

	return 0, fmt.Errorf("unknown %s %q", e.kind, s)
}

// MessageType identifies each SATP message.
type MessageType int

// Message types. Stage 0 types are kept after the core ones so the numbering of stages 1-3 is stable.
const (
	MsgUnspecified MessageType = iota
	MsgInitProposal
	MsgInitReceipt
	MsgInitReject
	MsgTransferCommenceRequest
	MsgTransferCommenceResponse
	MsgLockAssert
	MsgAssertionReceipt
	MsgCommitPrepare
	MsgCommitReady
	MsgCommitFinal
	MsgAckCommitFinal
	MsgCommitTransferComplete
	MsgCommitTransferCompleteResponse
	MsgNewSessionRequest
	MsgNewSessionResponse
	MsgPreSATPTransferRequest
	MsgPreSATPTransferResponse
)

var messageTypes = enum{"MessageType", []string{
	"UNSPECIFIED",
	"INIT_PROPOSAL",
	"INIT_RECEIPT",
	"INIT_REJECT",
	"TRANSFER_COMMENCE_REQUEST",
	"TRANSFER_COMMENCE_RESPONSE",
	"LOCK_ASSERT",
	"ASSERTION_RECEIPT",
	"COMMIT_PREPARE",
	"COMMIT_READY",
	"COMMIT_FINAL",
	"ACK_COMMIT_FINAL",
	"COMMIT_TRANSFER_COMPLETE",
	"COMMIT_TRANSFER_COMPLETE_RESPONSE",
	"NEW_SESSION_REQUEST",
	"NEW_SESSION_RESPONSE",
	"PRE_SATP_TRANSFER_REQUEST",
	"PRE_SATP_TRANSFER_RESPONSE",
}}

func (t MessageType) String() string { return messageTypes.name(int(t)) }

func (t MessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MessageType) UnmarshalText(b []byte) error {
	v, err := messageTypes.parse(string(b))
	*t = MessageType(v)

	return err
}

// Stage returns the SATP stage the message type belongs to.
func (t MessageType) Stage() Stage {
	switch t {
	case MsgNewSessionRequest, MsgNewSessionResponse, MsgPreSATPTransferRequest, MsgPreSATPTransferResponse:
		return Stage0
	case MsgInitProposal, MsgInitReceipt, MsgInitReject, MsgTransferCommenceRequest, MsgTransferCommenceResponse:
		return Stage1
	case MsgLockAssert, MsgAssertionReceipt:
		return Stage2
	case MsgCommitPrepare, MsgCommitReady, MsgCommitFinal, MsgAckCommitFinal, MsgCommitTransferComplete,
		MsgCommitTransferCompleteResponse:
		return Stage3
	}

	return StageUnspecified
}

// Stage is one of the four protocol phases.
type Stage int

const (
	Stage0 Stage = iota
	Stage1
	Stage2
	Stage3
	StageUnspecified
)

var stages = enum{"Stage", []string{"SATP_STAGE_0", "SATP_STAGE_1", "SATP_STAGE_2", "SATP_STAGE_3",
	"SATP_STAGE_UNSPECIFIED"}}

func (s Stage) String() string { return stages.name(int(s)) }

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := stages.parse(string(b))
	*s = Stage(v)

	return err
}

// State of a session.
type State int

const (
	StateUnspecified State = iota
	StateOngoing
	StateCompleted
	StateRejected
)

var states = enum{"State", []string{"UNSPECIFIED", "ONGOING", "COMPLETED", "REJECTED"}}

func (s State) String() string { return states.name(int(s)) }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := states.parse(string(b))
	*s = State(v)

	return err
}

// Role is the side a gateway plays in a session.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleServer Role = "SERVER"
)

// SignatureAlgorithm negotiated in the network capabilities.
type SignatureAlgorithm int

const (
	SignatureAlgorithmUnspecified SignatureAlgorithm = iota
	SignatureAlgorithmRSA
	SignatureAlgorithmECDSA
)

var signatureAlgorithms = enum{"SignatureAlgorithm", []string{"UNSPECIFIED", "RSA", "ECDSA"}}

func (a SignatureAlgorithm) String() string { return signatureAlgorithms.name(int(a)) }

func (a SignatureAlgorithm) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *SignatureAlgorithm) UnmarshalText(b []byte) error {
	v, err := signatureAlgorithms.parse(string(b))
	*a = SignatureAlgorithm(v)

	return err
}

// LockType used by the sender gateway to escrow the asset.
type LockType int

const (
	LockTypeUnspecified LockType = iota
	LockTypeFaucet
	LockTypeTimelock
	LockTypeHashlock
	LockTypeHashTimelock
	LockTypeMultiClaimPC
	LockTypeDestroy
	LockTypeBurn
)

var lockTypes = enum{"LockType", []string{"UNSPECIFIED", "FAUCET", "TIMELOCK", "HASHLOCK", "HASHTIMELOCK",
	"MULTICLAIMPC", "DESTROY", "BURN"}}

func (l LockType) String() string { return lockTypes.name(int(l)) }

func (l LockType) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *LockType) UnmarshalText(b []byte) error {
	v, err := lockTypes.parse(string(b))
	*l = LockType(v)

	return err
}

// CredentialProfile negotiated in the network capabilities.
type CredentialProfile int

const (
	CredentialProfileUnspecified CredentialProfile = iota
	CredentialProfileSAML
	CredentialProfileOAuth
	CredentialProfileX509
)

var credentialProfiles = enum{"CredentialProfile", []string{"UNSPECIFIED", "SAML", "OAUTH", "X509"}}

func (c CredentialProfile) String() string { return credentialProfiles.name(int(c)) }

func (c CredentialProfile) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *CredentialProfile) UnmarshalText(b []byte) error {
	v, err := credentialProfiles.parse(string(b))
	*c = CredentialProfile(v)

	return err
}

// ClaimFormat of the assertion claims exchanged in stages 2 and 3.
type ClaimFormat int

const (
	ClaimFormatDefault ClaimFormat = iota
	ClaimFormatBungee
)

var claimFormats = enum{"ClaimFormat", []string{"DEFAULT", "BUNGEE"}}

func (c ClaimFormat) String() string { return claimFormats.name(int(c)) }

func (c ClaimFormat) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClaimFormat) UnmarshalText(b []byte) error {
	v, err := claimFormats.parse(string(b))
	*c = ClaimFormat(v)

	return err
}

// LedgerType of a network served by a bridge leaf.
type LedgerType string

const (
	LedgerEthereum LedgerType = "ETHEREUM"
	LedgerBesu1    LedgerType = "BESU_1X"
	LedgerBesu2    LedgerType = "BESU_2X"
	LedgerFabric2  LedgerType = "FABRIC_2"
	LedgerMemory   LedgerType = "MEMORY"
)

// TokenType of a bridged asset.
type TokenType string

const (
	TokenFungible    TokenType = "NONSTANDARD_FUNGIBLE"
	TokenNonFungible TokenType = "NONSTANDARD_NONFUNGIBLE"
	TokenERC20       TokenType = "ERC20"
	TokenERC721      TokenType = "ERC721"
)

// NetworkID identifies a ledger and resolves a bridge leaf.
type NetworkID struct {
	ID         string     `json:"id" yaml:"id"`
	LedgerType LedgerType `json:"ledgerType" yaml:"ledgerType"`
}

// Key is the registry key of the network.
func (n NetworkID) Key() string {
	return n.ID + "/" + string(n.LedgerType)
}

func (n NetworkID) String() string { return n.Key() }

// Asset is a token held on one network.
type Asset struct {
	TokenID         string    `json:"tokenId"`
	TokenType       TokenType `json:"tokenType"`
	Owner           string    `json:"owner"`
	Amount          string    `json:"amount,omitempty"`
	ContractName    string    `json:"contractName,omitempty"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	ReferenceID     string    `json:"referenceId,omitempty"`
	NetworkID       NetworkID `json:"networkId"`
}

// AssertionClaim is the ledger evidence of a custody operation (wrap, lock, mint, burn or assign).
type AssertionClaim struct {
	Receipt   string `json:"receipt"`
	Proof     string `json:"proof,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// TransferClaims are the stage 1 transfer initialization claims.
type TransferClaims struct {
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
}

// NetworkCapabilities are the stage 1 capabilities proposed by the client gateway.
type NetworkCapabilities struct {
	SenderGatewayNetworkID string             `json:"senderGatewayNetworkId"`
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
}
