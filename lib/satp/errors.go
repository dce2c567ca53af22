package satp

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies protocol errors so callers can branch on them exhaustively.
type Kind int

// Error kinds. Validation kinds map to 400, the rest to 500.
const (
	KindUnknown Kind = iota
	KindSessionNotFound
	KindSessionID
	KindSessionType
	KindSessionExists
	KindSessionDataNotLoaded
	KindSessionDataNotAvailable
	KindSessionCompleted
	KindSessionRejected
	KindCommonBody
	KindSATPVersion
	KindServerGatewayPubkey
	KindClientGatewayPubkey
	KindSequenceNumber
	KindTransferContextID
	KindResourceURL
	KindMessageType
	KindHash
	KindSignatureMissing
	KindSignatureVerification
	KindSignatureAlgorithm
	KindLockType
	KindLockExpirationTime
	KindCredentialProfile
	KindLoggingProfile
	KindAccessControlProfile
	KindDigitalAssetID
	KindGatewayNetworkID
	KindOwnerID
	KindTransferInitClaims
	KindTransferInitClaimsHash
	KindNetworkCapabilities
	KindDLTNotSupported
	KindWrapAssertionClaim
	KindLockAssertionClaim
	KindLockAssertionExpiration
	KindMintAssertionClaim
	KindBurnAssertionClaim
	KindAssignmentAssertionClaim
	KindAssetMissing
	KindTokenIDMissing
	KindAmountMissing
	KindMissingBridgeManager
	KindFailedToCreateMessage
	KindFailedToProcess
)

var kindText = map[Kind]string{
	KindUnknown:                  "unknown error",
	KindSessionNotFound:          "session not found",
	KindSessionID:                "session id undefined",
	KindSessionType:              "invalid session type",
	KindSessionExists:            "session data already exists",
	KindSessionDataNotLoaded:     "session data not loaded correctly",
	KindSessionDataNotAvailable:  "session data not available",
	KindSessionCompleted:         "session data already completed",
	KindSessionRejected:          "session data already rejected",
	KindCommonBody:               "message satp common body is missing or is missing required fields",
	KindSATPVersion:              "unsupported satp version",
	KindServerGatewayPubkey:      "serverGatewayPubkey missing or missmatch",
	KindClientGatewayPubkey:      "clientGatewayPubkey missing or missmatch",
	KindSequenceNumber:           "sequence number missmatch",
	KindTransferContextID:        "transferContextId missing or missmatch",
	KindResourceURL:              "resourceUrl missing or missmatch",
	KindMessageType:              "message type missmatch",
	KindHash:                     "hash of previous message missmatch",
	KindSignatureMissing:         "message signature missing",
	KindSignatureVerification:    "message signature verification failed",
	KindSignatureAlgorithm:       "signature algorithm is missing",
	KindLockType:                 "lock type missing",
	KindLockExpirationTime:       "lock expiration time missing",
	KindCredentialProfile:        "credential profile missing",
	KindLoggingProfile:           "logging profile missing",
	KindAccessControlProfile:     "access control profile missing",
	KindDigitalAssetID:           "digitalAssetId is missing",
	KindGatewayNetworkID:         "gatewayNetworkId missing or missmatch",
	KindOwnerID:                  "gateway owner id missing",
	KindTransferInitClaims:       "transferInitClaims missing or faulty",
	KindTransferInitClaimsHash:   "transferInitClaims hash missing or missmatch",
	KindNetworkCapabilities:      "networkCapabilities missing or faulty",
	KindDLTNotSupported:          "DLT not supported",
	KindWrapAssertionClaim:       "wrap assertion claim missing or faulty",
	KindLockAssertionClaim:       "lockAssertionClaim missing or faulty",
	KindLockAssertionExpiration:  "lock assertion expiration missing or expired",
	KindMintAssertionClaim:       "mintAssertionClaim missing or faulty",
	KindBurnAssertionClaim:       "burnAssertionClaim missing or faulty",
	KindAssignmentAssertionClaim: "assignmentAssertionClaim missing or faulty",
	KindAssetMissing:             "asset missing",
	KindTokenIDMissing:           "tokenId missing",
	KindAmountMissing:            "amount missing",
	KindMissingBridgeManager:     "bridge manager missing",
	KindFailedToCreateMessage:    "failed to create message",
	KindFailedToProcess:          "failed to process",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Code returns the http compatible status code of the kind.
func (k Kind) Code() int {
	switch k {
	case KindUnknown, KindSessionNotFound, KindSessionID, KindSessionType, KindSessionExists,
		KindSessionDataNotLoaded, KindSessionDataNotAvailable, KindSessionCompleted, KindSessionRejected,
		KindFailedToCreateMessage, KindFailedToProcess:
		return http.StatusInternalServerError
	}

	return http.StatusBadRequest
}

// Error is a protocol error raised by an operation identified by Tag.
type Error struct {
	Tag    string
	Kind   Kind
	Detail string
	Cause  error
}

// NewError returns an error of the given kind for the operation tag.
func NewError(tag string, kind Kind, detail string, cause error) *Error {
	return &Error{Tag: tag, Kind: kind, Detail: detail, Cause: cause}
}

// Errorf returns an error of the given kind with a formatted detail.
func Errorf(tag string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Tag: tag, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Tag != "" {
		msg = e.Tag + ", " + msg
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Code is the http compatible status code sent in error responses.
func (e *Error) Code() int { return e.Kind.Code() }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound          = &Error{Kind: KindSessionNotFound}
	ErrSessionID                = &Error{Kind: KindSessionID}
	ErrSessionType              = &Error{Kind: KindSessionType}
	ErrSessionExists            = &Error{Kind: KindSessionExists}
	ErrSessionDataNotLoaded     = &Error{Kind: KindSessionDataNotLoaded}
	ErrSessionDataNotAvailable  = &Error{Kind: KindSessionDataNotAvailable}
	ErrSessionCompleted         = &Error{Kind: KindSessionCompleted}
	ErrSessionRejected          = &Error{Kind: KindSessionRejected}
	ErrCommonBody               = &Error{Kind: KindCommonBody}
	ErrSATPVersion              = &Error{Kind: KindSATPVersion}
	ErrServerGatewayPubkey      = &Error{Kind: KindServerGatewayPubkey}
	ErrClientGatewayPubkey      = &Error{Kind: KindClientGatewayPubkey}
	ErrSequenceNumber           = &Error{Kind: KindSequenceNumber}
	ErrTransferContextID        = &Error{Kind: KindTransferContextID}
	ErrResourceURL              = &Error{Kind: KindResourceURL}
	ErrMessageType              = &Error{Kind: KindMessageType}
	ErrHash                     = &Error{Kind: KindHash}
	ErrSignatureMissing         = &Error{Kind: KindSignatureMissing}
	ErrSignatureVerification    = &Error{Kind: KindSignatureVerification}
	ErrSignatureAlgorithm       = &Error{Kind: KindSignatureAlgorithm}
	ErrLockType                 = &Error{Kind: KindLockType}
	ErrLockExpirationTime       = &Error{Kind: KindLockExpirationTime}
	ErrCredentialProfile        = &Error{Kind: KindCredentialProfile}
	ErrLoggingProfile           = &Error{Kind: KindLoggingProfile}
	ErrAccessControlProfile     = &Error{Kind: KindAccessControlProfile}
	ErrDigitalAssetID           = &Error{Kind: KindDigitalAssetID}
	ErrGatewayNetworkID         = &Error{Kind: KindGatewayNetworkID}
	ErrOwnerID                  = &Error{Kind: KindOwnerID}
	ErrTransferInitClaims       = &Error{Kind: KindTransferInitClaims}
	ErrTransferInitClaimsHash   = &Error{Kind: KindTransferInitClaimsHash}
	ErrNetworkCapabilities      = &Error{Kind: KindNetworkCapabilities}
	ErrDLTNotSupported          = &Error{Kind: KindDLTNotSupported}
	ErrWrapAssertionClaim       = &Error{Kind: KindWrapAssertionClaim}
	ErrLockAssertionClaim       = &Error{Kind: KindLockAssertionClaim}
	ErrLockAssertionExpiration  = &Error{Kind: KindLockAssertionExpiration}
	ErrMintAssertionClaim       = &Error{Kind: KindMintAssertionClaim}
	ErrBurnAssertionClaim       = &Error{Kind: KindBurnAssertionClaim}
	ErrAssignmentAssertionClaim = &Error{Kind: KindAssignmentAssertionClaim}
	ErrAssetMissing             = &Error{Kind: KindAssetMissing}
	ErrTokenIDMissing           = &Error{Kind: KindTokenIDMissing}
	ErrAmountMissing            = &Error{Kind: KindAmountMissing}
	ErrMissingBridgeManager     = &Error{Kind: KindMissingBridgeManager}
	ErrFailedToCreateMessage    = &Error{Kind: KindFailedToCreateMessage}
	ErrFailedToProcess          = &Error{Kind: KindFailedToProcess}
)

// CodeOf returns the status code of err, 500 when it is not a protocol error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}

	return http.StatusInternalServerError
}
